// Package registry holds the component registry collaborator surface: the
// compiler consults it for defaults, aliases, parameter schemas and secret
// field declarations; the runner resolves step drivers through it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/strata-labs/strata-go/internal/domain"
)

var ErrUnknownComponent = errors.New("unknown component")

// ParamDecl declares one parameter a component accepts.
type ParamDecl struct {
	Name     string
	Type     string // string, int, float, bool, enum
	Enum     []string
	Default  any
	Required bool
}

// ComponentSpec is the registry's view of one component kind.
type ComponentSpec struct {
	Name        string
	Aliases     []string
	Defaults    domain.Metadata
	Params      []ParamDecl
	SecretPaths []string
	Connections []string
}

// MetricSink receives metric observations from a running step.
type MetricSink interface {
	Observe(name string, value float64)
}

// RunContext is the execution context handed to a driver. It exposes only
// what the single step needs; no cross-step configuration leaks through it.
type RunContext struct {
	RunID   string
	Profile string
	Seed    int64
	WorkDir string
	Logger  *slog.Logger
	Metrics MetricSink
}

// Driver is the fixed-signature execution entry point for a component.
// The registry binds a logical component name to exactly one driver;
// nothing is resolved by runtime type inspection.
type Driver interface {
	Run(ctx context.Context, stepID string, config domain.Metadata, inputs map[string]any, rc RunContext) (map[string]any, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, stepID string, config domain.Metadata, inputs map[string]any, rc RunContext) (map[string]any, error)

func (f DriverFunc) Run(ctx context.Context, stepID string, config domain.Metadata, inputs map[string]any, rc RunContext) (map[string]any, error) {
	return f(ctx, stepID, config, inputs, rc)
}

// Registry resolves component names (and aliases) to specs and drivers.
type Registry interface {
	Component(name string) (ComponentSpec, error)
	Driver(name string) (Driver, error)
	Components() []ComponentSpec
}

// InMemory is the standard registry implementation. Tests substitute their
// own Registry fakes; nothing here is a process-wide singleton.
type InMemory struct {
	mu      sync.RWMutex
	specs   map[string]ComponentSpec
	aliases map[string]string
	drivers map[string]Driver
}

func NewInMemory() *InMemory {
	return &InMemory{
		specs:   make(map[string]ComponentSpec),
		aliases: make(map[string]string),
		drivers: make(map[string]Driver),
	}
}

// Register binds a component spec and its driver. Names and aliases must be
// unique across the registry.
func (r *InMemory) Register(spec ComponentSpec, driver Driver) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errors.New("component name is required")
	}
	if driver == nil {
		return fmt.Errorf("component %q requires a driver", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[name]; exists {
		return fmt.Errorf("component %q already registered", name)
	}
	if canonical, exists := r.aliases[name]; exists {
		return fmt.Errorf("component %q collides with alias of %q", name, canonical)
	}
	for _, alias := range spec.Aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" {
			return fmt.Errorf("component %q has an empty alias", name)
		}
		if _, exists := r.specs[alias]; exists {
			return fmt.Errorf("alias %q collides with a component name", alias)
		}
		if _, exists := r.aliases[alias]; exists {
			return fmt.Errorf("alias %q already registered", alias)
		}
	}
	r.specs[name] = spec
	r.drivers[name] = driver
	for _, alias := range spec.Aliases {
		r.aliases[strings.TrimSpace(alias)] = name
	}
	return nil
}

func (r *InMemory) resolve(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if _, ok := r.specs[name]; ok {
		return name, true
	}
	if canonical, ok := r.aliases[name]; ok {
		return canonical, true
	}
	return "", false
}

func (r *InMemory) Component(name string) (ComponentSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok := r.resolve(name)
	if !ok {
		return ComponentSpec{}, fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}
	return r.specs[canonical], nil
}

func (r *InMemory) Driver(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical, ok := r.resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}
	return r.drivers[canonical], nil
}

// Components returns all specs sorted by name. The sorted order is what the
// registry fingerprint is computed over.
func (r *InMemory) Components() []ComponentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ComponentSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SnapshotTree renders the registry content as a canonicalizable tree for
// fingerprinting.
func SnapshotTree(reg Registry) []any {
	specs := reg.Components()
	out := make([]any, 0, len(specs))
	for _, spec := range specs {
		params := make([]any, 0, len(spec.Params))
		for _, p := range spec.Params {
			params = append(params, map[string]any{
				"name":     p.Name,
				"type":     p.Type,
				"enum":     append([]string(nil), p.Enum...),
				"default":  p.Default,
				"required": p.Required,
			})
		}
		aliases := append([]string(nil), spec.Aliases...)
		sort.Strings(aliases)
		secrets := append([]string(nil), spec.SecretPaths...)
		sort.Strings(secrets)
		conns := append([]string(nil), spec.Connections...)
		sort.Strings(conns)
		out = append(out, map[string]any{
			"name":        spec.Name,
			"aliases":     aliases,
			"defaults":    map[string]any(spec.Defaults),
			"params":      params,
			"secretPaths": secrets,
			"connections": conns,
		})
	}
	return out
}
