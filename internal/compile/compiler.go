// Package compile turns a validated pipeline description into a
// reproducible, secret-free manifest. Compilation is stateless and
// side-effect free apart from the injected compile cache.
package compile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/strata-labs/strata-go/internal/canonical"
	"github.com/strata-labs/strata-go/internal/compile/cache"
	"github.com/strata-labs/strata-go/internal/compile/graph"
	"github.com/strata-labs/strata-go/internal/describe"
	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/params"
	"github.com/strata-labs/strata-go/internal/registry"
)

// Version participates in the cache key: a compiler change invalidates
// every cached manifest.
const Version = "strata-compiler/0.4.0"

// Options carries the per-compilation inputs beyond the description.
type Options struct {
	Profile       string
	Overrides     map[string]string
	ProfileParams map[string]any
	Environ       func(string) (string, bool)
	CacheMode     cache.Mode
}

type Compiler struct {
	registry registry.Registry
	store    cache.Store
	logger   *slog.Logger
}

// New builds a compiler over a registry and an optional cache store. A nil
// store disables caching entirely.
func New(reg registry.Registry, store cache.Store, logger *slog.Logger) (*Compiler, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{registry: reg, store: store, logger: logger}, nil
}

// Compile produces the manifest for one description/profile/parameter
// tuple. Identical inputs always yield a byte-identical manifest; any
// failure aborts with no partial manifest written.
func (c *Compiler) Compile(ctx context.Context, desc domain.PipelineDescription, opts Options) (domain.Manifest, error) {
	if opts.CacheMode == "" {
		opts.CacheMode = cache.ModeAuto
	}
	if err := describe.Validate(desc); err != nil {
		return domain.Manifest{}, err
	}

	descFP, err := canonical.FingerprintValue(descriptionTree(desc))
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("fingerprint description: %w", err)
	}
	regFP, err := canonical.FingerprintValue(registry.SnapshotTree(c.registry))
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("fingerprint registry: %w", err)
	}
	compilerFP := canonical.Fingerprint([]byte(Version))

	resolver := params.NewResolver(params.Sources{
		Overrides: opts.Overrides,
		Environ:   opts.Environ,
		Profile:   opts.ProfileParams,
	})

	resolved, err := c.resolveSteps(desc.Steps, resolver)
	if err != nil {
		return domain.Manifest{}, err
	}

	paramsFP, err := canonical.FingerprintValue(map[string]any(resolver.Values()))
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("fingerprint params: %w", err)
	}

	key := cache.Key{
		DescriptionFP: descFP,
		RegistryFP:    regFP,
		CompilerFP:    compilerFP,
		ParamsFP:      paramsFP,
		Profile:       opts.Profile,
	}

	if m, ok, err := c.cacheLookup(ctx, key, opts.CacheMode); err != nil {
		return domain.Manifest{}, err
	} else if ok {
		return m, nil
	}

	eval := graph.NewWhenEvaluator(graph.ParamLookup(resolver.Lookup))
	nodes, excludedIDs, err := graph.Expand(resolved, eval)
	if err != nil {
		return domain.Manifest{}, err
	}
	ordered, err := graph.Sort(nodes)
	if err != nil {
		return domain.Manifest{}, err
	}

	for _, node := range ordered {
		spec, err := c.registry.Component(node.Component)
		if err != nil {
			return domain.Manifest{}, fmt.Errorf("step %q: %w", node.ID, err)
		}
		if err := scanSecretPaths(node.ID, node.Config, spec.SecretPaths); err != nil {
			return domain.Manifest{}, err
		}
	}

	m := domain.Manifest{
		Meta: domain.ManifestMeta{
			CompilerVersion:        Version,
			Pipeline:               desc.Name,
			Profile:                opts.Profile,
			DescriptionFingerprint: descFP,
			RegistryFingerprint:    regFP,
			ParamsFingerprint:      paramsFP,
			ExcludedSteps:          excludedIDs,
		},
		Steps:  make([]domain.ManifestStep, 0, len(ordered)),
		Params: resolver.Values(),
	}
	for _, node := range ordered {
		m.Steps = append(m.Steps, domain.ManifestStep{
			ID:          node.ID,
			Component:   node.Component,
			Needs:       node.Needs,
			Config:      node.Config,
			FanOutKey:   node.FanOutKey,
			FanOutValue: node.FanOutValue,
		})
	}

	hash, err := ComputeManifestHash(m)
	if err != nil {
		return domain.Manifest{}, err
	}
	m.Meta.ManifestHash = hash
	m.Meta.ManifestShort = canonical.Short(hash)

	if err := c.cachePut(ctx, key, m); err != nil {
		return domain.Manifest{}, err
	}
	return m, nil
}

// resolveSteps merges registry defaults under each step's config, resolves
// component aliases to canonical names and substitutes every parameter
// placeholder.
func (c *Compiler) resolveSteps(steps []domain.StepSpec, resolver *params.Resolver) ([]domain.StepSpec, error) {
	out := make([]domain.StepSpec, 0, len(steps))
	for _, step := range steps {
		spec, err := c.registry.Component(step.Uses)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", step.ID, err)
		}
		merged := spec.Defaults.Clone()
		for k, v := range step.Config {
			merged[k] = v
		}
		resolvedCfg, err := resolver.ResolveConfig(merged, spec.Params, step.ID)
		if err != nil {
			return nil, err
		}
		resolved := step
		resolved.Uses = spec.Name
		resolved.Config = resolvedCfg
		out = append(out, resolved)
	}
	return out, nil
}

func (c *Compiler) cacheLookup(ctx context.Context, key cache.Key, mode cache.Mode) (domain.Manifest, bool, error) {
	if c.store == nil || mode == cache.ModeForce {
		if mode == cache.ModeNever && c.store == nil {
			return domain.Manifest{}, false, errors.New("cache mode never requires a cache store")
		}
		return domain.Manifest{}, false, nil
	}
	id, err := key.ID()
	if err != nil {
		return domain.Manifest{}, false, err
	}
	data, err := c.store.Get(ctx, id)
	if errors.Is(err, cache.ErrNotFound) {
		if mode == cache.ModeNever {
			return domain.Manifest{}, false, &domain.CacheMissError{Key: id}
		}
		return domain.Manifest{}, false, nil
	}
	if err != nil {
		return domain.Manifest{}, false, fmt.Errorf("cache lookup: %w", err)
	}
	m, err := UnmarshalManifest(data)
	if err != nil {
		// Integrity failures on a hit are hard errors: a corrupt cache
		// must never masquerade as a successful compilation.
		return domain.Manifest{}, false, err
	}
	c.logger.Debug("compile cache hit", "cache_key", id, "manifest_short", m.Meta.ManifestShort)
	return m, true, nil
}

func (c *Compiler) cachePut(ctx context.Context, key cache.Key, m domain.Manifest) error {
	if c.store == nil {
		return nil
	}
	id, err := key.ID()
	if err != nil {
		return err
	}
	data, err := MarshalManifest(m)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, id, data); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

func descriptionTree(desc domain.PipelineDescription) map[string]any {
	steps := make([]any, 0, len(desc.Steps))
	for _, step := range desc.Steps {
		steps = append(steps, map[string]any{
			"id":      step.ID,
			"uses":    step.Uses,
			"config":  map[string]any(step.Config),
			"needs":   stringsOrEmpty(step.Needs),
			"forEach": stringsOrEmpty(step.ForEach),
			"when":    step.When,
		})
	}
	return map[string]any{
		"apiVersion": desc.APIVersion,
		"kind":       desc.Kind,
		"name":       desc.Name,
		"version":    desc.Version,
		"steps":      steps,
	}
}
