// Package params resolves ${params.*} placeholders against the layered
// parameter sources: CLI override > environment > profile > declared
// default.
package params

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/registry"
)

const envPrefix = "STRATA_PARAM_"

var placeholderPattern = regexp.MustCompile(`\$\{params\.([A-Za-z0-9_]+)\}`)

// Sources are the layered parameter inputs, highest precedence first.
// Environ is injectable so tests never touch the process environment.
type Sources struct {
	Overrides map[string]string
	Environ   func(string) (string, bool)
	Profile   map[string]any
}

// Resolver substitutes placeholders and records every resolved value, so
// the caller can fingerprint the complete resolved-parameter set.
type Resolver struct {
	src      Sources
	resolved map[string]any
}

func NewResolver(src Sources) *Resolver {
	if src.Environ == nil {
		src.Environ = os.LookupEnv
	}
	return &Resolver{src: src, resolved: make(map[string]any)}
}

// ResolveConfig returns cfg with every placeholder substituted. A
// placeholder that cannot be resolved fails with UnresolvedParameterError
// naming the configuration path.
func (r *Resolver) ResolveConfig(cfg domain.Metadata, decls []registry.ParamDecl, pathPrefix string) (domain.Metadata, error) {
	declIndex := make(map[string]registry.ParamDecl, len(decls))
	for _, decl := range decls {
		declIndex[decl.Name] = decl
	}
	out, err := r.resolveValue(cfg, declIndex, pathPrefix)
	if err != nil {
		return nil, err
	}
	resolved, ok := out.(domain.Metadata)
	if !ok {
		return domain.Metadata{}, nil
	}
	return resolved, nil
}

// Lookup resolves one named parameter through the precedence chain without
// a config placeholder. Used for `when` condition evaluation.
func (r *Resolver) Lookup(name string) (any, bool, error) {
	return r.lookup(name, registry.ParamDecl{Name: name, Type: "string"}, false)
}

// Values returns every parameter value resolved so far, for the
// resolved-parameter snapshot and its fingerprint.
func (r *Resolver) Values() domain.Metadata {
	out := make(domain.Metadata, len(r.resolved))
	for k, v := range r.resolved {
		out[k] = v
	}
	return out
}

// Names returns the sorted names of resolved parameters.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.resolved))
	for name := range r.resolved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Resolver) resolveValue(v any, decls map[string]registry.ParamDecl, path string) (any, error) {
	switch t := v.(type) {
	case domain.Metadata:
		return r.resolveMap(map[string]any(t), decls, path)
	case map[string]any:
		return r.resolveMap(t, decls, path)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			resolved, err := r.resolveValue(e, decls, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		return r.resolveString(t, decls, path)
	default:
		return v, nil
	}
}

func (r *Resolver) resolveMap(m map[string]any, decls map[string]registry.ParamDecl, path string) (domain.Metadata, error) {
	out := make(domain.Metadata, len(m))
	for k, v := range m {
		childPath := k
		if path != "" {
			childPath = path + "." + k
		}
		resolved, err := r.resolveValue(v, decls, childPath)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func (r *Resolver) resolveString(s string, decls map[string]registry.ParamDecl, path string) (any, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// A placeholder spanning the whole value keeps the parameter's type;
	// embedded placeholders stringify.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		name := s[matches[0][2]:matches[0][3]]
		value, ok, err := r.lookupDeclared(name, decls)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &domain.UnresolvedParameterError{Path: path, Name: name}
		}
		return value, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		name := s[m[2]:m[3]]
		value, ok, err := r.lookupDeclared(name, decls)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &domain.UnresolvedParameterError{Path: path, Name: name}
		}
		b.WriteString(s[last:m[0]])
		b.WriteString(stringify(value))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func (r *Resolver) lookupDeclared(name string, decls map[string]registry.ParamDecl) (any, bool, error) {
	decl, declared := decls[name]
	if !declared {
		decl = registry.ParamDecl{Name: name, Type: "string"}
	}
	return r.lookup(name, decl, declared)
}

func (r *Resolver) lookup(name string, decl registry.ParamDecl, declared bool) (any, bool, error) {
	if cached, ok := r.resolved[name]; ok {
		return cached, true, nil
	}

	var raw any
	found := false
	if v, ok := r.src.Overrides[name]; ok {
		raw, found = v, true
	} else if v, ok := r.src.Environ(envPrefix + strings.ToUpper(name)); ok {
		raw, found = v, true
	} else if v, ok := r.src.Profile[name]; ok {
		raw, found = v, true
	} else if declared && decl.Default != nil {
		raw, found = decl.Default, true
	}
	if !found {
		return nil, false, nil
	}

	value, err := coerce(raw, decl)
	if err != nil {
		return nil, false, fmt.Errorf("parameter %q: %w", name, err)
	}
	r.resolved[name] = value
	return value, true, nil
}

func coerce(raw any, decl registry.ParamDecl) (any, error) {
	switch decl.Type {
	case "", "string":
		return stringify(raw), nil
	case "int":
		switch t := raw.(type) {
		case int:
			return t, nil
		case int64:
			return int(t), nil
		case float64:
			return int(t), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("expected int, got %q", t)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected int, got %T", raw)
		}
	case "float":
		switch t := raw.(type) {
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case float64:
			return t, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, fmt.Errorf("expected float, got %q", t)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("expected float, got %T", raw)
		}
	case "bool":
		switch t := raw.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("expected bool, got %q", t)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expected bool, got %T", raw)
		}
	case "enum":
		value := stringify(raw)
		for _, allowed := range decl.Enum {
			if value == allowed {
				return value, nil
			}
		}
		return nil, fmt.Errorf("value %q not in enum %v", value, decl.Enum)
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", decl.Type)
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
