package params

import (
	"errors"
	"testing"

	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/registry"
)

func noEnv(string) (string, bool) { return "", false }

func TestPrecedenceOverrideBeatsEnvironment(t *testing.T) {
	r := NewResolver(Sources{
		Overrides: map[string]string{"region": "eu"},
		Environ: func(key string) (string, bool) {
			if key == "STRATA_PARAM_REGION" {
				return "us", true
			}
			return "", false
		},
		Profile: map[string]any{"region": "apac"},
	})
	cfg, err := r.ResolveConfig(domain.Metadata{"target": "${params.region}"}, nil, "s")
	if err != nil {
		t.Fatalf("ResolveConfig() err=%v", err)
	}
	if cfg["target"] != "eu" {
		t.Fatalf("got %v, want eu", cfg["target"])
	}
}

func TestPrecedenceEnvironmentBeatsProfile(t *testing.T) {
	r := NewResolver(Sources{
		Environ: func(key string) (string, bool) {
			if key == "STRATA_PARAM_REGION" {
				return "us", true
			}
			return "", false
		},
		Profile: map[string]any{"region": "apac"},
	})
	cfg, err := r.ResolveConfig(domain.Metadata{"target": "${params.region}"}, nil, "s")
	if err != nil {
		t.Fatalf("ResolveConfig() err=%v", err)
	}
	if cfg["target"] != "us" {
		t.Fatalf("got %v, want us", cfg["target"])
	}
}

func TestProfileBeatsDeclaredDefault(t *testing.T) {
	decls := []registry.ParamDecl{{Name: "batch", Type: "int", Default: 100}}
	r := NewResolver(Sources{Environ: noEnv, Profile: map[string]any{"batch": 250}})
	cfg, err := r.ResolveConfig(domain.Metadata{"size": "${params.batch}"}, decls, "s")
	if err != nil {
		t.Fatalf("ResolveConfig() err=%v", err)
	}
	if cfg["size"] != 250 {
		t.Fatalf("got %v (%T), want 250", cfg["size"], cfg["size"])
	}
}

func TestDeclaredDefaultUsedLast(t *testing.T) {
	decls := []registry.ParamDecl{{Name: "batch", Type: "int", Default: 100}}
	r := NewResolver(Sources{Environ: noEnv})
	cfg, err := r.ResolveConfig(domain.Metadata{"size": "${params.batch}"}, decls, "s")
	if err != nil {
		t.Fatalf("ResolveConfig() err=%v", err)
	}
	if cfg["size"] != 100 {
		t.Fatalf("got %v, want 100", cfg["size"])
	}
}

func TestWholePlaceholderPreservesType(t *testing.T) {
	decls := []registry.ParamDecl{{Name: "limit", Type: "int"}}
	r := NewResolver(Sources{Overrides: map[string]string{"limit": "42"}, Environ: noEnv})
	cfg, err := r.ResolveConfig(domain.Metadata{"limit": "${params.limit}"}, decls, "s")
	if err != nil {
		t.Fatalf("ResolveConfig() err=%v", err)
	}
	if got, ok := cfg["limit"].(int); !ok || got != 42 {
		t.Fatalf("got %v (%T), want int 42", cfg["limit"], cfg["limit"])
	}
}

func TestEmbeddedPlaceholderStringifies(t *testing.T) {
	r := NewResolver(Sources{Overrides: map[string]string{"region": "eu"}, Environ: noEnv})
	cfg, err := r.ResolveConfig(domain.Metadata{"path": "data/${params.region}/out"}, nil, "s")
	if err != nil {
		t.Fatalf("ResolveConfig() err=%v", err)
	}
	if cfg["path"] != "data/eu/out" {
		t.Fatalf("got %v", cfg["path"])
	}
}

func TestUnresolvedParameterNamesPath(t *testing.T) {
	r := NewResolver(Sources{Environ: noEnv})
	_, err := r.ResolveConfig(domain.Metadata{"conn": domain.Metadata{"host": "${params.host}"}}, nil, "extract")
	var uerr *domain.UnresolvedParameterError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnresolvedParameterError, got %v", err)
	}
	if uerr.Path != "extract.conn.host" || uerr.Name != "host" {
		t.Fatalf("got path=%q name=%q", uerr.Path, uerr.Name)
	}
}

func TestEnumValidation(t *testing.T) {
	decls := []registry.ParamDecl{{Name: "mode", Type: "enum", Enum: []string{"full", "delta"}}}
	r := NewResolver(Sources{Overrides: map[string]string{"mode": "full"}, Environ: noEnv})
	if _, err := r.ResolveConfig(domain.Metadata{"mode": "${params.mode}"}, decls, "s"); err != nil {
		t.Fatalf("ResolveConfig() err=%v", err)
	}

	bad := NewResolver(Sources{Overrides: map[string]string{"mode": "partial"}, Environ: noEnv})
	if _, err := bad.ResolveConfig(domain.Metadata{"mode": "${params.mode}"}, decls, "s"); err == nil {
		t.Fatalf("expected enum violation")
	}
}

func TestTypeValidation(t *testing.T) {
	decls := []registry.ParamDecl{{Name: "limit", Type: "int"}}
	r := NewResolver(Sources{Overrides: map[string]string{"limit": "abc"}, Environ: noEnv})
	if _, err := r.ResolveConfig(domain.Metadata{"limit": "${params.limit}"}, decls, "s"); err == nil {
		t.Fatalf("expected type violation")
	}
}

func TestValuesSnapshotAccumulates(t *testing.T) {
	r := NewResolver(Sources{Overrides: map[string]string{"a": "1", "b": "2"}, Environ: noEnv})
	if _, err := r.ResolveConfig(domain.Metadata{"x": "${params.a}", "y": "${params.b}"}, nil, "s"); err != nil {
		t.Fatalf("ResolveConfig() err=%v", err)
	}
	values := r.Values()
	if values["a"] != "1" || values["b"] != "2" {
		t.Fatalf("got %v", values)
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("got names %v", names)
	}
}
