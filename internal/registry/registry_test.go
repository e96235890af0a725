package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/strata-labs/strata-go/internal/domain"
)

func noopDriver() Driver {
	return DriverFunc(func(context.Context, string, domain.Metadata, map[string]any, RunContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
}

func TestRegisterAndResolveAlias(t *testing.T) {
	reg := NewInMemory()
	spec := ComponentSpec{Name: "rowgen", Aliases: []string{"generate_rows"}}
	if err := reg.Register(spec, noopDriver()); err != nil {
		t.Fatalf("Register() err=%v", err)
	}
	byAlias, err := reg.Component("generate_rows")
	if err != nil {
		t.Fatalf("Component() err=%v", err)
	}
	if byAlias.Name != "rowgen" {
		t.Fatalf("alias resolved to %q, want rowgen", byAlias.Name)
	}
	if _, err := reg.Driver("generate_rows"); err != nil {
		t.Fatalf("Driver() err=%v", err)
	}
}

func TestUnknownComponent(t *testing.T) {
	reg := NewInMemory()
	if _, err := reg.Component("nope"); !errors.Is(err, ErrUnknownComponent) {
		t.Fatalf("expected ErrUnknownComponent, got %v", err)
	}
}

func TestRegisterRejectsCollisions(t *testing.T) {
	reg := NewInMemory()
	if err := reg.Register(ComponentSpec{Name: "a", Aliases: []string{"b"}}, noopDriver()); err != nil {
		t.Fatalf("Register() err=%v", err)
	}
	if err := reg.Register(ComponentSpec{Name: "a"}, noopDriver()); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}
	if err := reg.Register(ComponentSpec{Name: "b"}, noopDriver()); err == nil {
		t.Fatalf("expected name colliding with alias to be rejected")
	}
	if err := reg.Register(ComponentSpec{Name: "c", Aliases: []string{"b"}}, noopDriver()); err == nil {
		t.Fatalf("expected duplicate alias to be rejected")
	}
}

func TestComponentsSortedByName(t *testing.T) {
	reg := NewInMemory()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(ComponentSpec{Name: name}, noopDriver()); err != nil {
			t.Fatalf("Register(%s) err=%v", name, err)
		}
	}
	specs := reg.Components()
	want := []string{"alpha", "mid", "zeta"}
	for i, spec := range specs {
		if spec.Name != want[i] {
			t.Fatalf("got order %v at %d, want %v", spec.Name, i, want[i])
		}
	}
}

func TestBuiltinRegistersSecretPaths(t *testing.T) {
	reg, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin() err=%v", err)
	}
	sink, err := reg.Component("warehouse_sink")
	if err != nil {
		t.Fatalf("Component() err=%v", err)
	}
	if len(sink.SecretPaths) == 0 {
		t.Fatalf("warehouse_sink must declare secret paths")
	}
}
