package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/strata-labs/strata-go/internal/domain"
)

// Builtin returns a registry populated with the small built-in component
// set. Real deployments extend it; the conformance tests run against it.
func Builtin() (*InMemory, error) {
	reg := NewInMemory()

	components := []struct {
		spec   ComponentSpec
		driver Driver
	}{
		{
			spec: ComponentSpec{
				Name:    "rowgen",
				Aliases: []string{"generate_rows"},
				Defaults: domain.Metadata{
					"rows": 0,
				},
				Params: []ParamDecl{
					{Name: "rows", Type: "int", Default: 0},
				},
			},
			driver: DriverFunc(runRowgen),
		},
		{
			spec: ComponentSpec{
				Name:    "transform",
				Aliases: []string{"map"},
				Defaults: domain.Metadata{
					"factor": 1,
				},
			},
			driver: DriverFunc(runTransform),
		},
		{
			spec: ComponentSpec{
				Name:    "rowcount",
				Aliases: []string{"count"},
			},
			driver: DriverFunc(runRowcount),
		},
		{
			spec: ComponentSpec{
				Name: "warehouse_sink",
				Defaults: domain.Metadata{
					"table": "",
				},
				SecretPaths: []string{"connection.password"},
				Connections: []string{"warehouse"},
			},
			driver: DriverFunc(runWarehouseSink),
		},
	}

	for _, c := range components {
		if err := reg.Register(c.spec, c.driver); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func runRowgen(_ context.Context, stepID string, config domain.Metadata, _ map[string]any, rc RunContext) (map[string]any, error) {
	rows, err := intConfig(config, "rows")
	if err != nil {
		return nil, err
	}
	if rows < 0 {
		return nil, fmt.Errorf("rows must be >= 0, got %d", rows)
	}
	if rc.Metrics != nil {
		rc.Metrics.Observe("rows", float64(rows))
	}
	return map[string]any{"rows": rows}, nil
}

func runTransform(_ context.Context, stepID string, config domain.Metadata, inputs map[string]any, rc RunContext) (map[string]any, error) {
	factor, err := intConfig(config, "factor")
	if err != nil {
		return nil, err
	}
	rows := sumInputRows(inputs) * factor
	if rc.Metrics != nil {
		rc.Metrics.Observe("rows", float64(rows))
	}
	return map[string]any{"rows": rows}, nil
}

func runRowcount(_ context.Context, stepID string, _ domain.Metadata, inputs map[string]any, rc RunContext) (map[string]any, error) {
	rows := sumInputRows(inputs)
	if rc.Metrics != nil {
		rc.Metrics.Observe("rows", float64(rows))
	}
	return map[string]any{"rows": rows}, nil
}

func runWarehouseSink(_ context.Context, stepID string, config domain.Metadata, inputs map[string]any, rc RunContext) (map[string]any, error) {
	table, _ := config["table"].(string)
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("table is required")
	}
	rows := sumInputRows(inputs)
	if rc.WorkDir != "" {
		if err := os.MkdirAll(rc.WorkDir, 0o755); err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
		path := filepath.Join(rc.WorkDir, stepID+".load")
		body := fmt.Sprintf("table=%s rows=%d\n", table, rows)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return nil, fmt.Errorf("write load artifact: %w", err)
		}
	}
	if rc.Metrics != nil {
		rc.Metrics.Observe("rows_loaded", float64(rows))
	}
	return map[string]any{"rows": rows}, nil
}

func sumInputRows(inputs map[string]any) int {
	total := 0
	for _, out := range inputs {
		m, ok := out.(map[string]any)
		if !ok {
			continue
		}
		switch rows := m["rows"].(type) {
		case int:
			total += rows
		case int64:
			total += int(rows)
		case float64:
			total += int(rows)
		}
	}
	return total
}

func intConfig(config domain.Metadata, key string) (int, error) {
	v, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, v)
	}
}
