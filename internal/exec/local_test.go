package exec

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/strata-labs/strata-go/internal/domain"
)

func TestLocalAdapterEndToEnd(t *testing.T) {
	reg := builtinRegistry(t)
	m := testManifest(
		domain.ManifestStep{ID: "gen", Component: "rowgen", Config: domain.Metadata{"rows": 4}},
		domain.ManifestStep{ID: "sink", Component: "warehouse_sink", Needs: []string{"gen"}, Config: domain.Metadata{
			"table":      "orders",
			"connection": domain.Metadata{"password": "${secret:WAREHOUSE_PASSWORD}"},
		}},
	)
	adapter, err := NewLocalAdapter(reg, discardLogger(), RunnerConfig{
		LookupEnv: func(string) (string, bool) { return "x", true },
	})
	if err != nil {
		t.Fatalf("NewLocalAdapter() err=%v", err)
	}

	workDir := t.TempDir()
	run, err := adapter.Prepare(context.Background(), m, domain.RunParams{Profile: "dev"}, workDir)
	if err != nil {
		t.Fatalf("Prepare() err=%v", err)
	}
	if run.Adapter != "local" {
		t.Fatalf("adapter = %q", run.Adapter)
	}
	for _, id := range []string{"gen", "sink"} {
		if _, err := os.Stat(filepath.Join(run.Paths.StepConfigDir, id+".json")); err != nil {
			t.Fatalf("config for %q not written: %v", id, err)
		}
	}

	result, err := adapter.Execute(context.Background(), run)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	if result.Status != domain.RunSucceeded {
		t.Fatalf("status = %q, want succeeded", result.Status)
	}
	if result.Metrics["rows_loaded"] != 4 {
		t.Fatalf("rows_loaded = %v, want 4", result.Metrics["rows_loaded"])
	}

	collected, err := adapter.Collect(context.Background(), run, result)
	if err != nil {
		t.Fatalf("Collect() err=%v", err)
	}
	if len(collected.Files) != 1 {
		t.Fatalf("artifacts = %v, want one file", collected.Files)
	}
	art := collected.Files[0]
	if art.Path != "sink.load" {
		t.Fatalf("artifact path = %q", art.Path)
	}
	if art.Size == 0 || len(art.SHA256) != 64 {
		t.Fatalf("artifact inventory incomplete: %+v", art)
	}

	again, err := adapter.Collect(context.Background(), run, result)
	if err != nil {
		t.Fatalf("Collect() second call err=%v", err)
	}
	if !reflect.DeepEqual(collected, again) {
		t.Fatalf("collection is not idempotent")
	}
}

func TestLocalAdapterCollectEmptyRun(t *testing.T) {
	reg := builtinRegistry(t)
	m := testManifest(
		domain.ManifestStep{ID: "gen", Component: "rowgen", Config: domain.Metadata{"rows": 0}},
	)
	adapter, err := NewLocalAdapter(reg, discardLogger(), RunnerConfig{})
	if err != nil {
		t.Fatalf("NewLocalAdapter() err=%v", err)
	}
	run, err := adapter.Prepare(context.Background(), m, domain.RunParams{}, t.TempDir())
	if err != nil {
		t.Fatalf("Prepare() err=%v", err)
	}
	result, err := adapter.Execute(context.Background(), run)
	if err != nil {
		t.Fatalf("Execute() err=%v", err)
	}
	collected, err := adapter.Collect(context.Background(), run, result)
	if err != nil {
		t.Fatalf("Collect() err=%v", err)
	}
	if len(collected.Files) != 0 {
		t.Fatalf("expected empty inventory, got %v", collected.Files)
	}
}

func TestPrepareRunUniqueRunIDs(t *testing.T) {
	reg := builtinRegistry(t)
	m := testManifest(
		domain.ManifestStep{ID: "gen", Component: "rowgen", Config: domain.Metadata{"rows": 1}},
	)
	first, err := PrepareRun(reg, m, domain.RunParams{}, "local", t.TempDir())
	if err != nil {
		t.Fatalf("PrepareRun() err=%v", err)
	}
	second, err := PrepareRun(reg, m, domain.RunParams{}, "local", t.TempDir())
	if err != nil {
		t.Fatalf("PrepareRun() err=%v", err)
	}
	if first.RunID == second.RunID {
		t.Fatalf("run ids are not unique")
	}
	if first.Paths.RemoteNamespace != "remote/"+first.RunID {
		t.Fatalf("remote namespace = %q", first.Paths.RemoteNamespace)
	}
}
