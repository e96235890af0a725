package runner

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/exec"
	"github.com/strata-labs/strata-go/internal/registry"
	"github.com/strata-labs/strata-go/internal/runindex"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testManifest(rows int) domain.Manifest {
	hash := strings.Repeat("ab", 32)
	return domain.Manifest{
		Meta: domain.ManifestMeta{
			ManifestHash:    hash,
			ManifestShort:   hash[:12],
			CompilerVersion: "strata-compiler/0.4.0",
			Pipeline:        "orders",
		},
		Steps: []domain.ManifestStep{
			{ID: "gen", Component: "rowgen", Config: domain.Metadata{"rows": rows}},
			{ID: "tally", Component: "rowcount", Needs: []string{"gen"}},
		},
	}
}

func newRunner(t *testing.T) *Runner {
	t.Helper()
	reg, err := registry.Builtin()
	if err != nil {
		t.Fatalf("Builtin() err=%v", err)
	}
	adapter, err := exec.NewLocalAdapter(reg, discardLogger(), exec.RunnerConfig{})
	if err != nil {
		t.Fatalf("NewLocalAdapter() err=%v", err)
	}
	store, err := runindex.NewFileStore(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("NewFileStore() err=%v", err)
	}
	analyzer, err := runindex.NewAnalyzer(store, discardLogger())
	if err != nil {
		t.Fatalf("NewAnalyzer() err=%v", err)
	}
	r, err := New(adapter, analyzer, discardLogger())
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return r
}

func TestRunnerIndexesRunsAndReportsDelta(t *testing.T) {
	r := newRunner(t)
	ctx := context.Background()

	first, err := r.Run(ctx, testManifest(10), Options{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if first.Result.Status != domain.RunSucceeded {
		t.Fatalf("status = %q", first.Result.Status)
	}
	if !first.Delta.FirstRun {
		t.Fatalf("expected first run delta")
	}

	second, err := r.Run(ctx, testManifest(15), Options{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if second.Delta.FirstRun {
		t.Fatalf("expected comparison against first run")
	}
	if second.Delta.PreviousRunID != first.Run.RunID {
		t.Fatalf("previous run = %q, want %q", second.Delta.PreviousRunID, first.Run.RunID)
	}
	// rows metric is gen + tally: 20 then 30.
	rows := second.Delta.Metrics["rows"]
	if rows.Previous != 20 || rows.Current != 30 || rows.Change != 10 {
		t.Fatalf("rows delta = %+v", rows)
	}
	if rows.ChangePercent == nil || *rows.ChangePercent != 50.0 {
		t.Fatalf("rows change percent = %v, want 50.0", rows.ChangePercent)
	}
}

func TestRunnerSkipsIndexForCancelledRuns(t *testing.T) {
	r := newRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := r.Run(ctx, testManifest(10), Options{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if outcome.Result.Status != domain.RunCancelled {
		t.Fatalf("status = %q, want cancelled", outcome.Result.Status)
	}

	followup, err := r.Run(context.Background(), testManifest(10), Options{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if !followup.Delta.FirstRun {
		t.Fatalf("cancelled run leaked into the index")
	}
}
