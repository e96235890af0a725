// Package runner drives a compiled manifest through an execution adapter
// and records the completed run in the run index.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/exec"
	"github.com/strata-labs/strata-go/internal/runindex"
)

type Runner struct {
	adapter  exec.Adapter
	analyzer *runindex.Analyzer
	logger   *slog.Logger
	now      func() time.Time
}

func New(adapter exec.Adapter, analyzer *runindex.Analyzer, logger *slog.Logger) (*Runner, error) {
	if adapter == nil {
		return nil, errors.New("adapter is required")
	}
	if analyzer == nil {
		return nil, errors.New("run index analyzer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{adapter: adapter, analyzer: analyzer, logger: logger, now: time.Now}, nil
}

// Options are the per-run inputs beyond the manifest.
type Options struct {
	WorkDir string
	Params  domain.RunParams
}

// Outcome is everything one run produced.
type Outcome struct {
	Run       domain.PreparedRun
	Result    domain.ExecutionResult
	Artifacts domain.CollectedArtifacts
	Delta     domain.RunDelta
}

// Run executes the full adapter lifecycle. Completed runs are appended to
// the run index and compared against the most recent prior run of the same
// manifest; cancelled runs are not indexed. Index problems never fail a
// run that executed.
func (r *Runner) Run(ctx context.Context, m domain.Manifest, opts Options) (Outcome, error) {
	run, err := r.adapter.Prepare(ctx, m, opts.Params, opts.WorkDir)
	if err != nil {
		return Outcome{}, err
	}
	r.logger.Info("run prepared",
		"run_id", run.RunID,
		"adapter", run.Adapter,
		"pipeline", m.Meta.Pipeline,
		"manifest_short", m.Meta.ManifestShort,
	)

	result, err := r.adapter.Execute(ctx, run)
	if err != nil {
		return Outcome{}, err
	}
	artifacts, err := r.adapter.Collect(ctx, run, result)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{Run: run, Result: result, Artifacts: artifacts}
	if result.Status == domain.RunCancelled {
		r.logger.Info("run cancelled, not indexed", "run_id", run.RunID)
		return outcome, nil
	}

	record := domain.RunIndexRecord{
		ManifestHash:     m.Meta.ManifestHash,
		RunID:            run.RunID,
		Timestamp:        r.now().UTC(),
		Metrics:          result.Metrics,
		ArtifactLocation: run.Paths.ArtifactDir,
	}
	if err := r.analyzer.Record(ctx, m.Meta.Pipeline, record); err != nil {
		r.logger.Warn("run index append failed", "run_id", run.RunID, "error", err)
		return outcome, nil
	}
	delta, err := r.analyzer.Delta(ctx, m.Meta.Pipeline, record)
	if err != nil {
		r.logger.Warn("run delta failed", "run_id", run.RunID, "error", err)
		return outcome, nil
	}
	outcome.Delta = delta
	return outcome, nil
}
