package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/registry"
)

// Engine executes a prepared run's steps in manifest order. Steps whose
// dependencies did not succeed are skipped without emitting step events.
// Execution failures are in-band results; Run returns an error only for
// invalid input.
type Engine struct {
	registry registry.Registry
	logger   *slog.Logger
	cfg      RunnerConfig
	now      func() time.Time
}

func NewEngine(reg registry.Registry, logger *slog.Logger, cfg RunnerConfig) (*Engine, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LookupEnv == nil {
		cfg.LookupEnv = os.LookupEnv
	}
	return &Engine{registry: reg, logger: logger, cfg: cfg, now: time.Now}, nil
}

type stepOutcome struct {
	status  domain.StepStatus
	errMsg  string
	metrics map[string]float64
	output  map[string]any
}

func (e *Engine) Run(ctx context.Context, run domain.PreparedRun) (domain.ExecutionResult, error) {
	if e == nil || e.registry == nil {
		return domain.ExecutionResult{}, errors.New("engine not initialized")
	}
	if err := run.Validate(); err != nil {
		return domain.ExecutionResult{}, err
	}
	for _, conn := range run.Connections {
		if _, ok := e.cfg.LookupEnv(conn.SecretEnv); !ok {
			return domain.ExecutionResult{}, fmt.Errorf("connection %q: environment variable %s is not set", conn.Name, conn.SecretEnv)
		}
	}

	rec := newRecorder(run.RunID, e.now)
	rec.run(domain.EventRunStart, domain.Metadata{
		"manifest_hash": run.Manifest.Meta.ManifestHash,
		"pipeline":      run.Manifest.Meta.Pipeline,
		"adapter":       run.Adapter,
	})

	outcomes := make(map[string]stepOutcome, len(run.Manifest.Steps))
	var mu sync.Mutex

	cancelled := false
	if e.cfg.MaxParallel > 1 {
		cancelled = e.runParallel(ctx, run, rec, outcomes, &mu)
	} else {
		cancelled = e.runSequential(ctx, run, rec, outcomes)
	}

	result := domain.ExecutionResult{
		RunID:   run.RunID,
		Metrics: make(map[string]float64),
	}
	failed := false
	for _, step := range run.Manifest.Steps {
		o, ok := outcomes[step.ID]
		if !ok {
			o = stepOutcome{status: domain.StepSkipped}
		}
		if o.status == domain.StepFailed {
			failed = true
		}
		result.Steps = append(result.Steps, domain.StepResult{
			StepID:  step.ID,
			Status:  o.status,
			Error:   o.errMsg,
			Metrics: o.metrics,
		})
		for name, v := range o.metrics {
			result.Metrics[name] += v
		}
	}
	switch {
	case cancelled:
		result.Status = domain.RunCancelled
	case failed:
		result.Status = domain.RunFailed
	default:
		result.Status = domain.RunSucceeded
	}

	rec.run(domain.EventRunComplete, domain.Metadata{"status": string(result.Status)})
	result.Events = rec.snapshot()
	return result, nil
}

func (e *Engine) runSequential(ctx context.Context, run domain.PreparedRun, rec *recorder, outcomes map[string]stepOutcome) bool {
	for _, step := range run.Manifest.Steps {
		if ctx.Err() != nil {
			outcomes[step.ID] = stepOutcome{status: domain.StepSkipped}
			continue
		}
		if !depsSucceeded(step, outcomes) {
			outcomes[step.ID] = stepOutcome{status: domain.StepSkipped}
			continue
		}
		outcomes[step.ID] = e.executeStep(ctx, run, step, rec, outcomes)
	}
	return ctx.Err() != nil
}

func (e *Engine) runParallel(ctx context.Context, run domain.PreparedRun, rec *recorder, outcomes map[string]stepOutcome, mu *sync.Mutex) bool {
	pending := append([]domain.ManifestStep(nil), run.Manifest.Steps...)
	sem := make(chan struct{}, e.cfg.MaxParallel)

	for len(pending) > 0 {
		if ctx.Err() != nil {
			mu.Lock()
			for _, step := range pending {
				outcomes[step.ID] = stepOutcome{status: domain.StepSkipped}
			}
			mu.Unlock()
			return true
		}

		var runnable []domain.ManifestStep
		var next []domain.ManifestStep
		mu.Lock()
		for _, step := range pending {
			switch {
			case !depsTerminal(step, outcomes):
				next = append(next, step)
			case !depsSucceeded(step, outcomes):
				outcomes[step.ID] = stepOutcome{status: domain.StepSkipped}
			default:
				runnable = append(runnable, step)
			}
		}
		mu.Unlock()

		if len(runnable) == 0 {
			if len(next) == len(pending) {
				// A well-formed manifest is topologically ordered, so this
				// is unreachable unless the manifest was corrupted.
				mu.Lock()
				for _, step := range next {
					outcomes[step.ID] = stepOutcome{status: domain.StepSkipped}
				}
				mu.Unlock()
				return false
			}
			pending = next
			continue
		}

		var wg sync.WaitGroup
		for _, step := range runnable {
			wg.Add(1)
			sem <- struct{}{}
			go func(step domain.ManifestStep) {
				defer wg.Done()
				defer func() { <-sem }()
				mu.Lock()
				snapshot := make(map[string]stepOutcome, len(outcomes))
				for k, v := range outcomes {
					snapshot[k] = v
				}
				mu.Unlock()
				out := e.executeStep(ctx, run, step, rec, snapshot)
				mu.Lock()
				outcomes[step.ID] = out
				mu.Unlock()
			}(step)
		}
		wg.Wait()
		pending = next
	}
	return ctx.Err() != nil
}

func (e *Engine) executeStep(ctx context.Context, run domain.PreparedRun, step domain.ManifestStep, rec *recorder, outcomes map[string]stepOutcome) stepOutcome {
	driver, err := e.registry.Driver(step.Component)
	if err != nil {
		rec.step(domain.EventStepError, step.ID, 0, domain.Metadata{"error": err.Error()})
		return stepOutcome{status: domain.StepFailed, errMsg: err.Error()}
	}

	inputs := make(map[string]any, len(step.Needs))
	for _, dep := range step.Needs {
		if o, ok := outcomes[dep]; ok && o.output != nil {
			inputs[dep] = o.output
		}
	}

	stepCtx := ctx
	cancel := func() {}
	if e.cfg.StepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, e.cfg.StepTimeout)
	}
	defer cancel()

	sink := newMetricSink()
	rc := registry.RunContext{
		RunID:   run.RunID,
		Profile: run.Params.Profile,
		Seed:    run.Params.Seed,
		WorkDir: run.Paths.ArtifactDir,
		Logger:  e.logger.With("run_id", run.RunID, "step_id", step.ID),
		Metrics: sink,
	}

	rec.step(domain.EventStepStart, step.ID, 0, nil)
	started := e.now()
	output, err := driver.Run(stepCtx, step.ID, run.StepConfigs[step.ID], inputs, rc)
	duration := e.now().Sub(started)

	if err != nil {
		serr := &domain.StepExecutionError{StepID: step.ID, Err: err}
		e.logger.Error("step failed", "run_id", run.RunID, "step_id", step.ID, "error", err)
		rec.step(domain.EventStepError, step.ID, duration, domain.Metadata{"error": err.Error()})
		return stepOutcome{status: domain.StepFailed, errMsg: serr.Error(), metrics: sink.snapshot()}
	}

	rec.step(domain.EventStepComplete, step.ID, duration, nil)
	return stepOutcome{status: domain.StepSucceeded, metrics: sink.snapshot(), output: output}
}

func depsSucceeded(step domain.ManifestStep, outcomes map[string]stepOutcome) bool {
	for _, dep := range step.Needs {
		if o, ok := outcomes[dep]; !ok || o.status != domain.StepSucceeded {
			return false
		}
	}
	return true
}

func depsTerminal(step domain.ManifestStep, outcomes map[string]stepOutcome) bool {
	for _, dep := range step.Needs {
		if _, ok := outcomes[dep]; !ok {
			return false
		}
	}
	return true
}
