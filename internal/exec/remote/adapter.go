package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/exec"
	"github.com/strata-labs/strata-go/internal/registry"
)

// AdapterConfig bounds the remote lifecycle. Zero values fall back to
// defaults suitable for interactive use.
type AdapterConfig struct {
	PollInterval time.Duration
	StageTimeout time.Duration
}

const (
	defaultPollInterval = 2 * time.Second
	defaultStageTimeout = 10 * time.Minute
)

// Adapter executes runs on a sandbox service reached through a Transfer
// and a SandboxClient.
type Adapter struct {
	registry registry.Registry
	transfer Transfer
	client   SandboxClient
	logger   *slog.Logger
	cfg      AdapterConfig
}

func NewAdapter(reg registry.Registry, transfer Transfer, client SandboxClient, logger *slog.Logger, cfg AdapterConfig) (*Adapter, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if transfer == nil {
		return nil, errors.New("transfer is required")
	}
	if client == nil {
		return nil, errors.New("sandbox client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = defaultStageTimeout
	}
	return &Adapter{registry: reg, transfer: transfer, client: client, logger: logger, cfg: cfg}, nil
}

func (a *Adapter) Name() string { return "remote" }

func (a *Adapter) Prepare(_ context.Context, m domain.Manifest, params domain.RunParams, workDir string) (domain.PreparedRun, error) {
	if a == nil {
		return domain.PreparedRun{}, errors.New("adapter not initialized")
	}
	run, err := exec.PrepareRun(a.registry, m, params, a.Name(), workDir)
	if err != nil {
		return domain.PreparedRun{}, err
	}
	if err := exec.MaterializeRunDirs(run); err != nil {
		return domain.PreparedRun{}, err
	}
	return run, nil
}

// Execute moves the run through upload, sandbox execution and download.
// Cancellation at any stage tears the run down and reports it cancelled
// rather than failed.
func (a *Adapter) Execute(ctx context.Context, run domain.PreparedRun) (domain.ExecutionResult, error) {
	if a == nil || a.transfer == nil || a.client == nil {
		return domain.ExecutionResult{}, errors.New("adapter not initialized")
	}
	if err := run.Validate(); err != nil {
		return domain.ExecutionResult{}, err
	}
	tracker := newStageTracker()

	if err := tracker.advance(StageUploading); err != nil {
		return domain.ExecutionResult{}, err
	}
	payload, err := MarshalRun(run)
	if err != nil {
		return domain.ExecutionResult{}, &domain.RemoteTransferError{Stage: "package", Err: err}
	}
	payloadKey := PayloadKey(run.Paths.RemoteNamespace)
	if err := a.withStageTimeout(ctx, func(ctx context.Context) error {
		return a.transfer.Upload(ctx, payloadKey, payload)
	}); err != nil {
		if cancelled(ctx) {
			return a.cancelResult(tracker, run), nil
		}
		return domain.ExecutionResult{}, &domain.RemoteTransferError{Stage: "upload", Err: err}
	}

	if err := tracker.advance(StageExecuting); err != nil {
		return domain.ExecutionResult{}, err
	}
	remoteID, err := a.client.Submit(ctx, payloadKey)
	if err != nil {
		if cancelled(ctx) {
			return a.cancelResult(tracker, run), nil
		}
		return domain.ExecutionResult{}, &domain.RemoteTransferError{Stage: "submit", Err: err}
	}
	a.logger.Info("run submitted to sandbox", "run_id", run.RunID, "remote_id", remoteID)

	status, err := a.poll(ctx, remoteID)
	if err != nil {
		if cancelled(ctx) {
			a.cancelRemote(remoteID)
			return a.cancelResult(tracker, run), nil
		}
		return domain.ExecutionResult{}, &domain.RemoteTransferError{Stage: "poll", Err: err}
	}
	if status.State == StateCancelled {
		return a.cancelResult(tracker, run), nil
	}
	if status.State == StateFailed && status.ResultKey == "" {
		return domain.ExecutionResult{}, &domain.RemoteTransferError{Stage: "poll", Err: fmt.Errorf("sandbox run failed: %s", status.Message)}
	}

	if err := tracker.advance(StageDownloading); err != nil {
		return domain.ExecutionResult{}, err
	}
	resultKey := status.ResultKey
	if resultKey == "" {
		resultKey = ResultKey(run.Paths.RemoteNamespace)
	}
	var result domain.ExecutionResult
	if err := a.withStageTimeout(ctx, func(ctx context.Context) error {
		data, err := a.transfer.Download(ctx, resultKey)
		if err != nil {
			return err
		}
		result, err = UnmarshalResult(data)
		if err != nil {
			return err
		}
		return a.downloadArtifacts(ctx, run)
	}); err != nil {
		if cancelled(ctx) {
			return a.cancelResult(tracker, run), nil
		}
		return domain.ExecutionResult{}, &domain.RemoteTransferError{Stage: "download", Err: err}
	}

	if err := tracker.advance(StageCollected); err != nil {
		return domain.ExecutionResult{}, err
	}
	return result, nil
}

// Collect inventories the artifacts downloaded into the local work
// directory during Execute.
func (a *Adapter) Collect(_ context.Context, run domain.PreparedRun, result domain.ExecutionResult) (domain.CollectedArtifacts, error) {
	if a == nil {
		return domain.CollectedArtifacts{}, errors.New("adapter not initialized")
	}
	files, err := exec.InventoryArtifacts(run.Paths.ArtifactDir)
	if err != nil {
		return domain.CollectedArtifacts{}, err
	}
	return domain.CollectedArtifacts{RunID: run.RunID, Files: files}, nil
}

func (a *Adapter) poll(ctx context.Context, remoteID string) (RemoteStatus, error) {
	deadline := time.NewTimer(a.cfg.StageTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := a.client.Status(ctx, remoteID)
		if err != nil {
			return RemoteStatus{}, err
		}
		if status.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return RemoteStatus{}, ctx.Err()
		case <-deadline.C:
			return RemoteStatus{}, fmt.Errorf("sandbox run %s did not finish within %s", remoteID, a.cfg.StageTimeout)
		case <-ticker.C:
		}
	}
}

func (a *Adapter) downloadArtifacts(ctx context.Context, run domain.PreparedRun) error {
	prefix := run.Paths.RemoteNamespace + "/" + artifactPrefix
	keys, err := a.transfer.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		rel := strings.TrimPrefix(key, prefix)
		if rel == "" || strings.Contains(rel, "..") {
			continue
		}
		data, err := a.transfer.Download(ctx, key)
		if err != nil {
			return err
		}
		dest := filepath.Join(run.Paths.ArtifactDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) cancelRemote(remoteID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.client.Cancel(ctx, remoteID); err != nil {
		a.logger.Warn("sandbox cancel failed", "remote_id", remoteID, "error", err)
	}
}

// cancelResult synthesizes the minimal cancelled result: a cancelled run
// that never reached its steps reports them all skipped.
func (a *Adapter) cancelResult(tracker *stageTracker, run domain.PreparedRun) domain.ExecutionResult {
	_ = tracker.advance(StageCancelled)
	now := time.Now().UTC()
	result := domain.ExecutionResult{
		RunID:  run.RunID,
		Status: domain.RunCancelled,
		Events: []domain.Event{
			{Name: domain.EventRunStart, RunID: run.RunID, Timestamp: now, Fields: domain.Metadata{
				"manifest_hash": run.Manifest.Meta.ManifestHash,
				"pipeline":      run.Manifest.Meta.Pipeline,
				"adapter":       run.Adapter,
			}},
			{Name: domain.EventRunComplete, RunID: run.RunID, Timestamp: now, Fields: domain.Metadata{
				"status": string(domain.RunCancelled),
			}},
		},
		Metrics: map[string]float64{},
	}
	for _, step := range run.Manifest.Steps {
		result.Steps = append(result.Steps, domain.StepResult{StepID: step.ID, Status: domain.StepSkipped})
	}
	return result
}

func (a *Adapter) withStageTimeout(ctx context.Context, fn func(context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, a.cfg.StageTimeout)
	defer cancel()
	return fn(stageCtx)
}

func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}
