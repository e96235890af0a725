// Package sandbox is the executing side of remote runs. It downloads a
// transported payload, runs it through the shared step engine and publishes
// the result and artifacts back to the object store.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/exec"
	"github.com/strata-labs/strata-go/internal/exec/remote"
	"github.com/strata-labs/strata-go/internal/registry"
)

// Service executes transported runs. It shares the step engine with the
// local adapter, so step semantics cannot drift between backends.
type Service struct {
	registry registry.Registry
	transfer remote.Transfer
	engine   *exec.Engine
	logger   *slog.Logger
	scratch  string
}

// Config carries the service collaborators.
type Config struct {
	Registry   registry.Registry
	Transfer   remote.Transfer
	Runner     exec.RunnerConfig
	Logger     *slog.Logger
	ScratchDir string
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Transfer == nil {
		return nil, errors.New("transfer is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := exec.NewEngine(cfg.Registry, logger, cfg.Runner)
	if err != nil {
		return nil, err
	}
	scratch := cfg.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}
	return &Service{
		registry: cfg.Registry,
		transfer: cfg.Transfer,
		engine:   engine,
		logger:   logger,
		scratch:  scratch,
	}, nil
}

// ExecutePayload runs one transported payload to completion and returns the
// object key of the published result.
func (s *Service) ExecutePayload(ctx context.Context, payloadKey string) (string, error) {
	if s == nil || s.engine == nil {
		return "", errors.New("service not initialized")
	}
	data, err := s.transfer.Download(ctx, payloadKey)
	if err != nil {
		return "", &domain.RemoteTransferError{Stage: "download", Err: err}
	}
	run, err := remote.UnmarshalRun(data)
	if err != nil {
		return "", &domain.RemoteTransferError{Stage: "download", Err: err}
	}

	workDir, err := os.MkdirTemp(s.scratch, "run-"+run.RunID+"-*")
	if err != nil {
		return "", fmt.Errorf("create sandbox work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	run.Paths.WorkDir = workDir
	run.Paths.StepConfigDir = filepath.Join(workDir, "config")
	run.Paths.ArtifactDir = filepath.Join(workDir, "artifacts")
	if err := exec.MaterializeRunDirs(run); err != nil {
		return "", err
	}

	s.logger.Info("sandbox run started",
		"run_id", run.RunID,
		"pipeline", run.Manifest.Meta.Pipeline,
		"manifest_short", run.Manifest.Meta.ManifestShort,
	)
	result, err := s.engine.Run(ctx, run)
	if err != nil {
		return "", err
	}

	if err := s.publishArtifacts(ctx, run); err != nil {
		return "", &domain.RemoteTransferError{Stage: "upload", Err: err}
	}
	resultData, err := remote.MarshalResult(result)
	if err != nil {
		return "", err
	}
	resultKey := remote.ResultKey(run.Paths.RemoteNamespace)
	if err := s.transfer.Upload(ctx, resultKey, resultData); err != nil {
		return "", &domain.RemoteTransferError{Stage: "upload", Err: err}
	}
	s.logger.Info("sandbox run finished", "run_id", run.RunID, "status", string(result.Status))
	return resultKey, nil
}

func (s *Service) publishArtifacts(ctx context.Context, run domain.PreparedRun) error {
	files, err := exec.InventoryArtifacts(run.Paths.ArtifactDir)
	if err != nil {
		return err
	}
	for _, file := range files {
		body, err := os.ReadFile(filepath.Join(run.Paths.ArtifactDir, filepath.FromSlash(file.Path)))
		if err != nil {
			return err
		}
		key := remote.ArtifactKey(run.Paths.RemoteNamespace, file.Path)
		if err := s.transfer.Upload(ctx, key, body); err != nil {
			return err
		}
	}
	return nil
}
