package exec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/strata-labs/strata-go/internal/canonical"
	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/registry"
)

// LocalAdapter executes a run in-process against the local filesystem.
type LocalAdapter struct {
	registry registry.Registry
	engine   *Engine
	logger   *slog.Logger
}

func NewLocalAdapter(reg registry.Registry, logger *slog.Logger, cfg RunnerConfig) (*LocalAdapter, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := NewEngine(reg, logger, cfg)
	if err != nil {
		return nil, err
	}
	return &LocalAdapter{registry: reg, engine: engine, logger: logger}, nil
}

func (a *LocalAdapter) Name() string { return "local" }

// Prepare derives the run payload and materializes the work directory
// layout, including one canonical config file per step.
func (a *LocalAdapter) Prepare(_ context.Context, m domain.Manifest, params domain.RunParams, workDir string) (domain.PreparedRun, error) {
	if a == nil {
		return domain.PreparedRun{}, errors.New("adapter not initialized")
	}
	run, err := PrepareRun(a.registry, m, params, a.Name(), workDir)
	if err != nil {
		return domain.PreparedRun{}, err
	}
	if err := MaterializeRunDirs(run); err != nil {
		return domain.PreparedRun{}, err
	}
	return run, nil
}

func (a *LocalAdapter) Execute(ctx context.Context, run domain.PreparedRun) (domain.ExecutionResult, error) {
	if a == nil || a.engine == nil {
		return domain.ExecutionResult{}, errors.New("adapter not initialized")
	}
	return a.engine.Run(ctx, run)
}

// Collect inventories the artifact directory. It reads and hashes files
// without moving them, so repeated collection yields the same inventory.
func (a *LocalAdapter) Collect(_ context.Context, run domain.PreparedRun, result domain.ExecutionResult) (domain.CollectedArtifacts, error) {
	if a == nil {
		return domain.CollectedArtifacts{}, errors.New("adapter not initialized")
	}
	files, err := InventoryArtifacts(run.Paths.ArtifactDir)
	if err != nil {
		return domain.CollectedArtifacts{}, err
	}
	return domain.CollectedArtifacts{RunID: run.RunID, Files: files}, nil
}

// MaterializeRunDirs creates the run directory layout and writes one
// canonical config file per step.
func MaterializeRunDirs(run domain.PreparedRun) error {
	for _, dir := range []string{run.Paths.WorkDir, run.Paths.StepConfigDir, run.Paths.ArtifactDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create run directory: %w", err)
		}
	}
	for stepID, cfg := range run.StepConfigs {
		data, err := canonical.Canonicalize(map[string]any(cfg))
		if err != nil {
			return fmt.Errorf("encode config for step %q: %w", stepID, err)
		}
		path := filepath.Join(run.Paths.StepConfigDir, stepID+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write config for step %q: %w", stepID, err)
		}
	}
	return nil
}

// InventoryArtifacts lists, sizes and hashes every file under dir, sorted
// by relative path. A missing directory is an empty inventory.
func InventoryArtifacts(dir string) ([]domain.ArtifactFile, error) {
	var files []domain.ArtifactFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		digest, size, err := hashFile(path)
		if err != nil {
			return err
		}
		files = append(files, domain.ArtifactFile{
			Path:   filepath.ToSlash(rel),
			Size:   size,
			SHA256: digest,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("inventory artifacts: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
