// Package exec owns run preparation and step execution. One step engine
// serves every adapter, so local and remote runs share step semantics by
// construction rather than by convention.
package exec

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/strata-labs/strata-go/internal/domain"
	"github.com/strata-labs/strata-go/internal/registry"
)

// Adapter is the execution backend contract. Prepare derives the neutral
// run payload, Execute runs it, Collect gathers the produced artifacts.
type Adapter interface {
	Name() string
	Prepare(ctx context.Context, m domain.Manifest, params domain.RunParams, workDir string) (domain.PreparedRun, error)
	Execute(ctx context.Context, run domain.PreparedRun) (domain.ExecutionResult, error)
	Collect(ctx context.Context, run domain.PreparedRun, result domain.ExecutionResult) (domain.CollectedArtifacts, error)
}

// RunnerConfig bounds step execution. Zero values mean sequential execution
// with no per-step timeout.
type RunnerConfig struct {
	MaxParallel int
	StepTimeout time.Duration
	LookupEnv   func(string) (string, bool)
}

const secretEnvPrefix = "STRATA_CONN_"

// PrepareRun derives the adapter-neutral payload from a manifest. The
// payload references connection secrets by environment variable name only.
func PrepareRun(reg registry.Registry, m domain.Manifest, params domain.RunParams, adapter, workDir string) (domain.PreparedRun, error) {
	if reg == nil {
		return domain.PreparedRun{}, errors.New("registry is required")
	}
	if strings.TrimSpace(workDir) == "" {
		return domain.PreparedRun{}, errors.New("work directory is required")
	}
	if err := m.Validate(); err != nil {
		return domain.PreparedRun{}, fmt.Errorf("manifest: %w", err)
	}

	runID := uuid.NewString()
	configs := make(map[string]domain.Metadata, len(m.Steps))
	seen := make(map[string]bool)
	var connections []domain.ConnectionDescriptor
	for _, step := range m.Steps {
		configs[step.ID] = step.Config.Clone()
		spec, err := reg.Component(step.Component)
		if err != nil {
			return domain.PreparedRun{}, fmt.Errorf("step %q: %w", step.ID, err)
		}
		for _, name := range spec.Connections {
			if seen[name] {
				continue
			}
			seen[name] = true
			connections = append(connections, domain.ConnectionDescriptor{
				Name:      name,
				Component: spec.Name,
				SecretEnv: secretEnvPrefix + strings.ToUpper(name),
			})
		}
	}

	run := domain.PreparedRun{
		RunID:       runID,
		Adapter:     adapter,
		Manifest:    m,
		Connections: connections,
		StepConfigs: configs,
		Paths: domain.RunPaths{
			WorkDir:         workDir,
			StepConfigDir:   filepath.Join(workDir, "config"),
			ArtifactDir:     filepath.Join(workDir, "artifacts"),
			RemoteNamespace: "remote/" + runID,
		},
		Params: params,
	}
	if err := run.Validate(); err != nil {
		return domain.PreparedRun{}, err
	}
	return run, nil
}
