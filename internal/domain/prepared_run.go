package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ConnectionDescriptor names a connection a step driver requires. Secret
// material is referenced by environment variable name only; the value is
// injected by the executing environment, never carried here.
type ConnectionDescriptor struct {
	Name      string
	Component string
	SecretEnv string
}

// RunPaths is the input/output layout of a prepared run.
type RunPaths struct {
	WorkDir         string
	StepConfigDir   string
	ArtifactDir     string
	RemoteNamespace string
}

// RunParams are the caller-supplied execution parameters.
type RunParams struct {
	Profile string
	Flags   map[string]string
	Seed    int64
}

// PreparedRun is the adapter-neutral execution payload derived from a
// manifest. It carries no secret values under any circumstance.
type PreparedRun struct {
	RunID       string
	Adapter     string
	Manifest    Manifest
	Connections []ConnectionDescriptor
	StepConfigs map[string]Metadata
	Paths       RunPaths
	Params      RunParams
}

func (p PreparedRun) Validate() error {
	if strings.TrimSpace(p.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(p.Adapter) == "" {
		return errors.New("adapter is required")
	}
	if err := p.Manifest.Validate(); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	for _, step := range p.Manifest.Steps {
		if _, ok := p.StepConfigs[step.ID]; !ok {
			return fmt.Errorf("step %q has no prepared configuration", step.ID)
		}
	}
	for _, conn := range p.Connections {
		if strings.TrimSpace(conn.SecretEnv) == "" {
			return fmt.Errorf("connection %q has no secret env reference", conn.Name)
		}
	}
	return nil
}
