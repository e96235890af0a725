package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/strata-labs/strata-go/internal/compile"
	"github.com/strata-labs/strata-go/internal/domain"
)

// Object keys inside a run's remote namespace.
const (
	payloadObject  = "payload.json"
	resultObject   = "result.json"
	artifactPrefix = "artifacts/"
)

type runPayload struct {
	RunID           string                    `json:"run_id"`
	Adapter         string                    `json:"adapter"`
	Manifest        json.RawMessage           `json:"manifest"`
	Connections     []connectionPayload       `json:"connections,omitempty"`
	StepConfigs     map[string]map[string]any `json:"step_configs"`
	RemoteNamespace string                    `json:"remote_namespace"`
	Profile         string                    `json:"profile,omitempty"`
	Flags           map[string]string         `json:"flags,omitempty"`
	Seed            int64                     `json:"seed,omitempty"`
}

type connectionPayload struct {
	Name      string `json:"name"`
	Component string `json:"component"`
	SecretEnv string `json:"secret_env"`
}

// MarshalRun encodes a prepared run for transport. Host-local paths never
// leave the submitting machine; the sandbox lays out its own directories.
func MarshalRun(run domain.PreparedRun) ([]byte, error) {
	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("prepared run: %w", err)
	}
	manifest, err := compile.MarshalManifest(run.Manifest)
	if err != nil {
		return nil, err
	}
	payload := runPayload{
		RunID:           run.RunID,
		Adapter:         run.Adapter,
		Manifest:        manifest,
		RemoteNamespace: run.Paths.RemoteNamespace,
		Profile:         run.Params.Profile,
		Flags:           run.Params.Flags,
		Seed:            run.Params.Seed,
		StepConfigs:     make(map[string]map[string]any, len(run.StepConfigs)),
	}
	for id, cfg := range run.StepConfigs {
		payload.StepConfigs[id] = map[string]any(cfg.Clone())
	}
	for _, conn := range run.Connections {
		payload.Connections = append(payload.Connections, connectionPayload(conn))
	}
	return json.Marshal(payload)
}

// UnmarshalRun decodes a transported run. The manifest's integrity hash is
// verified during decoding; local paths are left for the executing side.
func UnmarshalRun(data []byte) (domain.PreparedRun, error) {
	var payload runPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.PreparedRun{}, fmt.Errorf("decode run payload: %w", err)
	}
	manifest, err := compile.UnmarshalManifest(payload.Manifest)
	if err != nil {
		return domain.PreparedRun{}, err
	}
	run := domain.PreparedRun{
		RunID:    payload.RunID,
		Adapter:  payload.Adapter,
		Manifest: manifest,
		Paths:    domain.RunPaths{RemoteNamespace: payload.RemoteNamespace},
		Params: domain.RunParams{
			Profile: payload.Profile,
			Flags:   payload.Flags,
			Seed:    payload.Seed,
		},
		StepConfigs: make(map[string]domain.Metadata, len(payload.StepConfigs)),
	}
	for id, cfg := range payload.StepConfigs {
		run.StepConfigs[id] = domain.Metadata(cfg)
	}
	for _, conn := range payload.Connections {
		run.Connections = append(run.Connections, domain.ConnectionDescriptor(conn))
	}
	return run, nil
}

type resultPayload struct {
	RunID   string               `json:"run_id"`
	Status  string               `json:"status"`
	Events  []eventPayload       `json:"events"`
	Steps   []stepResultPayload  `json:"steps"`
	Metrics map[string]float64   `json:"metrics,omitempty"`
}

type eventPayload struct {
	Name       string         `json:"name"`
	RunID      string         `json:"run_id"`
	StepID     string         `json:"step_id,omitempty"`
	Timestamp  string         `json:"timestamp"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

type stepResultPayload struct {
	StepID  string             `json:"step_id"`
	Status  string             `json:"status"`
	Error   string             `json:"error,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// MarshalResult encodes an execution result for transport.
func MarshalResult(result domain.ExecutionResult) ([]byte, error) {
	payload := resultPayload{
		RunID:   result.RunID,
		Status:  string(result.Status),
		Metrics: result.Metrics,
	}
	for _, e := range result.Events {
		payload.Events = append(payload.Events, eventPayload{
			Name:       string(e.Name),
			RunID:      e.RunID,
			StepID:     e.StepID,
			Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
			DurationMs: e.DurationMs,
			Fields:     map[string]any(e.Fields),
		})
	}
	for _, s := range result.Steps {
		payload.Steps = append(payload.Steps, stepResultPayload{
			StepID:  s.StepID,
			Status:  string(s.Status),
			Error:   s.Error,
			Metrics: s.Metrics,
		})
	}
	return json.Marshal(payload)
}

// UnmarshalResult decodes a transported execution result.
func UnmarshalResult(data []byte) (domain.ExecutionResult, error) {
	var payload resultPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("decode result payload: %w", err)
	}
	result := domain.ExecutionResult{
		RunID:   payload.RunID,
		Status:  domain.RunStatus(payload.Status),
		Metrics: payload.Metrics,
	}
	for _, e := range payload.Events {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			return domain.ExecutionResult{}, fmt.Errorf("decode event timestamp: %w", err)
		}
		result.Events = append(result.Events, domain.Event{
			Name:       domain.EventName(e.Name),
			RunID:      e.RunID,
			StepID:     e.StepID,
			Timestamp:  ts,
			DurationMs: e.DurationMs,
			Fields:     domain.Metadata(e.Fields),
		})
	}
	for _, s := range payload.Steps {
		result.Steps = append(result.Steps, domain.StepResult{
			StepID:  s.StepID,
			Status:  domain.StepStatus(s.Status),
			Error:   s.Error,
			Metrics: s.Metrics,
		})
	}
	return result, nil
}

// PayloadKey returns the object key carrying a run's transported payload.
func PayloadKey(namespace string) string { return namespace + "/" + payloadObject }

// ResultKey returns the object key carrying a run's execution result.
func ResultKey(namespace string) string { return namespace + "/" + resultObject }

// ArtifactKey returns the object key for one artifact file.
func ArtifactKey(namespace, rel string) string {
	return namespace + "/" + artifactPrefix + rel
}
