package compile

import (
	"encoding/json"
	"fmt"

	"github.com/strata-labs/strata-go/internal/canonical"
	"github.com/strata-labs/strata-go/internal/domain"
)

// MarshalManifest serializes a manifest as canonical bytes. The manifest
// file on disk is exactly these bytes, so identical manifests are
// byte-identical files.
func MarshalManifest(m domain.Manifest) ([]byte, error) {
	return canonical.Canonicalize(manifestTree(m, true))
}

// UnmarshalManifest parses a persisted manifest. The hash fields are
// normalized and the recorded hash is checked against the recomputed one.
func UnmarshalManifest(raw []byte) (domain.Manifest, error) {
	var payload manifestPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	hash, err := canonical.NormalizeHash(payload.Meta.ManifestHash)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("manifest hash: %w", err)
	}
	m := domain.Manifest{
		Meta: domain.ManifestMeta{
			ManifestHash:           hash,
			ManifestShort:          payload.Meta.ManifestShort,
			CompilerVersion:        payload.Meta.CompilerVersion,
			Pipeline:               payload.Meta.Pipeline,
			Profile:                payload.Meta.Profile,
			DescriptionFingerprint: payload.Meta.DescriptionFingerprint,
			RegistryFingerprint:    payload.Meta.RegistryFingerprint,
			ParamsFingerprint:      payload.Meta.ParamsFingerprint,
			ExcludedSteps:          payload.Meta.ExcludedSteps,
		},
		Steps:  make([]domain.ManifestStep, 0, len(payload.Steps)),
		Params: domain.Metadata(payload.Params).Clone(),
	}
	for _, step := range payload.Steps {
		m.Steps = append(m.Steps, domain.ManifestStep{
			ID:          step.ID,
			Component:   step.Component,
			Needs:       step.Needs,
			Config:      domain.Metadata(step.Config).Clone(),
			FanOutKey:   step.FanOutKey,
			FanOutValue: step.FanOutValue,
		})
	}

	recomputed, err := ComputeManifestHash(m)
	if err != nil {
		return domain.Manifest{}, err
	}
	if recomputed != m.Meta.ManifestHash {
		return domain.Manifest{}, &domain.ManifestIntegrityError{Expected: m.Meta.ManifestHash, Actual: recomputed}
	}
	return m, nil
}

// ComputeManifestHash fingerprints the canonical manifest with both hash
// fields blanked, so the hash never covers itself.
func ComputeManifestHash(m domain.Manifest) (string, error) {
	m.Meta.ManifestHash = ""
	m.Meta.ManifestShort = ""
	return canonical.FingerprintValue(manifestTree(m, false))
}

// MarshalStepConfig renders one step's configuration file content.
func MarshalStepConfig(cfg domain.Metadata) ([]byte, error) {
	return canonical.Canonicalize(map[string]any(cfg))
}

func manifestTree(m domain.Manifest, withHash bool) map[string]any {
	meta := map[string]any{
		"compiler_version":        m.Meta.CompilerVersion,
		"pipeline":                m.Meta.Pipeline,
		"profile":                 m.Meta.Profile,
		"description_fingerprint": m.Meta.DescriptionFingerprint,
		"registry_fingerprint":    m.Meta.RegistryFingerprint,
		"params_fingerprint":      m.Meta.ParamsFingerprint,
		"excluded_steps":          stringsOrEmpty(m.Meta.ExcludedSteps),
	}
	if withHash {
		meta["manifest_hash"] = m.Meta.ManifestHash
		meta["manifest_short"] = m.Meta.ManifestShort
	}
	steps := make([]any, 0, len(m.Steps))
	for _, step := range m.Steps {
		steps = append(steps, map[string]any{
			"id":            step.ID,
			"component":     step.Component,
			"needs":         stringsOrEmpty(step.Needs),
			"config":        map[string]any(step.Config),
			"fan_out_key":   step.FanOutKey,
			"fan_out_value": step.FanOutValue,
		})
	}
	return map[string]any{
		"meta":   meta,
		"steps":  steps,
		"params": map[string]any(m.Params),
	}
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type manifestPayload struct {
	Meta   manifestMetaPayload   `json:"meta"`
	Steps  []manifestStepPayload `json:"steps"`
	Params map[string]any        `json:"params"`
}

type manifestMetaPayload struct {
	ManifestHash           string   `json:"manifest_hash"`
	ManifestShort          string   `json:"manifest_short"`
	CompilerVersion        string   `json:"compiler_version"`
	Pipeline               string   `json:"pipeline"`
	Profile                string   `json:"profile"`
	DescriptionFingerprint string   `json:"description_fingerprint"`
	RegistryFingerprint    string   `json:"registry_fingerprint"`
	ParamsFingerprint      string   `json:"params_fingerprint"`
	ExcludedSteps          []string `json:"excluded_steps"`
}

type manifestStepPayload struct {
	ID          string         `json:"id"`
	Component   string         `json:"component"`
	Needs       []string       `json:"needs"`
	Config      map[string]any `json:"config"`
	FanOutKey   string         `json:"fan_out_key"`
	FanOutValue string         `json:"fan_out_value"`
}
