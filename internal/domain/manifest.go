package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ManifestMeta is the provenance block of a compiled manifest. ManifestHash
// and ManifestShort are computed over the canonical serialization of the
// manifest with both fields blanked.
type ManifestMeta struct {
	ManifestHash           string
	ManifestShort          string
	CompilerVersion        string
	Pipeline               string
	Profile                string
	DescriptionFingerprint string
	RegistryFingerprint    string
	ParamsFingerprint      string
	ExcludedSteps          []string
}

// ManifestStep is one fully resolved, expanded step in topological order.
type ManifestStep struct {
	ID          string
	Component   string
	Needs       []string
	Config      Metadata
	FanOutKey   string
	FanOutValue string
}

// Manifest is the compiler's output: a reproducible, secret-free execution
// plan. Immutable once written; content-addressed by Meta.ManifestHash.
type Manifest struct {
	Meta   ManifestMeta
	Steps  []ManifestStep
	Params Metadata
}

// StepIndex returns manifest steps keyed by id.
func (m Manifest) StepIndex() map[string]ManifestStep {
	idx := make(map[string]ManifestStep, len(m.Steps))
	for _, step := range m.Steps {
		idx[step.ID] = step
	}
	return idx
}

func (m Manifest) Validate() error {
	if err := ValidatePureHex(m.Meta.ManifestHash); err != nil {
		return fmt.Errorf("manifest hash: %w", err)
	}
	if strings.TrimSpace(m.Meta.ManifestShort) == "" {
		return errors.New("manifest short hash is required")
	}
	if !strings.HasPrefix(m.Meta.ManifestHash, m.Meta.ManifestShort) {
		return errors.New("manifest short hash does not match manifest hash")
	}
	if strings.TrimSpace(m.Meta.CompilerVersion) == "" {
		return errors.New("compiler version is required")
	}
	if len(m.Steps) == 0 {
		return errors.New("manifest has no steps")
	}
	seen := make(map[string]struct{}, len(m.Steps))
	for _, step := range m.Steps {
		if strings.TrimSpace(step.ID) == "" {
			return errors.New("manifest step id is required")
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("duplicate manifest step id %q", step.ID)
		}
		seen[step.ID] = struct{}{}
		if strings.TrimSpace(step.Component) == "" {
			return fmt.Errorf("step %q component is required", step.ID)
		}
	}
	for _, step := range m.Steps {
		for _, need := range step.Needs {
			if _, ok := seen[need]; !ok {
				return fmt.Errorf("step %q needs unknown step %q", step.ID, need)
			}
		}
	}
	return nil
}

// ValidatePureHex rejects empty, prefixed, or otherwise non-hex digests.
// Prefixed digests must be normalized before they reach a domain boundary.
func ValidatePureHex(digest string) error {
	if digest == "" {
		return errors.New("digest is required")
	}
	if strings.Contains(digest, ":") {
		return fmt.Errorf("digest %q carries an algorithm prefix", digest)
	}
	if digest != strings.ToLower(digest) {
		return fmt.Errorf("digest %q is not lowercase hex", digest)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("digest %q is not pure hex", digest)
	}
	return nil
}
