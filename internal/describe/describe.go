// Package describe parses and validates pipeline description documents.
// Descriptions are authored upstream; this package is the read-only entry
// point the compiler consumes them through.
package describe

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/strata-labs/strata-go/internal/domain"
)

const APIVersionV1 = "strata/v1"

const KindPipeline = "Pipeline"

// Step ids must leave brackets free for fan-out child ids.
var stepIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

type document struct {
	APIVersion string         `yaml:"apiVersion"`
	Kind       string         `yaml:"kind"`
	Metadata   docMetadata    `yaml:"metadata"`
	Steps      []documentStep `yaml:"steps"`
}

type docMetadata struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type documentStep struct {
	ID      string         `yaml:"id"`
	Uses    string         `yaml:"uses"`
	Config  map[string]any `yaml:"config"`
	Needs   []string       `yaml:"needs"`
	ForEach []string       `yaml:"forEach"`
	When    string         `yaml:"when"`
}

// Parse decodes a YAML pipeline description and validates its shape.
func Parse(input []byte) (domain.PipelineDescription, error) {
	var doc document
	if err := yaml.Unmarshal(input, &doc); err != nil {
		return domain.PipelineDescription{}, fmt.Errorf("decode description: %w", err)
	}
	desc := domain.PipelineDescription{
		APIVersion: doc.APIVersion,
		Kind:       doc.Kind,
		Name:       doc.Metadata.Name,
		Version:    doc.Metadata.Version,
		Steps:      make([]domain.StepSpec, 0, len(doc.Steps)),
	}
	for _, step := range doc.Steps {
		desc.Steps = append(desc.Steps, domain.StepSpec{
			ID:      step.ID,
			Uses:    step.Uses,
			Config:  domain.Metadata(step.Config).Clone(),
			Needs:   append([]string(nil), step.Needs...),
			ForEach: append([]string(nil), step.ForEach...),
			When:    step.When,
		})
	}
	if err := Validate(desc); err != nil {
		return domain.PipelineDescription{}, err
	}
	return desc, nil
}

// Validate performs strict structural validation of a description.
func Validate(desc domain.PipelineDescription) error {
	issues := &ValidationError{}

	if strings.TrimSpace(desc.APIVersion) != APIVersionV1 {
		issues.Add(fmt.Sprintf("apiVersion must be %q", APIVersionV1))
	}
	if strings.TrimSpace(desc.Kind) != KindPipeline {
		issues.Add(fmt.Sprintf("kind must be %q", KindPipeline))
	}
	if strings.TrimSpace(desc.Name) == "" {
		issues.Add("metadata.name is required")
	}
	if len(desc.Steps) == 0 {
		issues.Add("steps must contain at least one step")
		return issues.OrNil()
	}

	ids := make(map[string]struct{}, len(desc.Steps))
	for i, step := range desc.Steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			issues.Add(fmt.Sprintf("step[%d] id is required", i))
			continue
		}
		if !stepIDPattern.MatchString(id) {
			issues.Add(fmt.Sprintf("step[%s] id must match %s", id, stepIDPattern.String()))
		}
		if _, dup := ids[id]; dup {
			issues.Add(fmt.Sprintf("duplicate step id %q", id))
		}
		ids[id] = struct{}{}

		if strings.TrimSpace(step.Uses) == "" {
			issues.Add(fmt.Sprintf("step[%s] uses is required", id))
		}
		seenValues := make(map[string]struct{}, len(step.ForEach))
		for _, value := range step.ForEach {
			if strings.TrimSpace(value) == "" {
				issues.Add(fmt.Sprintf("step[%s] forEach values must be non-empty", id))
				continue
			}
			if _, dup := seenValues[value]; dup {
				issues.Add(fmt.Sprintf("step[%s] forEach value %q is duplicated", id, value))
			}
			seenValues[value] = struct{}{}
		}
	}

	for _, step := range desc.Steps {
		for _, need := range step.Needs {
			need = strings.TrimSpace(need)
			if need == "" {
				issues.Add(fmt.Sprintf("step[%s] needs entries must be non-empty", step.ID))
				continue
			}
			if need == step.ID {
				issues.Add(fmt.Sprintf("step[%s] depends on itself", step.ID))
				continue
			}
			if _, ok := ids[need]; !ok {
				issues.Add(fmt.Sprintf("step[%s] needs unknown step %q", step.ID, need))
			}
		}
	}

	return issues.OrNil()
}
