package domain

import (
	"strings"
)

// PipelineDescription is the validated input to compilation. It is produced
// by the authoring flow upstream and is read-only to the compiler.
type PipelineDescription struct {
	APIVersion string
	Kind       string
	Name       string
	Version    string
	Steps      []StepSpec
}

// StepSpec is one declared step before expansion and resolution. Config may
// still contain ${params.*} placeholders; ForEach is always a literal
// enumeration, never a query.
type StepSpec struct {
	ID      string
	Uses    string
	Config  Metadata
	Needs   []string
	ForEach []string
	When    string
}

// StepIDSet returns the set of declared step ids, skipping blanks.
func (p PipelineDescription) StepIDSet() map[string]struct{} {
	ids := make(map[string]struct{}, len(p.Steps))
	for _, step := range p.Steps {
		if strings.TrimSpace(step.ID) == "" {
			continue
		}
		ids[step.ID] = struct{}{}
	}
	return ids
}
