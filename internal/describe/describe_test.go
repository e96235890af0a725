package describe

import (
	"errors"
	"strings"
	"testing"

	"github.com/strata-labs/strata-go/internal/domain"
)

const validDoc = `
apiVersion: strata/v1
kind: Pipeline
metadata:
  name: orders
  version: "1.2"
steps:
  - id: extract
    uses: rowgen
    config:
      rows: 10
  - id: load
    uses: rowcount
    needs: [extract]
    forEach: [us, eu]
`

func TestParseValidDocument(t *testing.T) {
	desc, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse() err=%v", err)
	}
	if desc.Name != "orders" {
		t.Fatalf("got name %q, want orders", desc.Name)
	}
	if len(desc.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(desc.Steps))
	}
	if got := desc.Steps[1].ForEach; len(got) != 2 || got[0] != "us" || got[1] != "eu" {
		t.Fatalf("forEach preserved declaration order, got %v", got)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("steps: [")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestValidateAggregatesIssues(t *testing.T) {
	desc := domain.PipelineDescription{
		APIVersion: "strata/v1",
		Kind:       "Pipeline",
		Name:       "p",
		Steps: []domain.StepSpec{
			{ID: "a", Uses: ""},
			{ID: "a", Uses: "x"},
			{ID: "b", Uses: "x", Needs: []string{"missing", "b"}},
		},
	}
	err := Validate(desc)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, want := range []string{"uses is required", "duplicate step id", "unknown step", "depends on itself"} {
		if !strings.Contains(verr.Error(), want) {
			t.Fatalf("expected issue %q in %q", want, verr.Error())
		}
	}
}

func TestValidateRejectsBracketedIDs(t *testing.T) {
	desc := domain.PipelineDescription{
		APIVersion: "strata/v1",
		Kind:       "Pipeline",
		Name:       "p",
		Steps:      []domain.StepSpec{{ID: "step[eu]", Uses: "x"}},
	}
	if err := Validate(desc); err == nil {
		t.Fatalf("expected bracketed id to be rejected")
	}
}

func TestValidateRejectsDuplicateFanOutValues(t *testing.T) {
	desc := domain.PipelineDescription{
		APIVersion: "strata/v1",
		Kind:       "Pipeline",
		Name:       "p",
		Steps:      []domain.StepSpec{{ID: "s", Uses: "x", ForEach: []string{"eu", "eu"}}},
	}
	if err := Validate(desc); err == nil {
		t.Fatalf("expected duplicate forEach value to be rejected")
	}
}
