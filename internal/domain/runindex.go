package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunIndexRecord is one append-only entry in the run index, written once per
// completed run and grouped by manifest hash for delta lookups.
type RunIndexRecord struct {
	ManifestHash     string
	RunID            string
	Timestamp        time.Time
	Metrics          map[string]float64
	ArtifactLocation string
}

// Validate enforces the write-path invariants. A prefixed or non-hex
// manifest hash is a hard error, not a warning: prefixed hashes silently
// broke delta grouping historically.
func (r RunIndexRecord) Validate() error {
	if err := ValidatePureHex(r.ManifestHash); err != nil {
		return fmt.Errorf("manifest hash: %w", err)
	}
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run id is required")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// MetricDelta compares one tracked metric against the previous run.
// ChangePercent is nil (not an error) when the previous value is zero.
type MetricDelta struct {
	Previous      float64
	Current       float64
	Change        float64
	ChangePercent *float64
}

// RunDelta is the outcome of comparing a run against the most recent prior
// run sharing its manifest hash.
type RunDelta struct {
	FirstRun      bool
	PreviousRunID string
	Metrics       map[string]MetricDelta
}
