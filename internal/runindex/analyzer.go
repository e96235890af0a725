package runindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/strata-labs/strata-go/internal/domain"
)

// Analyzer couples the record write path with delta derivation. Delta never
// fails a run: index read problems degrade to a first-run result.
type Analyzer struct {
	store  Store
	logger *slog.Logger
}

func NewAnalyzer(store Store, logger *slog.Logger) (*Analyzer, error) {
	if store == nil {
		return nil, errors.New("run index store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: store, logger: logger}, nil
}

// Record appends one completed run to the index.
func (a *Analyzer) Record(ctx context.Context, pipeline string, rec domain.RunIndexRecord) error {
	if a == nil || a.store == nil {
		return errors.New("analyzer not initialized")
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("run index record: %w", err)
	}
	return a.store.Append(ctx, pipeline, rec)
}

// Delta compares a completed run against the most recent prior run sharing
// its manifest hash. The prior run is chosen by timestamp, newest first,
// skipping the current run id.
func (a *Analyzer) Delta(ctx context.Context, pipeline string, current domain.RunIndexRecord) (domain.RunDelta, error) {
	if a == nil || a.store == nil {
		return domain.RunDelta{}, errors.New("analyzer not initialized")
	}
	if err := current.Validate(); err != nil {
		return domain.RunDelta{}, fmt.Errorf("current run: %w", err)
	}

	records, err := a.store.Query(ctx, pipeline, current.ManifestHash)
	if err != nil {
		a.logger.Warn("run index query failed, reporting first run",
			"pipeline", pipeline,
			"manifest_hash", current.ManifestHash,
			"error", err,
		)
		return domain.RunDelta{FirstRun: true}, nil
	}

	previous, ok := latestPrior(records, current)
	if !ok {
		return domain.RunDelta{FirstRun: true}, nil
	}

	deltas := make(map[string]domain.MetricDelta, len(current.Metrics))
	for name, cur := range current.Metrics {
		prev, ok := previous.Metrics[name]
		if !ok {
			continue
		}
		d := domain.MetricDelta{
			Previous: prev,
			Current:  cur,
			Change:   cur - prev,
		}
		if prev != 0 {
			pct := round1((cur - prev) / prev * 100)
			d.ChangePercent = &pct
		}
		deltas[name] = d
	}
	return domain.RunDelta{PreviousRunID: previous.RunID, Metrics: deltas}, nil
}

func latestPrior(records []domain.RunIndexRecord, current domain.RunIndexRecord) (domain.RunIndexRecord, bool) {
	prior := make([]domain.RunIndexRecord, 0, len(records))
	for _, r := range records {
		if r.RunID == current.RunID {
			continue
		}
		if r.Timestamp.After(current.Timestamp) {
			continue
		}
		prior = append(prior, r)
	}
	if len(prior) == 0 {
		return domain.RunIndexRecord{}, false
	}
	sort.SliceStable(prior, func(i, j int) bool {
		if !prior[i].Timestamp.Equal(prior[j].Timestamp) {
			return prior[i].Timestamp.After(prior[j].Timestamp)
		}
		return prior[i].RunID > prior[j].RunID
	})
	return prior[0], true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
