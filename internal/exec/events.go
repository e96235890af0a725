package exec

import (
	"sync"
	"time"

	"github.com/strata-labs/strata-go/internal/domain"
)

// recorder accumulates the ordered event stream for one run. It is safe for
// concurrent use by parallel step workers.
type recorder struct {
	mu     sync.Mutex
	runID  string
	now    func() time.Time
	events []domain.Event
}

func newRecorder(runID string, now func() time.Time) *recorder {
	if now == nil {
		now = time.Now
	}
	return &recorder{runID: runID, now: now}
}

func (r *recorder) run(name domain.EventName, fields domain.Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, domain.Event{
		Name:      name,
		RunID:     r.runID,
		Timestamp: r.now().UTC(),
		Fields:    fields,
	})
}

func (r *recorder) step(name domain.EventName, stepID string, duration time.Duration, fields domain.Metadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, domain.Event{
		Name:       name,
		RunID:      r.runID,
		StepID:     stepID,
		Timestamp:  r.now().UTC(),
		DurationMs: duration.Milliseconds(),
		Fields:     fields,
	})
}

func (r *recorder) snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// metricSink collects one step's metric observations.
type metricSink struct {
	mu     sync.Mutex
	values map[string]float64
}

func newMetricSink() *metricSink {
	return &metricSink{values: make(map[string]float64)}
}

func (s *metricSink) Observe(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
}

func (s *metricSink) snapshot() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return nil
	}
	out := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
