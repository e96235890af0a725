// Package remote executes prepared runs on a sandbox service, moving the
// payload and artifacts through an object store. Step semantics come from
// the shared engine running inside the sandbox, so a remote run behaves
// like a local one apart from transport.
package remote

import "fmt"

// Stage is the remote run lifecycle. Transitions are forward-only except
// for cancellation, which is reachable from every non-terminal stage.
type Stage string

const (
	StagePrepared    Stage = "prepared"
	StageUploading   Stage = "uploading"
	StageExecuting   Stage = "executing"
	StageDownloading Stage = "downloading"
	StageCollected   Stage = "collected"
	StageCancelled   Stage = "cancelled"
)

var stageTransitions = map[Stage][]Stage{
	StagePrepared:    {StageUploading, StageCancelled},
	StageUploading:   {StageExecuting, StageCancelled},
	StageExecuting:   {StageDownloading, StageCancelled},
	StageDownloading: {StageCollected, StageCancelled},
	StageCollected:   {},
	StageCancelled:   {},
}

// CanTransition reports whether from may advance to to.
func CanTransition(from, to Stage) bool {
	for _, next := range stageTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// stageTracker enforces the lifecycle at runtime. An invalid advance is a
// programming error surfaced as an explicit failure, never silently applied.
type stageTracker struct {
	current Stage
}

func newStageTracker() *stageTracker {
	return &stageTracker{current: StagePrepared}
}

func (t *stageTracker) advance(to Stage) error {
	if !CanTransition(t.current, to) {
		return fmt.Errorf("invalid stage transition %s -> %s", t.current, to)
	}
	t.current = to
	return nil
}
