package domain

import (
	"fmt"
	"strings"
)

// UnresolvedParameterError reports a ${params.*} placeholder left after
// resolution, naming the offending configuration path.
type UnresolvedParameterError struct {
	Path string
	Name string
}

func (e *UnresolvedParameterError) Error() string {
	return fmt.Sprintf("unresolved_parameter: %q at %s", e.Name, e.Path)
}

// SecretInlineForbiddenError reports a literal value occupying a
// component-declared secret path.
type SecretInlineForbiddenError struct {
	StepID string
	Path   string
}

func (e *SecretInlineForbiddenError) Error() string {
	return fmt.Sprintf("secret_inline_forbidden: step %q carries a literal value at secret path %s", e.StepID, e.Path)
}

// DependencyCycleError names the member ids of a dependency cycle.
type DependencyCycleError struct {
	Members []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency_cycle: %s", strings.Join(e.Members, " -> "))
}

// CacheMissError is returned under cache mode "never" when no compiled
// manifest exists for the key.
type CacheMissError struct {
	Key string
}

func (e *CacheMissError) Error() string {
	return fmt.Sprintf("cache_miss: no compiled manifest for key %s", e.Key)
}

// ManifestIntegrityError reports a stored manifest whose recomputed hash
// no longer matches its recorded hash.
type ManifestIntegrityError struct {
	Expected string
	Actual   string
}

func (e *ManifestIntegrityError) Error() string {
	return fmt.Sprintf("manifest_integrity: recorded hash %s, recomputed %s", e.Expected, e.Actual)
}

// RemoteTransferError reports a failed remote stage (package, upload,
// submit, poll, download, collect).
type RemoteTransferError struct {
	Stage string
	Err   error
}

func (e *RemoteTransferError) Error() string {
	return fmt.Sprintf("remote_transfer: stage %s: %v", e.Stage, e.Err)
}

func (e *RemoteTransferError) Unwrap() error { return e.Err }

// StepExecutionError wraps an underlying driver failure with its step id.
type StepExecutionError struct {
	StepID string
	Err    error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step_execution: step %q: %v", e.StepID, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// IndexCorruptionError reports a malformed run index record.
type IndexCorruptionError struct {
	Source string
	Line   int
	Err    error
}

func (e *IndexCorruptionError) Error() string {
	return fmt.Sprintf("index_corruption: %s line %d: %v", e.Source, e.Line, e.Err)
}

func (e *IndexCorruptionError) Unwrap() error { return e.Err }
