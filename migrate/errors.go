package migrate

import (
	"fmt"
	"strings"
)

// DuplicateIDError represents two migrations in one source sharing an
// identifier. Duplicates are never deduplicated or tiebroken; they abort the
// run before anything executes.
type DuplicateIDError struct {
	ID string
}

func (e DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate migration id %q", e.ID)
}

// DirtyError represents migrations that started but never reached a terminal
// status, usually due to a process interruption. A run refuses to proceed
// while dirty migrations exist, unless explicitly overridden.
type DirtyError struct {
	IDs []string
}

func (e DirtyError) Error() string {
	return fmt.Sprintf("dirty migrations found: %s", strings.Join(e.IDs, ", "))
}

// FailedError represents previously failed migrations blocking a new run.
// They must be retried or removed first, unless the run overrides the gate.
type FailedError struct {
	IDs []string
}

func (e FailedError) Error() string {
	return fmt.Sprintf("previously failed migrations found: %s", strings.Join(e.IDs, ", "))
}

// Kind identifies which of a migration's two checksums is meant.
type Kind string

// The two checksum kinds.
const (
	KindUp   Kind = "up"
	KindDown Kind = "down"
)

// Mismatch describes drift between a migration's recorded checksum and its
// checksum as currently defined. It is produced by validation only, never
// persisted.
type Mismatch struct {
	ID      string
	Kind    Kind
	Stored  string
	Current string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s checksum of %q changed: recorded %s, current %s",
		m.Kind, m.ID, m.Stored, m.Current)
}

// ValidationError aggregates all checksum mismatches found during a
// validation pass.
type ValidationError struct {
	Mismatches []Mismatch
}

func (e ValidationError) Error() string {
	descs := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		descs[i] = m.String()
	}
	return fmt.Sprintf("checksum validation failed: %s", strings.Join(descs, "; "))
}

// ExecError represents a migration whose apply or reverse operation failed.
// The failure is recorded durably before this error propagates.
type ExecError struct {
	ID  string
	Err error
}

func (e ExecError) Error() string {
	return fmt.Sprintf("migration %q failed: %s", e.ID, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e ExecError) Unwrap() error {
	return e.Err
}

// ChecksumSizeError represents a checksum of the wrong length passed to the
// tracker.
type ChecksumSizeError struct {
	ID   string
	Kind Kind
	Len  int
}

func (e ChecksumSizeError) Error() string {
	return fmt.Sprintf("%s checksum of %q must be 32 bytes, got %d", e.Kind, e.ID, e.Len)
}

// NotFoundError represents an identifier with no tracking record.
type NotFoundError struct {
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no record of migration %q", e.ID)
}

// StateError represents a recovery operation invoked on a record in the
// wrong state, e.g. retrying a migration that didn't fail.
type StateError struct {
	ID     string
	Status Status
	Want   Status
}

func (e StateError) Error() string {
	return fmt.Sprintf("migration %q is %s, not %s", e.ID, e.Status, e.Want)
}
