// Package ledger implements the migration ledger: a durable, append-only log
// of per-file migration outcomes, folded on open into an in-memory index of
// the latest status per file id.
//
// The ledger is the single source of truth shared by every phase and every
// process run. The dump phase consults it to skip finished files, and the
// metadata and removal phases take their worklists from it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// Status is the migration phase status of one file.
type Status string

const (
	StatusPending         Status = "Pending"
	StatusDumped          Status = "Dumped"
	StatusDumpFailed      Status = "DumpFailed"
	StatusMetadataUpdated Status = "MetadataUpdated"
	StatusBlobRemoved     Status = "BlobRemoved"
)

// Statuses lists every status in phase order.
var Statuses = []Status{
	StatusPending,
	StatusDumped,
	StatusDumpFailed,
	StatusMetadataUpdated,
	StatusBlobRemoved,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Migrated reports whether the file's bytes are safely in the target, i.e.
// the dump phase has nothing left to do for it.
func (s Status) Migrated() bool {
	return s == StatusDumped || s == StatusMetadataUpdated || s == StatusBlobRemoved
}

// transitions maps a current status ("" for absent) to the statuses that may
// follow it.
var transitions = map[Status][]Status{
	"":                    {StatusPending, StatusDumped, StatusDumpFailed},
	StatusPending:         {StatusPending, StatusDumped, StatusDumpFailed},
	StatusDumpFailed:      {StatusPending},
	StatusDumped:          {StatusMetadataUpdated},
	StatusMetadataUpdated: {StatusBlobRemoved},
}

// CanTransition reports whether an entry with status to may follow one with
// status from. Use "" for a file with no entry yet.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Entry is one ledger record. The JSON field names are the on-disk format.
type Entry struct {
	FileID    string    `json:"file_id"`
	Status    Status    `json:"status"`
	Bytes     int64     `json:"bytes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`

	// Key is the target key the bytes were written under.
	Key string `json:"key,omitempty"`

	// FileName is the name used in the storage pointer path.
	FileName string `json:"file_name,omitempty"`

	// Target is the kind of backend that received the bytes.
	Target string `json:"target,omitempty"`

	// RunID identifies the process run that wrote the entry.
	RunID string `json:"run_id,omitempty"`
}

// Ledger is the migration ledger contract.
//
// Get, AllWithStatus and Counts read the in-memory index and may run
// concurrently with Append. Appends are serialized: each one is validated
// against the current status, made durable, and only then applied to the
// index.
type Ledger interface {
	// Get returns the latest entry for fileID.
	Get(fileID string) (Entry, bool)

	// Append validates and durably records e. A zero Timestamp is set to the
	// current time. Returns ErrInvalidTransition (wrapped) for a disallowed
	// status change and *WriteError when the entry cannot be persisted.
	Append(ctx context.Context, e Entry) error

	// AllWithStatus yields, in file id order, a snapshot of the latest
	// entries having status. Callers may Append while iterating.
	AllWithStatus(status Status) iter.Seq[Entry]

	// Counts returns the number of files per latest status.
	Counts() map[Status]int

	Close() error
}

var (
	// ErrInvalidTransition indicates an append that would move a file
	// backwards or skip a phase.
	ErrInvalidTransition = errors.New("invalid ledger transition")

	// ErrCorrupt indicates a ledger record that cannot be decoded and is not
	// a torn final write.
	ErrCorrupt = errors.New("corrupt ledger")

	// ErrClosed indicates use of a closed ledger.
	ErrClosed = errors.New("ledger closed")
)

// WriteError indicates a status transition could not be persisted. It is
// fatal for the whole run: proceeding without a durable record would break
// resumability.
type WriteError struct {
	FileID string
	Status Status
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ledger write %s (%s): %v", e.FileID, e.Status, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsWriteError reports whether err is, or wraps, a *WriteError.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
