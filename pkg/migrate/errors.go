package migrate

import (
	"errors"
	"fmt"

	"github.com/marmos91/gridfsmigrate/pkg/ledger"
)

var (
	// ErrFilesFailed is returned by Summary.Err when at least one file failed.
	ErrFilesFailed = errors.New("files failed")

	// ErrInterrupted marks a file or phase stopped by cancellation.
	ErrInterrupted = errors.New("interrupted")
)

// PreconditionError aborts a metadata or removal pass: a file in its worklist
// is not in the ledger state the phase requires.
type PreconditionError struct {
	Phase  Phase
	FileID string

	// Status is the file's latest ledger status ("" when absent).
	Status ledger.Status

	// Reason overrides the default status message when set.
	Reason string
}

func (e *PreconditionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: precondition failed for %s: %s", e.Phase, e.FileID, e.Reason)
	}
	status := string(e.Status)
	if status == "" {
		status = "absent"
	}
	return fmt.Sprintf("%s: precondition failed for %s: ledger status is %s, want %s",
		e.Phase, e.FileID, status, e.Phase.requires())
}

// IsPreconditionError reports whether err is, or wraps, a *PreconditionError.
func IsPreconditionError(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
