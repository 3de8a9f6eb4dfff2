package source

import (
	"errors"
	"fmt"
)

var (
	// ErrRecordNotFound indicates the metadata record does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrChunkGap indicates chunk numbering is not contiguous from zero.
	ErrChunkGap = errors.New("chunk gap")

	// ErrSizeMismatch indicates the chunk bytes do not add up to the declared
	// file size.
	ErrSizeMismatch = errors.New("length mismatch")

	// ErrEmptyFile indicates a record with no chunks at all. These need an
	// operator's look rather than a guess at zero-byte intent.
	ErrEmptyFile = errors.New("empty file: no chunks in blob store")

	// ErrSourceUnavailable indicates the blob store could not be read.
	ErrSourceUnavailable = errors.New("blob store unavailable")
)

// ReadError is returned when a file's chunk sequence cannot be turned into
// its original bytes. It is fatal for that file and never retried.
type ReadError struct {
	FileID string
	Err    error
	Detail string
}

func (e *ReadError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("source read %s: %v", e.FileID, e.Err)
	}
	return fmt.Sprintf("source read %s: %v: %s", e.FileID, e.Err, e.Detail)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// IsReadError reports whether err is, or wraps, a *ReadError.
func IsReadError(err error) bool {
	var re *ReadError
	return errors.As(err, &re)
}
