package target

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey indicates a key that would escape the target root or is
	// empty after sanitizing.
	ErrInvalidKey = errors.New("invalid key")

	// ErrClosed indicates use of a closed target.
	ErrClosed = errors.New("target closed")
)

// WriteError wraps a destination backend failure (disk full, permission
// denied, network error). It is transient from the migration's point of
// view: the write may be retried.
type WriteError struct {
	Key string
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("target write %s (%s): %v", e.Key, e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsWriteError reports whether err is, or wraps, a *WriteError.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}

// LengthMismatchError indicates the stored object length differs from the
// declared file size after a successful write. Fatal for the file.
type LengthMismatchError struct {
	Key      string
	Expected int64
	Actual   int64
	Exists   bool
}

func (e *LengthMismatchError) Error() string {
	if !e.Exists {
		return fmt.Sprintf("length mismatch for %s: object missing after write", e.Key)
	}
	return fmt.Sprintf("length mismatch for %s: expected %d bytes, stored %d", e.Key, e.Expected, e.Actual)
}

// WrapWriteError wraps a backend failure in *WriteError.
func WrapWriteError(key, op string, err error) error {
	return &WriteError{Key: key, Op: op, Err: err}
}
