package target

import (
	"errors"
	"io"
)

// SourceReader remembers the first non-EOF error returned by the wrapped
// reader. Backends use it to tell a failed source stream (returned to the
// caller unchanged) from a failed destination (wrapped in *WriteError).
type SourceReader struct {
	r   io.Reader
	n   int64
	err error
}

// NewSourceReader wraps r.
func NewSourceReader(r io.Reader) *SourceReader {
	return &SourceReader{r: r}
}

func (s *SourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	if err != nil && !errors.Is(err, io.EOF) && s.err == nil {
		s.err = err
	}
	return n, err
}

// Err returns the first source error, or nil.
func (s *SourceReader) Err() error {
	return s.err
}

// N returns the number of bytes read so far.
func (s *SourceReader) N() int64 {
	return s.n
}

// Classify returns the error a backend should report for a failed operation:
// the source error when the stream failed, otherwise err wrapped in
// *WriteError.
func (s *SourceReader) Classify(key, op string, err error) error {
	if s.err != nil {
		return s.err
	}
	return WrapWriteError(key, op, err)
}
