package source

import (
	"fmt"
	"io"
)

// ChunkReader reconstructs a file from its chunk sequence.
//
// Chunks are pulled one at a time, so memory use is bounded by the chunk
// size. Validation is incremental: a gap is reported when the offending chunk
// arrives, an overrun as soon as the running total passes the declared size,
// and a short file at end of stream. Any of these surface as *ReadError from
// Read, which lets a writer discard its partial output.
//
// The reader is not restartable.
type ChunkReader struct {
	id       string
	declared int64
	it       ChunkIterator

	next  int
	total int64
	buf   []byte
	err   error
}

// NewChunkReader wraps it for the file described by rec.
func NewChunkReader(rec *FileRecord, it ChunkIterator) *ChunkReader {
	return &ChunkReader{
		id:       rec.ID,
		declared: rec.Size,
		it:       it,
	}
}

// BytesRead returns the number of bytes handed out so far.
func (r *ChunkReader) BytesRead() int64 {
	return r.total - int64(len(r.buf))
}

func (r *ChunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.err = r.fill()
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// fill loads the next chunk into buf, or returns the terminal error.
func (r *ChunkReader) fill() error {
	var c Chunk
	if !r.it.Next(&c) {
		if err := r.it.Err(); err != nil {
			return &ReadError{FileID: r.id, Err: ErrSourceUnavailable, Detail: err.Error()}
		}
		if r.next == 0 {
			return &ReadError{FileID: r.id, Err: ErrEmptyFile}
		}
		if r.total != r.declared {
			return r.sizeMismatch()
		}
		return io.EOF
	}

	if c.N != r.next {
		return &ReadError{
			FileID: r.id,
			Err:    ErrChunkGap,
			Detail: fmt.Sprintf("expected chunk %d, found chunk %d", r.next, c.N),
		}
	}

	r.next++
	r.total += int64(len(c.Data))
	if r.total > r.declared {
		return r.sizeMismatch()
	}

	r.buf = c.Data
	return nil
}

func (r *ChunkReader) sizeMismatch() error {
	return &ReadError{
		FileID: r.id,
		Err:    ErrSizeMismatch,
		Detail: fmt.Sprintf("declared %d bytes, chunks hold %d", r.declared, r.total),
	}
}

func (r *ChunkReader) Close() error {
	return r.it.Close()
}
