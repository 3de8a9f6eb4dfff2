package source_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/marmos91/gridfsmigrate/pkg/source"
	"github.com/marmos91/gridfsmigrate/pkg/source/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openReader returns a ChunkReader over the chunks stored for id.
func openReader(t *testing.T, src *memory.MemorySource, id string) *source.ChunkReader {
	t.Helper()
	rec, err := src.ReadRecord(context.Background(), id)
	require.NoError(t, err)
	it, err := src.OpenChunks(context.Background(), id)
	require.NoError(t, err)
	return source.NewChunkReader(rec, it)
}

func requireReadError(t *testing.T, err error, sentinel error) *source.ReadError {
	t.Helper()
	require.Error(t, err)
	var re *source.ReadError
	require.True(t, errors.As(err, &re), "expected *source.ReadError, got %T: %v", err, err)
	assert.ErrorIs(t, err, sentinel)
	return re
}

func TestChunkReader_ConcatenatesInChunkOrder(t *testing.T) {
	src := memory.NewMemorySource()
	src.AddRecord(source.FileRecord{ID: "f1", Size: 6, Store: source.GridFSStore, Complete: true})

	// Inserted out of order on purpose; the sequence is ordered by n.
	src.SetChunk("f1", 2, []byte("EF"))
	src.SetChunk("f1", 0, []byte("AB"))
	src.SetChunk("f1", 1, []byte("CD"))

	r := openReader(t, src, "f1")
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEF", string(data))
	assert.Equal(t, int64(6), r.BytesRead())
}

func TestChunkReader_SmallReadBuffer(t *testing.T) {
	src := memory.NewMemorySource()
	src.AddFile("f1", []byte("hello world, this spans chunks"), 4)

	r := openReader(t, src, "f1")
	defer r.Close()

	var out []byte
	buf := make([]byte, 3)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, "hello world, this spans chunks", string(out))
}

func TestChunkReader_Gap(t *testing.T) {
	src := memory.NewMemorySource()
	src.AddRecord(source.FileRecord{ID: "f1", Size: 4, Store: source.GridFSStore, Complete: true})
	src.SetChunk("f1", 0, []byte("AB"))
	src.SetChunk("f1", 2, []byte("CD"))

	r := openReader(t, src, "f1")
	defer r.Close()

	_, err := io.ReadAll(r)
	re := requireReadError(t, err, source.ErrChunkGap)
	assert.Equal(t, "f1", re.FileID)
	assert.Contains(t, re.Detail, "expected chunk 1, found chunk 2")
}

func TestChunkReader_MissingFirstChunk(t *testing.T) {
	src := memory.NewMemorySource()
	src.AddRecord(source.FileRecord{ID: "f1", Size: 2, Store: source.GridFSStore, Complete: true})
	src.SetChunk("f1", 1, []byte("AB"))

	r := openReader(t, src, "f1")
	defer r.Close()

	_, err := io.ReadAll(r)
	requireReadError(t, err, source.ErrChunkGap)
}

func TestChunkReader_ShortTotal(t *testing.T) {
	src := memory.NewMemorySource()
	src.AddRecord(source.FileRecord{ID: "f1", Size: 100, Store: source.GridFSStore, Complete: true})
	src.SetChunk("f1", 0, make([]byte, 50))
	src.SetChunk("f1", 1, make([]byte, 40))

	r := openReader(t, src, "f1")
	defer r.Close()

	_, err := io.ReadAll(r)
	re := requireReadError(t, err, source.ErrSizeMismatch)
	assert.Contains(t, re.Error(), "length mismatch")
	assert.Contains(t, re.Detail, "declared 100 bytes, chunks hold 90")
}

func TestChunkReader_OverrunDetectedEarly(t *testing.T) {
	src := memory.NewMemorySource()
	src.AddRecord(source.FileRecord{ID: "f1", Size: 3, Store: source.GridFSStore, Complete: true})
	src.SetChunk("f1", 0, []byte("AB"))
	src.SetChunk("f1", 1, []byte("CD"))
	src.SetChunk("f1", 2, []byte("EF"))

	r := openReader(t, src, "f1")
	defer r.Close()

	_, err := io.ReadAll(r)
	re := requireReadError(t, err, source.ErrSizeMismatch)
	assert.Contains(t, re.Detail, "chunks hold 4")
}

func TestChunkReader_NoChunks(t *testing.T) {
	for _, size := range []int64{0, 10} {
		src := memory.NewMemorySource()
		src.AddRecord(source.FileRecord{ID: "f1", Size: size, Store: source.GridFSStore, Complete: true})

		r := openReader(t, src, "f1")
		_, err := io.ReadAll(r)
		requireReadError(t, err, source.ErrEmptyFile)
		r.Close()
	}
}

type failingIterator struct{}

func (failingIterator) Next(*source.Chunk) bool { return false }
func (failingIterator) Err() error              { return errors.New("connection reset") }
func (failingIterator) Close() error            { return nil }

func TestChunkReader_IteratorError(t *testing.T) {
	r := source.NewChunkReader(&source.FileRecord{ID: "f1", Size: 1}, failingIterator{})

	_, err := io.ReadAll(r)
	re := requireReadError(t, err, source.ErrSourceUnavailable)
	assert.Contains(t, re.Detail, "connection reset")
}

func TestChunkReader_ErrorIsSticky(t *testing.T) {
	r := source.NewChunkReader(&source.FileRecord{ID: "f1", Size: 1}, failingIterator{})

	_, err1 := r.Read(make([]byte, 8))
	_, err2 := r.Read(make([]byte, 8))
	assert.Error(t, err1)
	assert.Equal(t, err1, err2)
}
