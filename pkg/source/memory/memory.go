// Package memory implements an in-memory source.Source.
//
// It backs the pipeline tests and dry runs against fixture data. Chunks are
// kept per file id keyed by chunk number, so tests can build gaps, overruns
// and missing sequences directly.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marmos91/gridfsmigrate/pkg/source"
)

// MemorySource is a thread-safe in-memory document store.
type MemorySource struct {
	mu       sync.RWMutex
	records  map[string]*source.FileRecord
	pointers map[string]source.StoragePointer
	chunks   map[string]map[int][]byte
	uniqueID string

	deletes int
}

// NewMemorySource creates an empty store.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		records:  make(map[string]*source.FileRecord),
		pointers: make(map[string]source.StoragePointer),
		chunks:   make(map[string]map[int][]byte),
	}
}

// AddRecord stores rec (copied) replacing any record with the same id.
func (s *MemorySource) AddRecord(rec source.FileRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := rec
	s.records[rec.ID] = &r
}

// SetChunk stores one chunk of a file.
func (s *MemorySource) SetChunk(id string, n int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chunks[id] == nil {
		s.chunks[id] = make(map[int][]byte)
	}
	s.chunks[id][n] = append([]byte(nil), data...)
}

// AddFile is a fixture helper: it stores a complete GridFS record whose
// declared size matches data and splits data into chunks of chunkSize.
func (s *MemorySource) AddFile(id string, data []byte, chunkSize int) {
	s.AddRecord(source.FileRecord{
		ID:       id,
		Name:     id + ".bin",
		Size:     int64(len(data)),
		Store:    source.GridFSStore,
		Complete: true,
	})
	for n, off := 0, 0; off < len(data); n, off = n+1, off+chunkSize {
		end := min(off+chunkSize, len(data))
		s.SetChunk(id, n, data[off:end])
	}
}

// SetUniqueID sets the value returned by UniqueID.
func (s *MemorySource) SetUniqueID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uniqueID = id
}

// Record returns a copy of the stored record.
func (s *MemorySource) Record(id string) (source.FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return source.FileRecord{}, false
	}
	return *r, true
}

// Pointer returns the last pointer written for id.
func (s *MemorySource) Pointer(id string) (source.StoragePointer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pointers[id]
	return p, ok
}

// HasChunks reports whether any chunk of id is stored.
func (s *MemorySource) HasChunks(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[id]) > 0
}

// DeleteCount returns how many DeleteChunks calls removed data.
func (s *MemorySource) DeleteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deletes
}

func (s *MemorySource) ListFiles(ctx context.Context, f source.Filter) (source.RecordIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id, r := range s.records {
		if f.Matches(r) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return &recordIterator{src: s, ids: ids}, nil
}

func (s *MemorySource) ReadRecord(ctx context.Context, id string) (*source.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, source.ErrRecordNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemorySource) OpenChunks(ctx context.Context, id string) (source.ChunkIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.chunks[id]
	chunks := make([]source.Chunk, 0, len(stored))
	for n, data := range stored {
		chunks = append(chunks, source.Chunk{N: n, Data: data})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].N < chunks[j].N })

	return &chunkIterator{chunks: chunks}, nil
}

func (s *MemorySource) UpdatePointer(ctx context.Context, id string, p source.StoragePointer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, source.ErrRecordNotFound)
	}
	r.Store = p.Store
	s.pointers[id] = p
	return nil
}

func (s *MemorySource) DeleteChunks(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.chunks[id]) > 0 {
		s.deletes++
	}
	delete(s.chunks, id)
	return nil
}

func (s *MemorySource) UniqueID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uniqueID, nil
}

func (s *MemorySource) Close() error {
	return nil
}

type recordIterator struct {
	src *MemorySource
	ids []string
	pos int
}

func (it *recordIterator) Next(rec *source.FileRecord) bool {
	for it.pos < len(it.ids) {
		id := it.ids[it.pos]
		it.pos++

		it.src.mu.RLock()
		r, ok := it.src.records[id]
		if ok {
			*rec = *r
		}
		it.src.mu.RUnlock()

		if ok {
			return true
		}
	}
	return false
}

func (it *recordIterator) Err() error   { return nil }
func (it *recordIterator) Close() error { return nil }

type chunkIterator struct {
	chunks []source.Chunk
	pos    int
}

func (it *chunkIterator) Next(c *source.Chunk) bool {
	if it.pos >= len(it.chunks) {
		return false
	}
	*c = it.chunks[it.pos]
	it.pos++
	return true
}

func (it *chunkIterator) Err() error   { return nil }
func (it *chunkIterator) Close() error { return nil }
