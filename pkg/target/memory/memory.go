// Package memory implements an in-memory Target for tests and dry runs.
package memory

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/marmos91/gridfsmigrate/pkg/source"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

// Object is a stored object with its attributes.
type Object struct {
	Data []byte
	Info target.ObjectInfo
}

// MemoryTarget keeps objects in a map. It reports itself as kind, so the
// pipeline can be exercised for either backend's pointer layout.
type MemoryTarget struct {
	mu      sync.RWMutex
	kind    target.Kind
	objects map[string]Object
	writes  int
	closed  bool
}

var _ target.Target = (*MemoryTarget)(nil)

// NewMemoryTarget creates an empty target of the given kind. An empty kind
// defaults to filesystem.
func NewMemoryTarget(kind target.Kind) *MemoryTarget {
	if kind == "" {
		kind = target.KindFileSystem
	}
	return &MemoryTarget{
		kind:    kind,
		objects: make(map[string]Object),
	}
}

func (m *MemoryTarget) Kind() target.Kind {
	return m.kind
}

// Key follows the filesystem layout: escaped id plus extension.
func (m *MemoryTarget) Key(rec *source.FileRecord) string {
	if rec.Extension == "" {
		return target.EscapeID(rec.ID)
	}
	return target.EscapeID(rec.ID) + "." + rec.Extension
}

// Write buffers the whole stream and stores it only when the stream ends
// cleanly.
func (m *MemoryTarget) Write(ctx context.Context, key string, r io.Reader, _ int64, info target.ObjectInfo) (target.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return target.WriteResult{}, err
	}

	src := target.NewSourceReader(r)
	data, err := io.ReadAll(src)
	if err != nil {
		return target.WriteResult{}, src.Classify(key, "read", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return target.WriteResult{}, target.WrapWriteError(key, "put", target.ErrClosed)
	}
	m.objects[key] = Object{Data: data, Info: info}
	m.writes++

	return target.WriteResult{Key: key, Bytes: int64(len(data))}, nil
}

func (m *MemoryTarget) Verify(ctx context.Context, key string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return 0, false, nil
	}
	return int64(len(obj.Data)), true, nil
}

func (m *MemoryTarget) Pointer(rec *source.FileRecord, key string) source.StoragePointer {
	p := target.UploadsPointer(m.kind, rec)
	if m.kind == target.KindS3 {
		p.ObjectKey = key
	}
	return p
}

func (m *MemoryTarget) ListKeys(ctx context.Context, fn func(key string, size int64) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	keys := make([]string, 0, len(m.objects))
	sizes := make(map[string]int64, len(m.objects))
	for k, obj := range m.objects {
		keys = append(keys, k)
		sizes[k] = int64(len(obj.Data))
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, sizes[k]); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a copy of the object stored under key.
func (m *MemoryTarget) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return Object{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, true
}

// Put stores an object directly, bypassing Write.
func (m *MemoryTarget) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: append([]byte(nil), data...)}
}

// Remove deletes key, simulating loss of a migrated object.
func (m *MemoryTarget) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}

// Len returns the number of stored objects.
func (m *MemoryTarget) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Writes returns the number of successful Write calls.
func (m *MemoryTarget) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryTarget) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
