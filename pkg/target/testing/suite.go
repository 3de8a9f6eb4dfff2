// Package testing provides a reusable contract suite for target.Target
// implementations.
package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gridfsmigrate/pkg/source"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

// TargetTestSuite tests the Target contract, not implementation details, so
// it runs unchanged against every backend.
//
// Usage:
//
//	func TestMyTarget(t *testing.T) {
//	    suite := &testing.TargetTestSuite{
//	        NewTarget: func(t *testing.T) target.Target {
//	            return mytarget.New(t.TempDir())
//	        },
//	    }
//	    suite.Run(t)
//	}
type TargetTestSuite struct {
	// NewTarget creates a fresh, empty target for each test.
	NewTarget func(t *testing.T) target.Target
}

// Run executes all tests in the suite.
func (suite *TargetTestSuite) Run(t *testing.T) {
	t.Run("Write_Basic", suite.testWriteBasic)
	t.Run("Write_Overwrite", suite.testWriteOverwrite)
	t.Run("Write_Empty", suite.testWriteEmpty)
	t.Run("Write_SourceErrorPassedThrough", suite.testWriteSourceError)
	t.Run("Write_CancelledContext", suite.testWriteCancelled)
	t.Run("Verify_Absent", suite.testVerifyAbsent)
	t.Run("Key_Stable", suite.testKeyStable)
	t.Run("Key_DistinctIDs", suite.testKeyDistinctIDs)
	t.Run("Pointer_Layout", suite.testPointerLayout)
	t.Run("ListKeys", suite.testListKeys)
	t.Run("ListKeys_StopsOnError", suite.testListKeysStops)
}

var fileSeq atomic.Int64

// NewRecord returns a distinct complete GridFS record of the given size.
func NewRecord(prefix string, size int64) *source.FileRecord {
	id := fmt.Sprintf("%s-%d", prefix, fileSeq.Add(1))
	return &source.FileRecord{
		ID:          id,
		Name:        id + ".txt",
		Extension:   "txt",
		ContentType: "text/plain",
		Size:        size,
		Store:       source.GridFSStore,
		Complete:    true,
		RoomID:      "room1",
		UserID:      "user1",
	}
}

func testContext() context.Context {
	return context.Background()
}

// mustWrite writes data under the record's key and fails the test on error.
func mustWrite(t *testing.T, tg target.Target, rec *source.FileRecord, data []byte) string {
	t.Helper()
	key := tg.Key(rec)
	res, err := tg.Write(testContext(), key, bytes.NewReader(data), int64(len(data)), target.InfoFor(rec))
	require.NoError(t, err, "Write should succeed")
	assert.Equal(t, key, res.Key)
	assert.Equal(t, int64(len(data)), res.Bytes)
	return key
}

// assertStored checks Verify reports the object with the given length.
func assertStored(t *testing.T, tg target.Target, key string, length int64) {
	t.Helper()
	n, exists, err := tg.Verify(testContext(), key)
	require.NoError(t, err)
	assert.True(t, exists, "object %s should exist", key)
	assert.Equal(t, length, n)
}

func (suite *TargetTestSuite) testWriteBasic(t *testing.T) {
	tg := suite.NewTarget(t)
	data := []byte("Hello, World!")
	rec := NewRecord("basic", int64(len(data)))

	key := mustWrite(t, tg, rec, data)
	assertStored(t, tg, key, int64(len(data)))
}

func (suite *TargetTestSuite) testWriteOverwrite(t *testing.T) {
	tg := suite.NewTarget(t)
	rec := NewRecord("overwrite", 0)

	key := mustWrite(t, tg, rec, []byte("old data that is longer"))
	mustWrite(t, tg, rec, []byte("new data"))

	assertStored(t, tg, key, int64(len("new data")))
}

func (suite *TargetTestSuite) testWriteEmpty(t *testing.T) {
	tg := suite.NewTarget(t)
	rec := NewRecord("empty", 0)

	key := mustWrite(t, tg, rec, nil)
	assertStored(t, tg, key, 0)
}

// failingReader yields some bytes and then a source read error.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (suite *TargetTestSuite) testWriteSourceError(t *testing.T) {
	tg := suite.NewTarget(t)
	rec := NewRecord("srcerr", 100)
	key := tg.Key(rec)

	readErr := &source.ReadError{FileID: rec.ID, Err: source.ErrSizeMismatch, Detail: "declared 100 bytes, chunks hold 90"}
	_, err := tg.Write(testContext(), key, &failingReader{data: make([]byte, 90), err: readErr}, 100, target.InfoFor(rec))
	require.Error(t, err)

	var re *source.ReadError
	assert.True(t, errors.As(err, &re), "source error must pass through, got %T: %v", err, err)
	assert.False(t, target.IsWriteError(err), "source errors are not retryable write errors")

	_, exists, err := tg.Verify(testContext(), key)
	require.NoError(t, err)
	assert.False(t, exists, "no object may exist after a failed write")
}

func (suite *TargetTestSuite) testWriteCancelled(t *testing.T) {
	tg := suite.NewTarget(t)
	rec := NewRecord("cancel", 4)

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, err := tg.Write(ctx, tg.Key(rec), bytes.NewReader([]byte("data")), 4, target.InfoFor(rec))
	assert.ErrorIs(t, err, context.Canceled)
}

func (suite *TargetTestSuite) testVerifyAbsent(t *testing.T) {
	tg := suite.NewTarget(t)
	rec := NewRecord("absent", 1)

	n, exists, err := tg.Verify(testContext(), tg.Key(rec))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Zero(t, n)
}

func (suite *TargetTestSuite) testKeyStable(t *testing.T) {
	tg := suite.NewTarget(t)
	rec := NewRecord("stable", 1)
	other := NewRecord("stable", 1)

	assert.Equal(t, tg.Key(rec), tg.Key(rec))
	assert.NotEqual(t, tg.Key(rec), tg.Key(other))
}

// testKeyDistinctIDs checks ids that differ only in characters a path
// cannot hold verbatim.
func (suite *TargetTestSuite) testKeyDistinctIDs(t *testing.T) {
	tg := suite.NewTarget(t)

	pairs := []struct {
		a, b source.FileRecord
	}{
		{source.FileRecord{ID: "a:b"}, source.FileRecord{ID: "ab"}},
		{source.FileRecord{ID: "a/b"}, source.FileRecord{ID: "ab"}},
		{source.FileRecord{ID: "a "}, source.FileRecord{ID: "a"}},
		{source.FileRecord{ID: "a.b"}, source.FileRecord{ID: "a", Extension: "b"}},
		{source.FileRecord{ID: "a%3Ab"}, source.FileRecord{ID: "a:b"}},
	}
	for _, p := range pairs {
		ka, kb := tg.Key(&p.a), tg.Key(&p.b)
		assert.NotEmpty(t, ka)
		assert.NotEqual(t, ka, kb, "ids %q and %q", p.a.FileName(), p.b.FileName())
	}
}

func (suite *TargetTestSuite) testPointerLayout(t *testing.T) {
	tg := suite.NewTarget(t)
	rec := NewRecord("pointer", 1)
	key := tg.Key(rec)

	p := tg.Pointer(rec, key)
	store := tg.Kind().StoreName() + ":Uploads"
	assert.Equal(t, store, p.Store)
	assert.Equal(t, "/ufs/"+store+"/"+rec.ID+"/"+rec.ID+".txt", p.Path)
	assert.Equal(t, p.Path, p.URL)
	if tg.Kind() == target.KindS3 {
		assert.Equal(t, key, p.ObjectKey)
	} else {
		assert.Empty(t, p.ObjectKey)
	}
}

func (suite *TargetTestSuite) testListKeys(t *testing.T) {
	tg := suite.NewTarget(t)

	want := map[string]int64{}
	for i := 0; i < 3; i++ {
		data := bytes.Repeat([]byte("x"), i+1)
		rec := NewRecord("list", int64(len(data)))
		want[mustWrite(t, tg, rec, data)] = int64(len(data))
	}

	got := map[string]int64{}
	err := tg.ListKeys(testContext(), func(key string, size int64) error {
		got[key] = size
		return nil
	})
	require.NoError(t, err)

	for k, size := range want {
		assert.Equal(t, size, got[k], "key %s", k)
	}
}

func (suite *TargetTestSuite) testListKeysStops(t *testing.T) {
	tg := suite.NewTarget(t)
	mustWrite(t, tg, NewRecord("stop", 1), []byte("a"))
	mustWrite(t, tg, NewRecord("stop", 1), []byte("b"))

	stop := errors.New("stop")
	calls := 0
	err := tg.ListKeys(testContext(), func(string, int64) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

var _ io.Reader = (*failingReader)(nil)
