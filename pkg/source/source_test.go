package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileRecord_Eligible(t *testing.T) {
	tests := []struct {
		name string
		rec  FileRecord
		want bool
	}{
		{"gridfs complete", FileRecord{Store: GridFSStore, Complete: true}, true},
		{"gridfs incomplete", FileRecord{Store: GridFSStore}, false},
		{"already on filesystem", FileRecord{Store: "FileSystem:Uploads", Complete: true}, false},
		{"no store", FileRecord{Complete: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Eligible())
		})
	}
}

func TestFileRecord_FileName(t *testing.T) {
	assert.Equal(t, "abc", (&FileRecord{ID: "abc"}).FileName())
	assert.Equal(t, "abc.png", (&FileRecord{ID: "abc", Extension: "png"}).FileName())
}

func TestFilter_Matches(t *testing.T) {
	rec := &FileRecord{ID: "f1", RoomID: "r1", UserID: "u1"}

	assert.True(t, Filter{}.Empty())
	assert.True(t, Filter{}.Matches(rec))
	assert.True(t, Filter{IDs: []string{"f0", "f1"}}.Matches(rec))
	assert.False(t, Filter{IDs: []string{"f2"}}.Matches(rec))
	assert.True(t, Filter{RoomID: "r1", UserID: "u1"}.Matches(rec))
	assert.False(t, Filter{RoomID: "r2"}.Matches(rec))
	assert.False(t, Filter{UserID: "u2"}.Matches(rec))
	assert.False(t, Filter{RoomID: "r1"}.Empty())
}

func TestReadError(t *testing.T) {
	err := &ReadError{FileID: "f1", Err: ErrChunkGap, Detail: "expected chunk 1, found chunk 3"}

	assert.Equal(t, "source read f1: chunk gap: expected chunk 1, found chunk 3", err.Error())
	assert.ErrorIs(t, err, ErrChunkGap)
	assert.True(t, IsReadError(err))
	assert.False(t, IsReadError(ErrChunkGap))
	assert.Equal(t, "source read f2: empty file: no chunks in blob store", (&ReadError{FileID: "f2", Err: ErrEmptyFile}).Error())
}
