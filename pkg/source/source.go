// Package source defines the document store capability the migration reads
// from: upload metadata records plus their GridFS chunk sequences.
package source

import (
	"context"
)

// GridFSStore is the storage pointer value of records whose bytes still live
// in GridFS chunks.
const GridFSStore = "GridFS:Uploads"

// FileRecord is the application metadata document describing one upload.
//
// Records are read-only to the migration except for the storage pointer,
// which only the metadata phase rewrites through Source.UpdatePointer.
type FileRecord struct {
	ID          string
	Name        string
	Extension   string
	ContentType string
	Size        int64
	Store       string
	Complete    bool
	RoomID      string
	UserID      string
}

// Eligible reports whether the record's bytes are in GridFS and the upload
// finished. Anything else is not a migration candidate.
func (r *FileRecord) Eligible() bool {
	return r.Store == GridFSStore && r.Complete
}

// FileName returns the name used in storage pointers and filesystem keys:
// the id, plus the extension when the record has one.
func (r *FileRecord) FileName() string {
	if r.Extension == "" {
		return r.ID
	}
	return r.ID + "." + r.Extension
}

// StoragePointer is the new location written into a record by the metadata
// phase.
type StoragePointer struct {
	// Store is the storage marker, e.g. "FileSystem:Uploads".
	Store string

	// Path and URL are the application-facing download paths.
	Path string
	URL  string

	// ObjectKey is set for object storage backends only.
	ObjectKey string
}

// Chunk is one numbered byte range of a stored file.
type Chunk struct {
	N    int
	Data []byte
}

// Filter narrows the set of records a phase works on. Zero value matches all.
type Filter struct {
	IDs    []string
	RoomID string
	UserID string
}

// Empty reports whether the filter matches every record.
func (f Filter) Empty() bool {
	return len(f.IDs) == 0 && f.RoomID == "" && f.UserID == ""
}

// Matches applies the filter to a record in memory.
func (f Filter) Matches(r *FileRecord) bool {
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == r.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.RoomID != "" && f.RoomID != r.RoomID {
		return false
	}
	if f.UserID != "" && f.UserID != r.UserID {
		return false
	}
	return true
}

// RecordIterator lazily walks metadata records. Next returns false when the
// sequence ends or fails; Err reports the failure.
type RecordIterator interface {
	Next(rec *FileRecord) bool
	Err() error
	Close() error
}

// ChunkIterator yields the chunks of one file in ascending chunk number.
type ChunkIterator interface {
	Next(chunk *Chunk) bool
	Err() error
	Close() error
}

// Source is the document store capability consumed by every phase.
//
// Implementations must be safe for concurrent use: dump workers open chunk
// streams in parallel.
type Source interface {
	// ListFiles returns a lazy iterator over metadata records matching f.
	ListFiles(ctx context.Context, f Filter) (RecordIterator, error)

	// ReadRecord returns one record, or ErrRecordNotFound.
	ReadRecord(ctx context.Context, id string) (*FileRecord, error)

	// OpenChunks returns the chunk sequence of a file ordered by chunk number.
	// A file with no chunks yields an empty sequence, not an error.
	OpenChunks(ctx context.Context, id string) (ChunkIterator, error)

	// UpdatePointer rewrites the record's storage pointer.
	UpdatePointer(ctx context.Context, id string, p StoragePointer) error

	// DeleteChunks removes the chunk sequence (and GridFS file document) of a
	// file. Deleting an absent sequence succeeds.
	DeleteChunks(ctx context.Context, id string) error

	Close() error
}

// UniqueIDProvider is implemented by sources that know the installation's
// unique id, which object storage keys are namespaced by.
type UniqueIDProvider interface {
	UniqueID(ctx context.Context) (string, error)
}
