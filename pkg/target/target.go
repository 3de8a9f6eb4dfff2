// Package target defines the destination storage a migration writes into.
//
// Two backends exist: a local filesystem directory and an S3 bucket. Both are
// driven through the Target interface by the dump workers, the metadata
// updater (for the new storage pointer) and the blob remover (to confirm the
// migrated copy still exists before GridFS data is deleted).
package target

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/marmos91/gridfsmigrate/pkg/source"
)

// Kind identifies a storage backend.
type Kind string

const (
	KindFileSystem Kind = "filesystem"
	KindS3         Kind = "s3"
)

// StoreName returns the marker the application uses for this backend in a
// record's "store" field, without the ":Uploads" suffix.
func (k Kind) StoreName() string {
	switch k {
	case KindFileSystem:
		return "FileSystem"
	case KindS3:
		return "AmazonS3"
	default:
		return string(k)
	}
}

// ParseKind accepts both the config spelling ("filesystem", "s3") and the
// application's store names ("FileSystem", "AmazonS3").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "filesystem", "fs":
		return KindFileSystem, nil
	case "s3", "amazons3":
		return KindS3, nil
	default:
		return "", fmt.Errorf("unknown target %q (expected filesystem or s3)", s)
	}
}

// ObjectInfo carries the per-object attributes a backend may store alongside
// the bytes.
type ObjectInfo struct {
	// FileName is the user-facing name, used for Content-Disposition.
	FileName string

	// ContentType is the MIME type recorded for the upload, if any.
	ContentType string
}

// InfoFor builds the ObjectInfo of a record.
func InfoFor(rec *source.FileRecord) ObjectInfo {
	name := rec.Name
	if name == "" {
		name = rec.FileName()
	}
	return ObjectInfo{FileName: name, ContentType: rec.ContentType}
}

// WriteResult describes a completed write.
type WriteResult struct {
	Key   string
	Bytes int64
}

// Target is a destination storage backend.
//
// Implementations must be safe for concurrent use: dump workers write
// distinct keys in parallel.
type Target interface {
	// Kind returns the backend kind.
	Kind() Kind

	// Key derives the destination key of a record. Keys are stable: the same
	// record always maps to the same key, so rewrites overwrite.
	Key(rec *source.FileRecord) string

	// Write stores the bytes read from r under key.
	//
	// The write is atomic from a reader's point of view: on any error no
	// object (or a previous complete object) is visible under key. Errors
	// returned by r are passed through unchanged; backend failures are
	// wrapped in *WriteError.
	Write(ctx context.Context, key string, r io.Reader, expectedLength int64, info ObjectInfo) (WriteResult, error)

	// Verify reports the stored length of key. An absent key is not an
	// error: it returns exists == false.
	Verify(ctx context.Context, key string) (length int64, exists bool, err error)

	// Pointer builds the storage pointer written back into the record.
	Pointer(rec *source.FileRecord, key string) source.StoragePointer

	// ListKeys calls fn for every stored object. Iteration stops at the first
	// error returned by fn.
	ListKeys(ctx context.Context, fn func(key string, size int64) error) error

	Close() error
}

// EscapeID percent-encodes every byte of id that is not an ASCII letter, a
// digit, '_' or '-'. The result is a single path element, never contains '.'
// and maps distinct ids to distinct strings.
func EscapeID(id string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

// UploadsPointer builds the pointer layout shared by every backend:
// store "<Name>:Uploads" and path/url "/ufs/<Name>:Uploads/<id>/<file name>".
func UploadsPointer(kind Kind, rec *source.FileRecord) source.StoragePointer {
	store := kind.StoreName() + ":Uploads"
	path := fmt.Sprintf("/ufs/%s/%s/%s", store, rec.ID, rec.FileName())
	return source.StoragePointer{
		Store: store,
		Path:  path,
		URL:   path,
	}
}
