// Package fs implements a Target backed by a local directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/source"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

// tmpDir holds in-progress writes, inside the root so renames stay on one
// filesystem.
const tmpDir = ".tmp"

// FSTargetConfig contains configuration for the filesystem target.
type FSTargetConfig struct {
	// Path is the destination directory.
	Path string

	// CreateDir creates Path when it does not exist. When false a missing
	// directory is a configuration error.
	CreateDir bool

	// DirMode and FileMode default to 0755 and 0644.
	DirMode  os.FileMode
	FileMode os.FileMode
}

// FSTarget writes each file to <root>/<key>.
//
// Writes go to a uniquely named temp file under <root>/.tmp which is synced
// and then renamed over the final path, so a reader never sees a partial file
// and a failed write leaves no final file behind.
//
// Thread Safety:
// Safe for concurrent use. Concurrent writes to the same key are last
// rename wins.
type FSTarget struct {
	root     string
	dirMode  os.FileMode
	fileMode os.FileMode
}

var _ target.Target = (*FSTarget)(nil)

// NewFSTarget creates a filesystem target rooted at cfg.Path.
//
// Leftover temp files from an interrupted earlier run are removed.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: Target configuration
//
// Returns:
//   - *FSTarget: Initialized target
//   - error: Returns error if the directory is missing (and CreateDir is off),
//     cannot be created, or the context is cancelled
func NewFSTarget(ctx context.Context, cfg FSTargetConfig) (*FSTarget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("filesystem target: path is required")
	}

	dirMode := cfg.DirMode
	if dirMode == 0 {
		dirMode = 0755
	}
	fileMode := cfg.FileMode
	if fileMode == 0 {
		fileMode = 0644
	}

	info, err := os.Stat(cfg.Path)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("destination %s is not a directory", cfg.Path)
	case errors.Is(err, iofs.ErrNotExist) && !cfg.CreateDir:
		return nil, fmt.Errorf("destination directory does not exist: %s", cfg.Path)
	case err != nil && !errors.Is(err, iofs.ErrNotExist):
		return nil, fmt.Errorf("failed to stat destination: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(cfg.Path, tmpDir), dirMode); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	t := &FSTarget{
		root:     cfg.Path,
		dirMode:  dirMode,
		fileMode: fileMode,
	}
	t.removeStaleTemp()

	logger.Info("Filesystem target ready: path=%s", cfg.Path)
	return t, nil
}

func (t *FSTarget) removeStaleTemp() {
	entries, err := os.ReadDir(filepath.Join(t.root, tmpDir))
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		p := filepath.Join(t.root, tmpDir, e.Name())
		if err := os.Remove(p); err != nil {
			logger.Warn("Failed to remove stale temp file %s: %v", p, err)
			continue
		}
		logger.Debug("Removed stale temp file %s", p)
	}
}

// Root returns the destination directory.
func (t *FSTarget) Root() string {
	return t.root
}

func (t *FSTarget) Kind() target.Kind {
	return target.KindFileSystem
}

// Key returns the record id with every byte outside [A-Za-z0-9_-] written
// as %XX, followed by the sanitized extension. The escaping is reversible and
// never leaves a '.' in the id part, so distinct ids always get distinct keys.
func (t *FSTarget) Key(rec *source.FileRecord) string {
	id := target.EscapeID(rec.ID)
	if id == "" {
		return ""
	}
	if ext := SanitizeName(rec.Extension); ext != "" {
		return id + "." + ext
	}
	return id
}

// SanitizeName drops every character that is not a letter, a digit or one of
// " .-_%", then trims trailing whitespace. It is applied to extensions only.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(" .-_%", r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}

// getFilePath returns the final path of key, rejecting keys that would land
// outside the root or inside the temp directory.
func (t *FSTarget) getFilePath(key string) (string, error) {
	if key == "" || !filepath.IsLocal(key) {
		return "", fmt.Errorf("key %q: %w", key, target.ErrInvalidKey)
	}
	clean := filepath.Clean(key)
	if clean == tmpDir || strings.HasPrefix(clean, tmpDir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q: %w", key, target.ErrInvalidKey)
	}
	return filepath.Join(t.root, clean), nil
}

// Write streams r into a temp file and renames it to the key's path.
func (t *FSTarget) Write(ctx context.Context, key string, r io.Reader, _ int64, _ target.ObjectInfo) (target.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return target.WriteResult{}, err
	}

	finalPath, err := t.getFilePath(key)
	if err != nil {
		return target.WriteResult{}, err
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), t.dirMode); err != nil {
		return target.WriteResult{}, target.WrapWriteError(key, "mkdir", err)
	}

	tmpPath := filepath.Join(t.root, tmpDir, filepath.Base(key)+"."+uuid.NewString()+".part")
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, t.fileMode)
	if err != nil {
		return target.WriteResult{}, target.WrapWriteError(key, "create", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	src := target.NewSourceReader(r)
	n, err := io.Copy(f, src)
	if err != nil {
		return target.WriteResult{}, src.Classify(key, "copy", err)
	}

	if err := f.Sync(); err != nil {
		return target.WriteResult{}, target.WrapWriteError(key, "fsync", err)
	}
	if err := f.Close(); err != nil {
		return target.WriteResult{}, target.WrapWriteError(key, "close", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return target.WriteResult{}, target.WrapWriteError(key, "rename", err)
	}
	committed = true

	syncDir(filepath.Dir(finalPath))

	return target.WriteResult{Key: key, Bytes: n}, nil
}

// syncDir makes a rename durable. Failures are logged only: the data itself
// is already synced.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		logger.Debug("Directory sync failed for %s: %v", dir, err)
	}
}

func (t *FSTarget) Verify(ctx context.Context, key string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	p, err := t.getFilePath(key)
	if err != nil {
		return 0, false, err
	}

	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	if !info.Mode().IsRegular() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}

func (t *FSTarget) Pointer(rec *source.FileRecord, _ string) source.StoragePointer {
	return target.UploadsPointer(target.KindFileSystem, rec)
}

// ListKeys walks the root, skipping the temp directory.
func (t *FSTarget) ListKeys(ctx context.Context, fn func(key string, size int64) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	count := 0
	return filepath.WalkDir(t.root, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != t.root && d.Name() == tmpDir && filepath.Dir(path) == t.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		count++
		if count%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(t.root, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info.Size())
	})
}

func (t *FSTarget) Close() error {
	return nil
}
