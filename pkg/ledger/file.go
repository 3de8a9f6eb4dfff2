package ledger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marmos91/gridfsmigrate/internal/logger"
)

// FileLedger stores the log as JSON lines in a single file.
//
// Durability:
// The file is opened O_APPEND and every Append writes one complete line in a
// single write and fsyncs before returning. A crash can therefore leave at
// most one torn line, always the last; it is truncated away on the next
// open. Any other undecodable line is reported as ErrCorrupt.
//
// Compatibility:
// Unknown JSON fields are ignored, so logs written by newer versions remain
// readable.
type FileLedger struct {
	index

	path string
	f    *os.File

	// size is the length of the valid log; a failed write is cut back to it.
	size int64
}

var _ Ledger = (*FileLedger)(nil)

// OpenFileLedger opens (creating if needed) the ledger at path and replays it
// into memory.
func OpenFileLedger(ctx context.Context, path string) (*FileLedger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}

	l := &FileLedger{
		index: index{latest: make(map[string]Entry)},
		path:  path,
		f:     f,
	}

	n, err := l.replay()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	logger.Info("Ledger loaded: path=%s records=%d files=%d", path, n, len(l.latest))
	return l, nil
}

// replay folds every line into the index and returns the number of records.
func (l *FileLedger) replay() (int, error) {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to read ledger: %w", err)
	}

	r := bufio.NewReader(l.f)
	var offset int64
	records := 0

	for lineNo := 1; ; lineNo++ {
		line, err := r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("failed to read ledger: %w", err)
		}
		if len(line) == 0 {
			break
		}

		complete := line[len(line)-1] == '\n'
		trimmed := bytes.TrimSpace(line)

		if len(trimmed) > 0 {
			var e Entry
			if derr := json.Unmarshal(trimmed, &e); derr != nil || e.FileID == "" || !e.Status.Valid() {
				if !complete {
					return records, l.truncateTorn(offset, lineNo)
				}
				if derr == nil {
					derr = fmt.Errorf("missing file id or unknown status %q", e.Status)
				}
				return 0, fmt.Errorf("%s line %d: %v: %w", l.path, lineNo, derr, ErrCorrupt)
			}

			if !complete {
				// Decodable but unterminated: keep it and finish the line so
				// the next append starts on a fresh one.
				if _, err := l.f.Write([]byte{'\n'}); err != nil {
					return 0, fmt.Errorf("failed to repair ledger: %w", err)
				}
				if err := l.f.Sync(); err != nil {
					return 0, fmt.Errorf("failed to repair ledger: %w", err)
				}
				offset++
			}

			l.fold(e)
			records++
		}

		offset += int64(len(line))
		if !complete {
			break
		}
	}

	l.size = offset
	return records, nil
}

func (l *FileLedger) truncateTorn(offset int64, lineNo int) error {
	logger.Warn("Ledger %s: discarding torn record at line %d (offset %d)", l.path, lineNo, offset)

	if err := l.f.Truncate(offset); err != nil {
		return fmt.Errorf("failed to truncate torn ledger record: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	l.size = offset
	return nil
}

// Path returns the ledger file path.
func (l *FileLedger) Path() string {
	return l.path
}

func (l *FileLedger) Append(ctx context.Context, e Entry) error {
	return l.append(ctx, e, l.persist)
}

func (l *FileLedger) persist(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.f.Write(line); err != nil {
		_ = l.f.Truncate(l.size)
		return fmt.Errorf("write: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	l.size += int64(len(line))
	return nil
}

func (l *FileLedger) Close() error {
	if l.markClosed() {
		return nil
	}
	return l.f.Close()
}
