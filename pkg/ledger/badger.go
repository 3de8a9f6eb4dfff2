package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/gridfsmigrate/internal/logger"
)

// logPrefix namespaces log records; keys are "log/<20-digit sequence>" so
// badger's key order is append order.
const logPrefix = "log/"

// BadgerLedger stores the log in a BadgerDB directory.
//
// Every append is a new key written with SyncWrites, so records are never
// updated in place and the store keeps the full history like the file
// ledger does.
type BadgerLedger struct {
	index

	db  *badger.DB
	seq uint64
}

var _ Ledger = (*BadgerLedger)(nil)

// BadgerLedgerConfig configures the badger-backed ledger.
type BadgerLedgerConfig struct {
	// DBPath is the directory where BadgerDB stores its files
	DBPath string

	// BadgerOptions allows customization of BadgerDB behavior.
	// If nil, defaults with SyncWrites enabled are used.
	BadgerOptions *badger.Options
}

// OpenBadgerLedger opens the ledger database and replays it into memory.
func OpenBadgerLedger(ctx context.Context, cfg BadgerLedgerConfig) (*BadgerLedger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.BadgerOptions != nil {
		opts = *cfg.BadgerOptions
	} else {
		opts = badger.DefaultOptions(cfg.DBPath)
		opts = opts.WithLogger(badgerLogger{})
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None) // records are small
	}
	opts = opts.WithSyncWrites(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	l := &BadgerLedger{
		index: index{latest: make(map[string]Entry)},
		db:    db,
	}

	n, err := l.replay()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Ledger loaded: badger=%s records=%d files=%d", cfg.DBPath, n, len(l.latest))
	return l, nil
}

func (l *BadgerLedger) replay() (int, error) {
	records := 0

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(logPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			seq, err := strconv.ParseUint(string(key[len(logPrefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("ledger key %q: %v: %w", key, err, ErrCorrupt)
			}

			var e Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("ledger record %d: %v: %w", seq, err, ErrCorrupt)
			}
			if e.FileID == "" || !e.Status.Valid() {
				return fmt.Errorf("ledger record %d: missing file id or unknown status %q: %w", seq, e.Status, ErrCorrupt)
			}

			l.fold(e)
			l.seq = seq
			records++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return records, nil
}

func (l *BadgerLedger) Append(ctx context.Context, e Entry) error {
	return l.append(ctx, e, l.persist)
}

func (l *BadgerLedger) persist(e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	seq := l.seq + 1
	if err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(logKey(seq), val)
	}); err != nil {
		return err
	}
	l.seq = seq
	return nil
}

func logKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", logPrefix, seq))
}

func (l *BadgerLedger) Close() error {
	if l.markClosed() {
		return nil
	}
	return l.db.Close()
}

// badgerLogger routes badger's own log output through the package logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logger.Error("badger: %s", badgerMsg(format, args))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logger.Warn("badger: %s", badgerMsg(format, args))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logger.Debug("badger: %s", badgerMsg(format, args))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logger.Debug("badger: %s", badgerMsg(format, args))
}

func badgerMsg(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
