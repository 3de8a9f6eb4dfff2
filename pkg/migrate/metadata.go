package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/ledger"
)

// UpdateMetadata repoints the upload record of every Dumped file at its
// target location and records MetadataUpdated.
//
// The worklist is the ledger, not the source: either every Dumped entry, or
// the ids named in Config.Filter.IDs. Files already MetadataUpdated or
// BlobRemoved are skipped. Any other status, or an entry dumped to a
// different kind of target, aborts the pass with a *PreconditionError before
// that file's record is touched. Named ids are all gated before the first
// record is rewritten.
//
// A record missing from the source or a failed update is a per-file failure:
// it is logged and counted, and the ledger is left as it was.
func (m *Migrator) UpdateMetadata(ctx context.Context) (*Summary, error) {
	start := m.config.Clock.Now()
	t := newTally(PhaseMetadata)

	logger.Info("%s: target=%s run=%s", PhaseMetadata, m.target.Kind(), m.config.RunID)

	work, err := m.worklist(PhaseMetadata)
	if err != nil {
		return m.finish(PhaseMetadata, t, start), err
	}

	for _, id := range work {
		if err := ctx.Err(); err != nil {
			return m.finish(PhaseMetadata, t, start), fmt.Errorf("%s: %w: %v", PhaseMetadata, ErrInterrupted, err)
		}

		entry, proceed, err := m.gate(PhaseMetadata, id, t)
		if err != nil {
			return m.finish(PhaseMetadata, t, start), err
		}
		if !proceed {
			continue
		}

		// A started file runs to completion so the ledger matches what was done.
		if err := m.updateFile(context.WithoutCancel(ctx), entry, t); err != nil {
			return m.finish(PhaseMetadata, t, start), err
		}
	}

	return m.finish(PhaseMetadata, t, start), nil
}

// updateFile rewrites one record. It returns an error only when the ledger
// cannot be written.
func (m *Migrator) updateFile(ctx context.Context, entry ledger.Entry, t *tally) error {
	start := m.config.Clock.Now()

	rec, err := m.source.ReadRecord(ctx, entry.FileID)
	if err != nil {
		t.candidate()
		m.failFile(PhaseMetadata, entry.FileID, t, start, fmt.Errorf("failed to read record: %w", err))
		return nil
	}
	if !m.config.Filter.Matches(rec) {
		t.skip()
		logger.Debug("%s: %s filtered out", PhaseMetadata, entry.FileID)
		return nil
	}
	t.candidate()

	key := entry.Key
	if key == "" {
		key = m.target.Key(rec)
	}
	pointer := m.target.Pointer(rec, key)

	if err := m.source.UpdatePointer(ctx, entry.FileID, pointer); err != nil {
		m.failFile(PhaseMetadata, entry.FileID, t, start, fmt.Errorf("failed to update record: %w", err))
		return nil
	}

	next := entry
	next.Status = ledger.StatusMetadataUpdated
	next.Key = key
	next.Error = ""
	next.Timestamp = time.Time{}
	if err := m.appendEntry(ctx, PhaseMetadata, next); err != nil {
		if ledger.IsWriteError(err) {
			return err
		}
		m.failFile(PhaseMetadata, entry.FileID, t, start, err)
		return nil
	}

	t.succeed(0)
	m.config.Metrics.RecordFile(string(PhaseMetadata), "succeeded", 0, m.config.Clock.Now().Sub(start))
	logger.Debug("%s: %s -> %s", PhaseMetadata, entry.FileID, pointer.Path)
	return nil
}
