package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/ledger"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

// RemoveSourceBlobs deletes the GridFS chunks of every file whose record has
// been repointed, and records BlobRemoved. This is the only destructive
// operation of the migration.
//
// The worklist is the MetadataUpdated entries of the ledger (or the ids in
// Config.Filter.IDs). Files already BlobRemoved are skipped; any other status
// aborts the pass with a *PreconditionError. With VerifyTarget the target
// object must still exist with the recorded size, otherwise the file is
// counted failed and its chunks are kept. In DryRun mode files are only
// logged.
func (m *Migrator) RemoveSourceBlobs(ctx context.Context) (*Summary, error) {
	start := m.config.Clock.Now()
	t := newTally(PhaseRemove)

	logger.Info("%s: target=%s verify_target=%v dry_run=%v run=%s",
		PhaseRemove, m.target.Kind(), m.config.VerifyTarget, m.config.DryRun, m.config.RunID)

	work, err := m.worklist(PhaseRemove)
	if err != nil {
		return m.finish(PhaseRemove, t, start), err
	}

	for _, id := range work {
		if err := ctx.Err(); err != nil {
			return m.finish(PhaseRemove, t, start), fmt.Errorf("%s: %w: %v", PhaseRemove, ErrInterrupted, err)
		}

		entry, proceed, err := m.gate(PhaseRemove, id, t)
		if err != nil {
			return m.finish(PhaseRemove, t, start), err
		}
		if !proceed {
			continue
		}

		// A started file runs to completion so the ledger matches what was done.
		if err := m.removeFile(context.WithoutCancel(ctx), entry, t); err != nil {
			return m.finish(PhaseRemove, t, start), err
		}
	}

	return m.finish(PhaseRemove, t, start), nil
}

// removeFile deletes one file's chunks. It returns an error only when the
// ledger cannot be written.
func (m *Migrator) removeFile(ctx context.Context, entry ledger.Entry, t *tally) error {
	start := m.config.Clock.Now()

	if m.config.Filter.RoomID != "" || m.config.Filter.UserID != "" {
		rec, err := m.source.ReadRecord(ctx, entry.FileID)
		if err != nil {
			t.candidate()
			m.failFile(PhaseRemove, entry.FileID, t, start, fmt.Errorf("failed to read record: %w", err))
			return nil
		}
		if !m.config.Filter.Matches(rec) {
			t.skip()
			return nil
		}
	}
	t.candidate()

	if m.config.VerifyTarget {
		if err := m.verifyTarget(ctx, entry); err != nil {
			m.failFile(PhaseRemove, entry.FileID, t, start, err)
			return nil
		}
	}

	if m.config.DryRun {
		t.skip()
		logger.Info("%s: DRY RUN - would remove chunks of %s (%d bytes at %s)",
			PhaseRemove, entry.FileID, entry.Bytes, entry.Key)
		return nil
	}

	if err := m.source.DeleteChunks(ctx, entry.FileID); err != nil {
		m.failFile(PhaseRemove, entry.FileID, t, start, fmt.Errorf("failed to delete chunks: %w", err))
		return nil
	}

	next := entry
	next.Status = ledger.StatusBlobRemoved
	next.Error = ""
	next.Timestamp = time.Time{}
	if err := m.appendEntry(ctx, PhaseRemove, next); err != nil {
		if ledger.IsWriteError(err) {
			return err
		}
		m.failFile(PhaseRemove, entry.FileID, t, start, err)
		return nil
	}

	t.succeed(entry.Bytes)
	m.config.Metrics.RecordFile(string(PhaseRemove), "succeeded", entry.Bytes, m.config.Clock.Now().Sub(start))
	logger.Debug("%s: removed chunks of %s", PhaseRemove, entry.FileID)
	return nil
}

// verifyTarget checks that the migrated copy is still intact.
func (m *Migrator) verifyTarget(ctx context.Context, entry ledger.Entry) error {
	key := entry.Key
	if key == "" {
		return fmt.Errorf("ledger entry has no target key; rerun dump or disable target verification")
	}

	n, exists, err := m.target.Verify(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to verify %s: %w", key, err)
	}
	if !exists || n != entry.Bytes {
		return &target.LengthMismatchError{Key: key, Expected: entry.Bytes, Actual: n, Exists: exists}
	}
	return nil
}
