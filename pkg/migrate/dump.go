package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/ledger"
	"github.com/marmos91/gridfsmigrate/pkg/source"
)

// Dump copies every eligible file that the ledger does not already show as
// migrated into the target.
//
// Records stream lazily from the source and are handed to MaxWorkers workers
// over a channel of the same capacity, so at most 2*MaxWorkers records are in
// memory. A file that fails is recorded DumpFailed and counted; the run goes
// on. A ledger write failure stops dispatch and is returned once in-flight
// files finish.
//
// Cancelling ctx stops dispatch. Files already being written complete (or
// fail) and are recorded; files waiting for a retry are recorded DumpFailed.
//
// Returns:
//   - *Summary: Always non-nil; Summary.Err reports per-file failures
//   - error: Listing, ledger or cancellation error that ended the run early
func (m *Migrator) Dump(ctx context.Context) (*Summary, error) {
	start := m.config.Clock.Now()
	t := newTally(PhaseDump)

	rateLimit := "unlimited"
	if l := m.config.RateLimiter.Limit(); l > 0 {
		rateLimit = fmt.Sprintf("%g/s", l)
	}
	logger.Info("%s: target=%s workers=%d retries=%d rate_limit=%s run=%s",
		PhaseDump, m.target.Kind(), m.config.MaxWorkers, m.config.WriteRetries, rateLimit, m.config.RunID)

	it, err := m.source.ListFiles(ctx, m.config.Filter)
	if err != nil {
		return m.finish(PhaseDump, t, start), fmt.Errorf("failed to list files: %w", err)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			logger.Debug("%s: closing record iterator: %v", PhaseDump, cerr)
		}
	}()

	tasks := make(chan source.FileRecord, m.config.MaxWorkers)
	g, gctx := errgroup.WithContext(ctx)
	var notStarted atomic.Int64

	for i := 0; i < m.config.MaxWorkers; i++ {
		g.Go(func() error {
			for rec := range tasks {
				if gctx.Err() != nil {
					// Queued but not started: leave it for the next run.
					notStarted.Add(1)
					continue
				}
				t.candidate()
				if err := m.dumpFile(gctx, &rec, t); err != nil {
					return err
				}
			}
			return nil
		})
	}

	dispatchErr := m.dispatch(gctx, it, tasks, t)
	close(tasks)
	workerErr := g.Wait()

	if n := notStarted.Load(); n > 0 {
		logger.Warn("%s: %d queued files were not started and are left for the next run", PhaseDump, n)
	}

	s := m.finish(PhaseDump, t, start)

	switch {
	case workerErr != nil:
		return s, workerErr
	case dispatchErr == nil:
		return s, nil
	case ctx.Err() != nil:
		return s, fmt.Errorf("%s: %w: %v", PhaseDump, ErrInterrupted, ctx.Err())
	default:
		return s, dispatchErr
	}
}

// dispatch feeds candidate records to the workers until the iterator is
// exhausted or ctx ends.
func (m *Migrator) dispatch(ctx context.Context, it source.RecordIterator, tasks chan<- source.FileRecord, t *tally) error {
	var rec source.FileRecord
	for it.Next(&rec) {
		if !rec.Eligible() {
			t.skip()
			m.config.Metrics.RecordFile(string(PhaseDump), "skipped", 0, 0)
			logger.Debug("%s: skipping %s: store=%q complete=%v", PhaseDump, rec.ID, rec.Store, rec.Complete)
			continue
		}

		if e, ok := m.ledger.Get(rec.ID); ok && e.Status.Migrated() {
			t.alreadyDone()
			m.config.Metrics.RecordFile(string(PhaseDump), "already_done", 0, 0)
			logger.Debug("%s: %s already %s", PhaseDump, rec.ID, e.Status)
			continue
		}

		if err := m.config.RateLimiter.Wait(ctx); err != nil {
			return err
		}

		select {
		case tasks <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := it.Err(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to list files: %w", err)
	}
	return ctx.Err()
}

// dumpFile runs one file through Pending -> write -> verify -> Dumped or
// DumpFailed. It returns an error only when the ledger cannot be written.
func (m *Migrator) dumpFile(ctx context.Context, rec *source.FileRecord, t *tally) error {
	start := m.config.Clock.Now()
	m.config.Metrics.RecordTaskStart(string(PhaseDump))
	defer m.config.Metrics.RecordTaskEnd(string(PhaseDump))

	// In-flight I/O outlives cancellation so the outcome can be recorded.
	ioCtx := context.WithoutCancel(ctx)

	key := m.target.Key(rec)
	entry := ledger.Entry{
		FileID:   rec.ID,
		Key:      key,
		FileName: rec.FileName(),
		Target:   string(m.target.Kind()),
	}

	entry.Status = ledger.StatusPending
	if err := m.appendEntry(ioCtx, PhaseDump, entry); err != nil {
		if ledger.IsWriteError(err) {
			return err
		}
		t.fail(rec.ID)
		m.config.Metrics.RecordFile(string(PhaseDump), "failed", 0, m.config.Clock.Now().Sub(start))
		return nil
	}

	written, err := m.copyFile(ctx, ioCtx, rec, key)
	if err == nil {
		err = m.verifyWritten(ioCtx, key, rec.Size)
	}
	elapsed := m.config.Clock.Now().Sub(start)

	if err != nil {
		logger.Warn("%s: %s failed: %v", PhaseDump, rec.ID, err)

		entry.Status = ledger.StatusDumpFailed
		entry.Error = err.Error()
		t.fail(rec.ID)
		m.config.Metrics.RecordFile(string(PhaseDump), "failed", 0, elapsed)

		if aerr := m.appendEntry(ioCtx, PhaseDump, entry); ledger.IsWriteError(aerr) {
			return aerr
		}
		return nil
	}

	entry.Status = ledger.StatusDumped
	entry.Bytes = written
	if err := m.appendEntry(ioCtx, PhaseDump, entry); err != nil {
		if ledger.IsWriteError(err) {
			return err
		}
		t.fail(rec.ID)
		m.config.Metrics.RecordFile(string(PhaseDump), "failed", 0, elapsed)
		return nil
	}

	t.succeed(written)
	m.config.Metrics.RecordFile(string(PhaseDump), "succeeded", written, elapsed)
	logger.Debug("%s: %s -> %s (%d bytes, %s)", PhaseDump, rec.ID, key, written, elapsed)
	return nil
}
