package migrate

import (
	"context"
	"fmt"

	"github.com/juju/retry"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/source"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

// copyFile streams rec's chunks into the target under key, retrying target
// write failures with doubling delays. Every attempt reopens the chunk
// stream. Source read errors and everything else fail at once.
//
// ctx only bounds the retry sleeps; the writes themselves run on ioCtx.
func (m *Migrator) copyFile(ctx, ioCtx context.Context, rec *source.FileRecord, key string) (int64, error) {
	var (
		written  int64
		lastErr  error
		fatalErr error
	)

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			res, err := m.writeOnce(ioCtx, rec, key)
			if err != nil {
				lastErr = err
				return err
			}
			written = res.Bytes
			return nil
		},
		IsFatalError: func(err error) bool {
			if target.IsWriteError(err) {
				return false
			}
			fatalErr = err
			return true
		},
		NotifyFunc: func(err error, attempt int) {
			m.config.Metrics.RecordRetry(string(PhaseDump))
			logger.Debug("%s: %s attempt %d failed, retrying: %v", PhaseDump, rec.ID, attempt, err)
		},
		Attempts:    m.config.WriteRetries,
		Delay:       m.config.RetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       m.config.Clock,
		Stop:        ctx.Done(),
	})

	switch {
	case err == nil:
		return written, nil
	case retry.IsAttemptsExceeded(err):
		return 0, fmt.Errorf("failed after %d attempts: %w", m.config.WriteRetries, lastErr)
	case fatalErr != nil:
		return 0, fatalErr
	case ctx.Err() != nil:
		return 0, fmt.Errorf("%w: %v", ErrInterrupted, lastErr)
	default:
		return 0, err
	}
}

// writeOnce makes one attempt at copying rec into the target.
func (m *Migrator) writeOnce(ctx context.Context, rec *source.FileRecord, key string) (target.WriteResult, error) {
	chunks, err := m.source.OpenChunks(ctx, rec.ID)
	if err != nil {
		return target.WriteResult{}, fmt.Errorf("failed to open chunks: %w", err)
	}

	r := source.NewChunkReader(rec, chunks)
	defer func() {
		if cerr := r.Close(); cerr != nil {
			logger.Debug("%s: closing chunks of %s: %v", PhaseDump, rec.ID, cerr)
		}
	}()

	return m.target.Write(ctx, key, r, rec.Size, target.InfoFor(rec))
}

// verifyWritten checks that the object under key holds exactly want bytes.
func (m *Migrator) verifyWritten(ctx context.Context, key string, want int64) error {
	n, exists, err := m.target.Verify(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to verify %s: %w", key, err)
	}
	if !exists || n != want {
		return &target.LengthMismatchError{Key: key, Expected: want, Actual: n, Exists: exists}
	}
	return nil
}
