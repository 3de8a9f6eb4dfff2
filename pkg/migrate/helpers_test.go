package migrate_test

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/gridfsmigrate/pkg/ledger"
	"github.com/marmos91/gridfsmigrate/pkg/migrate"
	"github.com/marmos91/gridfsmigrate/pkg/source"
	srcmemory "github.com/marmos91/gridfsmigrate/pkg/source/memory"
	"github.com/marmos91/gridfsmigrate/pkg/target"
	tgtmemory "github.com/marmos91/gridfsmigrate/pkg/target/memory"
)

// fixture bundles an in-memory source and target with a file ledger.
type fixture struct {
	src        *srcmemory.MemorySource
	tgt        *tgtmemory.MemoryTarget
	led        *ledger.FileLedger
	ledgerPath string
}

func newFixture(t *testing.T, kind target.Kind) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	led, err := ledger.OpenFileLedger(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = led.Close() })

	return &fixture{
		src:        srcmemory.NewMemorySource(),
		tgt:        tgtmemory.NewMemoryTarget(kind),
		led:        led,
		ledgerPath: path,
	}
}

// addFiles stores n complete GridFS files named f00, f01, ... with distinct
// contents and returns the contents by id.
func (f *fixture) addFiles(n int) map[string][]byte {
	files := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("f%02d", i)
		data := []byte(fmt.Sprintf("contents of file %d %s", i, strings.Repeat("x", i*7)))
		f.src.AddFile(id, data, 8)
		files[id] = data
	}
	return files
}

func (f *fixture) migrator(cfg migrate.Config) *migrate.Migrator {
	return f.migratorFor(f.tgt, cfg)
}

func (f *fixture) migratorFor(tgt target.Target, cfg migrate.Config) *migrate.Migrator {
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return migrate.New(f.src, tgt, f.led, cfg)
}

func (f *fixture) status(t *testing.T, id string) ledger.Status {
	t.Helper()
	e, ok := f.led.Get(id)
	if !ok {
		return ""
	}
	return e.Status
}

// flakyTarget fails the first failures writes of every key with a retryable
// write error.
type flakyTarget struct {
	target.Target

	failures int
	onWrite  func()

	mu       sync.Mutex
	attempts map[string]int
}

func newFlakyTarget(inner target.Target, failures int) *flakyTarget {
	return &flakyTarget{Target: inner, failures: failures, attempts: make(map[string]int)}
}

func (f *flakyTarget) Write(ctx context.Context, key string, r io.Reader, n int64, info target.ObjectInfo) (target.WriteResult, error) {
	f.mu.Lock()
	f.attempts[key]++
	attempt := f.attempts[key]
	f.mu.Unlock()

	if f.onWrite != nil {
		f.onWrite()
	}
	if attempt <= f.failures {
		return target.WriteResult{}, target.WrapWriteError(key, "put", fmt.Errorf("injected failure %d", attempt))
	}
	return f.Target.Write(ctx, key, r, n, info)
}

func (f *flakyTarget) Attempts(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[key]
}

// shortTarget stores objects but reports them one byte short on Verify.
type shortTarget struct {
	target.Target
}

func (s shortTarget) Verify(ctx context.Context, key string) (int64, bool, error) {
	n, ok, err := s.Target.Verify(ctx, key)
	return n - 1, ok, err
}

// blockingTarget parks every Write until release is closed.
type blockingTarget struct {
	target.Target

	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingTarget(inner target.Target) *blockingTarget {
	return &blockingTarget{
		Target:  inner,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingTarget) Write(ctx context.Context, key string, r io.Reader, n int64, info target.ObjectInfo) (target.WriteResult, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.Target.Write(ctx, key, r, n, info)
}

// brokenLedger accepts the first allow appends and then fails to persist.
type brokenLedger struct {
	ledger.Ledger

	mu    sync.Mutex
	allow int
}

func (b *brokenLedger) Append(ctx context.Context, e ledger.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.allow <= 0 {
		return &ledger.WriteError{FileID: e.FileID, Status: e.Status, Err: fmt.Errorf("disk full")}
	}
	b.allow--
	return b.Ledger.Append(ctx, e)
}

// cancelingSource cancels the run right after a pointer update or a chunk
// deletion has gone through.
type cancelingSource struct {
	source.Source

	cancel context.CancelFunc
}

func (c *cancelingSource) UpdatePointer(ctx context.Context, id string, p source.StoragePointer) error {
	err := c.Source.UpdatePointer(ctx, id, p)
	c.cancel()
	return err
}

func (c *cancelingSource) DeleteChunks(ctx context.Context, id string) error {
	err := c.Source.DeleteChunks(ctx, id)
	c.cancel()
	return err
}
