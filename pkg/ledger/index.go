package ledger

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"
)

// index is the folded view of the log shared by every backend: the latest
// entry per file id. Backends embed it and supply persist.
type index struct {
	mu     sync.RWMutex
	latest map[string]Entry
	closed bool
}

// fold applies a replayed entry. Later timestamps win; on a tie the entry
// replayed last wins, so fold must be called in log order.
func (ix *index) fold(e Entry) {
	cur, ok := ix.latest[e.FileID]
	if ok && e.Timestamp.Before(cur.Timestamp) {
		return
	}
	ix.latest[e.FileID] = e
}

func (ix *index) Get(fileID string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	e, ok := ix.latest[fileID]
	return e, ok
}

func (ix *index) AllWithStatus(status Status) iter.Seq[Entry] {
	ix.mu.RLock()
	matches := make([]Entry, 0)
	for _, e := range ix.latest {
		if e.Status == status {
			matches = append(matches, e)
		}
	}
	ix.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].FileID < matches[j].FileID })

	return func(yield func(Entry) bool) {
		for _, e := range matches {
			if !yield(e) {
				return
			}
		}
	}
}

func (ix *index) Counts() map[Status]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	counts := make(map[Status]int, len(Statuses))
	for _, e := range ix.latest {
		counts[e.Status]++
	}
	return counts
}

// append validates e against the index, persists it and applies it. The
// write lock is held throughout, which linearizes appends.
func (ix *index) append(ctx context.Context, e Entry, persist func(Entry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.FileID == "" {
		return fmt.Errorf("ledger entry without file id")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("ledger entry %s: unknown status %q", e.FileID, e.Status)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.closed {
		return &WriteError{FileID: e.FileID, Status: e.Status, Err: ErrClosed}
	}

	cur, ok := ix.latest[e.FileID]
	if !CanTransition(cur.Status, e.Status) {
		from := cur.Status
		if !ok {
			from = "absent"
		}
		return fmt.Errorf("file %s: %s -> %s: %w", e.FileID, from, e.Status, ErrInvalidTransition)
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	// Never let a clock step make an appended entry lose to its predecessor
	// on replay.
	if ok && e.Timestamp.Before(cur.Timestamp) {
		e.Timestamp = cur.Timestamp
	}

	if err := persist(e); err != nil {
		return &WriteError{FileID: e.FileID, Status: e.Status, Err: err}
	}

	ix.latest[e.FileID] = e
	return nil
}

// markClosed flips the closed flag and reports whether it was already set.
func (ix *index) markClosed() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	was := ix.closed
	ix.closed = true
	return was
}
