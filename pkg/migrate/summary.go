package migrate

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/marmos91/gridfsmigrate/pkg/ledger"
)

// Phase names one migration phase.
type Phase string

const (
	PhaseDump     Phase = "dump"
	PhaseMetadata Phase = "update-metadata"
	PhaseRemove   Phase = "remove-source-blobs"
)

// requires returns the ledger status a file must have to enter the phase.
func (p Phase) requires() ledger.Status {
	switch p {
	case PhaseMetadata:
		return ledger.StatusDumped
	case PhaseRemove:
		return ledger.StatusMetadataUpdated
	default:
		return ""
	}
}

// Summary reports the outcome of one phase run.
//
// Candidates counts the files the phase started on. Files queued but never
// started because the run stopped early are not counted; a dry run counts its
// files as both candidates and skipped.
type Summary struct {
	Phase       Phase
	Candidates  int
	Skipped     int // not eligible, or filtered out
	AlreadyDone int // ledger shows the phase already happened
	Succeeded   int
	Failed      int
	Bytes       int64
	FailedIDs   []string
	Duration    time.Duration
}

// Err returns a non-nil error when any file failed.
func (s *Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%s: %d of %d files: %w", s.Phase, s.Failed, s.Candidates, ErrFilesFailed)
}

// String returns a one-line human-readable summary.
func (s *Summary) String() string {
	return fmt.Sprintf("%s: candidates=%s succeeded=%s failed=%s skipped=%s already_done=%s bytes=%s duration=%s",
		s.Phase,
		humanize.Comma(int64(s.Candidates)),
		humanize.Comma(int64(s.Succeeded)),
		humanize.Comma(int64(s.Failed)),
		humanize.Comma(int64(s.Skipped)),
		humanize.Comma(int64(s.AlreadyDone)),
		humanize.IBytes(uint64(max(s.Bytes, 0))),
		s.Duration.Round(time.Millisecond))
}

// tally accumulates a Summary from concurrent workers.
type tally struct {
	mu sync.Mutex
	s  Summary
}

func newTally(phase Phase) *tally {
	return &tally{s: Summary{Phase: phase}}
}

func (t *tally) candidate() {
	t.mu.Lock()
	t.s.Candidates++
	t.mu.Unlock()
}

func (t *tally) skip() {
	t.mu.Lock()
	t.s.Skipped++
	t.mu.Unlock()
}

func (t *tally) alreadyDone() {
	t.mu.Lock()
	t.s.AlreadyDone++
	t.mu.Unlock()
}

func (t *tally) succeed(bytes int64) {
	t.mu.Lock()
	t.s.Succeeded++
	t.s.Bytes += bytes
	t.mu.Unlock()
}

func (t *tally) fail(id string) {
	t.mu.Lock()
	t.s.Failed++
	t.s.FailedIDs = append(t.s.FailedIDs, id)
	t.mu.Unlock()
}

// summary returns a copy with FailedIDs sorted.
func (t *tally) summary(elapsed time.Duration) *Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.s
	s.FailedIDs = append([]string(nil), t.s.FailedIDs...)
	sort.Strings(s.FailedIDs)
	s.Duration = elapsed
	return &s
}
