package migrate

import (
	"fmt"
	"time"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/ledger"
)

// worklist returns the file ids a ledger-driven phase should visit, in id
// order. Explicitly named ids are checked up front so that a single bad id
// aborts the pass before anything is modified.
func (m *Migrator) worklist(phase Phase) ([]string, error) {
	if len(m.config.Filter.IDs) > 0 {
		seen := make(map[string]struct{}, len(m.config.Filter.IDs))
		ids := make([]string, 0, len(m.config.Filter.IDs))
		for _, id := range m.config.Filter.IDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			if _, _, err := m.check(phase, id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}

	var ids []string
	for e := range m.ledger.AllWithStatus(phase.requires()) {
		ids = append(ids, e.FileID)
	}
	logger.Info("%s: %d files in worklist", phase, len(ids))
	return ids, nil
}

// check reads the latest ledger entry for id and decides whether phase may
// act on it. done reports that the phase already happened for the file.
func (m *Migrator) check(phase Phase, id string) (entry ledger.Entry, done bool, err error) {
	entry, ok := m.ledger.Get(id)
	if !ok {
		return entry, false, &PreconditionError{Phase: phase, FileID: id}
	}

	switch {
	case entry.Status == ledger.StatusBlobRemoved,
		phase == PhaseMetadata && entry.Status == ledger.StatusMetadataUpdated:
		return entry, true, nil
	case entry.Status != phase.requires():
		return entry, false, &PreconditionError{Phase: phase, FileID: id, Status: entry.Status}
	}

	if kind := string(m.target.Kind()); entry.Target != "" && entry.Target != kind {
		return entry, false, &PreconditionError{
			Phase:  phase,
			FileID: id,
			Status: entry.Status,
			Reason: fmt.Sprintf("dumped to %s, configured target is %s", entry.Target, kind),
		}
	}
	return entry, false, nil
}

// gate re-checks id right before the phase acts on it. proceed is false when
// the phase already happened for the file.
func (m *Migrator) gate(phase Phase, id string, t *tally) (entry ledger.Entry, proceed bool, err error) {
	entry, done, err := m.check(phase, id)
	if err != nil {
		logger.Error("%s: aborting: %v", phase, err)
		return entry, false, err
	}
	if done {
		t.alreadyDone()
		m.config.Metrics.RecordFile(string(phase), "already_done", 0, 0)
		logger.Debug("%s: %s already %s", phase, id, entry.Status)
		return entry, false, nil
	}
	return entry, true, nil
}

// failFile logs and counts a per-file failure of a sequential phase.
func (m *Migrator) failFile(phase Phase, id string, t *tally, start time.Time, err error) {
	logger.Warn("%s: %s failed: %v", phase, id, err)
	t.fail(id)
	m.config.Metrics.RecordFile(string(phase), "failed", 0, m.config.Clock.Now().Sub(start))
}
