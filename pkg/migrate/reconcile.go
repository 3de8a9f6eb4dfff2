package migrate

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/marmos91/gridfsmigrate/internal/logger"
	"github.com/marmos91/gridfsmigrate/pkg/ledger"
)

// ReconcileReport compares the ledger with the target's contents.
type ReconcileReport struct {
	StartTime time.Time
	EndTime   time.Time

	// Tracked is the number of migrated ledger entries checked
	Tracked int

	// Stored is the number of objects found in the target
	Stored int

	// Missing lists migrated entries whose object is absent from the target
	Missing []ledger.Entry

	// SizeMismatch lists migrated entries whose object size differs from the
	// recorded byte count
	SizeMismatch []ledger.Entry

	// Untracked counts target objects no migrated ledger entry refers to
	Untracked int
}

// OK reports whether every migrated file is present with the right size.
func (r *ReconcileReport) OK() bool {
	return len(r.Missing) == 0 && len(r.SizeMismatch) == 0
}

// Duration returns the time the reconciliation took.
func (r *ReconcileReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Summary returns a human-readable summary of the report.
func (r *ReconcileReport) Summary() string {
	return fmt.Sprintf("tracked=%d stored=%d missing=%d size_mismatch=%d untracked=%d duration=%s",
		r.Tracked, r.Stored, len(r.Missing), len(r.SizeMismatch), r.Untracked, r.Duration())
}

// Reconcile checks every migrated ledger entry (Dumped, MetadataUpdated or
// BlobRemoved) against a listing of the target:
//  1. Collect the keys the ledger says were written
//  2. List every object in the target
//  3. Report entries whose object is missing or has the wrong size
//
// Nothing is modified. Entries written to a different kind of target are
// ignored.
func (m *Migrator) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{StartTime: m.config.Clock.Now()}
	kind := string(m.target.Kind())

	logger.Info("Reconcile: Phase 1 - Collecting migrated entries from the ledger...")

	expected := make(map[string]ledger.Entry)
	for _, status := range []ledger.Status{ledger.StatusDumped, ledger.StatusMetadataUpdated, ledger.StatusBlobRemoved} {
		for e := range m.ledger.AllWithStatus(status) {
			if e.Key == "" || (e.Target != "" && e.Target != kind) {
				continue
			}
			if len(m.config.Filter.IDs) > 0 && !slices.Contains(m.config.Filter.IDs, e.FileID) {
				continue
			}
			expected[e.Key] = e
		}
	}
	report.Tracked = len(expected)

	logger.Info("Reconcile: Phase 2 - Listing target objects...")

	seen := make(map[string]struct{}, len(expected))
	err := m.target.ListKeys(ctx, func(key string, size int64) error {
		report.Stored++

		e, ok := expected[key]
		if !ok {
			report.Untracked++
			return nil
		}
		seen[key] = struct{}{}
		if size != e.Bytes {
			report.SizeMismatch = append(report.SizeMismatch, e)
		}
		return nil
	})
	if err != nil {
		report.EndTime = m.config.Clock.Now()
		return report, fmt.Errorf("failed to list target: %w", err)
	}

	for key, e := range expected {
		if _, ok := seen[key]; !ok {
			report.Missing = append(report.Missing, e)
		}
	}
	sortEntries(report.Missing)
	sortEntries(report.SizeMismatch)

	report.EndTime = m.config.Clock.Now()
	if report.OK() {
		logger.Info("Reconcile: Completed - %s", report.Summary())
	} else {
		logger.Warn("Reconcile: Completed - %s", report.Summary())
	}
	return report, nil
}

func sortEntries(entries []ledger.Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].FileID < entries[j].FileID })
}
