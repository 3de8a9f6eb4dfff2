package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gridfsmigrate/pkg/ledger"
	"github.com/marmos91/gridfsmigrate/pkg/migrate"
	"github.com/marmos91/gridfsmigrate/pkg/source"
	"github.com/marmos91/gridfsmigrate/pkg/target"
)

func dumpAll(t *testing.T, f *fixture) {
	t.Helper()
	s, err := f.migrator(migrate.Config{}).Dump(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Err())
}

func TestUpdateMetadata_RepointsDumpedFiles(t *testing.T) {
	f := newFixture(t, target.KindFileSystem)
	f.addFiles(3)
	dumpAll(t, f)

	s, err := f.migrator(migrate.Config{}).UpdateMetadata(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Err())
	assert.Equal(t, migrate.PhaseMetadata, s.Phase)
	assert.Equal(t, 3, s.Succeeded)

	p, ok := f.src.Pointer("f01")
	require.True(t, ok)
	assert.Equal(t, "FileSystem:Uploads", p.Store)
	assert.Equal(t, "/ufs/FileSystem:Uploads/f01/f01", p.Path)
	assert.Equal(t, p.Path, p.URL)
	assert.Empty(t, p.ObjectKey)

	rec, _ := f.src.Record("f01")
	assert.Equal(t, "FileSystem:Uploads", rec.Store)

	e, _ := f.led.Get("f01")
	assert.Equal(t, ledger.StatusMetadataUpdated, e.Status)
	assert.Equal(t, "f01", e.Key)
	assert.NotZero(t, e.Bytes, "byte count carried forward")
}

func TestUpdateMetadata_S3PointerCarriesObjectKey(t *testing.T) {
	f := newFixture(t, target.KindS3)
	f.src.AddRecord(source.FileRecord{ID: "img", Extension: "png", Size: 3, Store: source.GridFSStore, Complete: true})
	f.src.SetChunk("img", 0, []byte("png"))
	dumpAll(t, f)

	_, err := f.migrator(migrate.Config{}).UpdateMetadata(context.Background())
	require.NoError(t, err)

	p, ok := f.src.Pointer("img")
	require.True(t, ok)
	assert.Equal(t, "AmazonS3:Uploads", p.Store)
	assert.Equal(t, "/ufs/AmazonS3:Uploads/img/img.png", p.Path)
	assert.Equal(t, "img.png", p.ObjectKey)
}

func TestUpdateMetadata_Idempotent(t *testing.T) {
	f := newFixture(t, target.KindFileSystem)
	f.addFiles(3)
	dumpAll(t, f)

	_, err := f.migrator(migrate.Config{}).UpdateMetadata(context.Background())
	require.NoError(t, err)

	s, err := f.migrator(migrate.Config{}).UpdateMetadata(context.Background())
	require.NoError(t, err)
	assert.Zero(t, s.Succeeded, "worklist holds only Dumped entries")
	assert.Zero(t, s.Failed)

	// Named ids that are already done are no-ops.
	s, err = f.migrator(migrate.Config{Filter: source.Filter{IDs: []string{"f00", "f01"}}}).UpdateMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.AlreadyDone)
	assert.Zero(t, s.Succeeded)
}

func TestUpdateMetadata_RefusesFilesNotDumped(t *testing.T) {
	f := newFixture(t, target.KindFileSystem)
	f.addFiles(2)
	f.src.AddRecord(source.FileRecord{ID: "gap", Size: 4, Store: source.GridFSStore, Complete: true})
	f.src.SetChunk("gap", 1, []byte("xxxx"))
	_, err := f.migrator(migrate.Config{}).Dump(context.Background())
	require.NoError(t, err)
	require.Equal(t, ledger.StatusDumpFailed, f.status(t, "gap"))

	t.Run("DumpFailedIsNotInTheWorklist", func(t *testing.T) {
		s, err := f.migrator(migrate.Config{Filter: source.Filter{IDs: []string{"f00"}}}).UpdateMetadata(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, s.Succeeded)
		assert.Equal(t, ledger.StatusDumpFailed, f.status(t, "gap"))
	})

	t.Run("NamedDumpFailedAbortsBeforeAnyUpdate", func(t *testing.T) {
		m := f.migrator(migrate.Config{Filter: source.Filter{IDs: []string{"f01", "gap"}}})
		_, err := m.UpdateMetadata(context.Background())
		require.Error(t, err)

		var pe *migrate.PreconditionError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "gap", pe.FileID)
		assert.Equal(t, ledger.StatusDumpFailed, pe.Status)
		assert.Contains(t, err.Error(), "DumpFailed")

		_, updated := f.src.Pointer("f01")
		assert.False(t, updated, "f01 untouched because the pass aborted up front")
		assert.Equal(t, ledger.StatusDumped, f.status(t, "f01"))

		rec, _ := f.src.Record("gap")
		assert.Equal(t, source.GridFSStore, rec.Store)
	})

	t.Run("NamedUnknownIdAborts", func(t *testing.T) {
		_, err := f.migrator(migrate.Config{Filter: source.Filter{IDs: []string{"nope"}}}).UpdateMetadata(context.Background())
		require.True(t, migrate.IsPreconditionError(err), "got %v", err)
		assert.Contains(t, err.Error(), "absent")
	})
}

func TestUpdateMetadata_RefusesOtherTargetKind(t *testing.T) {
	f := newFixture(t, target.KindFileSystem)
	f.addFiles(1)
	dumpAll(t, f)

	s3Fixture := *f
	s3Fixture.tgt = newFixture(t, target.KindS3).tgt

	_, err := s3Fixture.migrator(migrate.Config{}).UpdateMetadata(context.Background())
	var pe *migrate.PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Error(), "dumped to filesystem, configured target is s3")
	assert.Equal(t, ledger.StatusDumped, f.status(t, "f00"))
}

func TestUpdateMetadata_MissingRecordIsPerFileFailure(t *testing.T) {
	f := newFixture(t, target.KindFileSystem)
	f.addFiles(2)
	dumpAll(t, f)

	require.NoError(t, f.led.Append(context.Background(), ledger.Entry{
		FileID: "ghost", Status: ledger.StatusDumped, Key: "ghost", Target: "filesystem",
	}))

	s, err := f.migrator(migrate.Config{}).UpdateMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, []string{"ghost"}, s.FailedIDs)
	assert.ErrorIs(t, s.Err(), migrate.ErrFilesFailed)
	assert.Equal(t, ledger.StatusDumped, f.status(t, "ghost"), "ledger untouched")
}

func TestUpdateMetadata_Cancelled(t *testing.T) {
	f := newFixture(t, target.KindFileSystem)
	f.addFiles(2)
	dumpAll(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, err := f.migrator(migrate.Config{}).UpdateMetadata(ctx)
	require.ErrorIs(t, err, migrate.ErrInterrupted)
	assert.Zero(t, s.Succeeded)
	assert.Equal(t, ledger.StatusDumped, f.status(t, "f00"))
}

func TestUpdateMetadata_InterruptAfterUpdateIsRecorded(t *testing.T) {
	f := newFixture(t, target.KindFileSystem)
	f.addFiles(2)
	dumpAll(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancelingSource{Source: f.src, cancel: cancel}

	s, err := migrate.New(src, f.tgt, f.led, migrate.Config{}).UpdateMetadata(ctx)
	require.ErrorIs(t, err, migrate.ErrInterrupted)
	assert.Equal(t, 1, s.Succeeded)
	assert.Zero(t, s.Failed)

	rec, _ := f.src.Record("f00")
	assert.Equal(t, "FileSystem:Uploads", rec.Store)
	assert.Equal(t, ledger.StatusMetadataUpdated, f.status(t, "f00"))

	rec, _ = f.src.Record("f01")
	assert.Equal(t, source.GridFSStore, rec.Store)
	assert.Equal(t, ledger.StatusDumped, f.status(t, "f01"))
}
