package storage_test

import (
	"context"
	"errors"
	"sync"
	"syscall"
	"testing"

	"attic/internal/fsfault"
	"attic/internal/storage"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// memLedger is an in-memory storage.OrphanLedger.
type memLedger struct {
	mu      sync.Mutex
	nextID  int64
	orphans []storage.Orphan
}

func (l *memLedger) Record(_ context.Context, o storage.Orphan) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.orphans {
		if l.orphans[i].Path == o.Path {
			o.ID = l.orphans[i].ID
			l.orphans[i] = o
			return nil
		}
	}
	l.nextID++
	o.ID = l.nextID
	l.orphans = append(l.orphans, o)
	return nil
}

func (l *memLedger) List(_ context.Context) ([]storage.Orphan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]storage.Orphan(nil), l.orphans...), nil
}

func (l *memLedger) Forget(_ context.Context, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, o := range l.orphans {
		if o.ID == id {
			l.orphans = append(l.orphans[:i], l.orphans[i+1:]...)
			break
		}
	}
	return nil
}

func (l *memLedger) ForgetPath(_ context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.orphans[:0]
	for _, o := range l.orphans {
		if o.Path != path {
			kept = append(kept, o)
		}
	}
	l.orphans = kept
	return nil
}

type testEngine struct {
	*storage.Engine
	fs     *fsfault.Fs
	ledger *memLedger
}

func newTestEngine(t *testing.T) testEngine {
	t.Helper()

	fsys := fsfault.New(afero.NewMemMapFs())
	layout, err := storage.NewLayout(fsys, "/data/cache", "/data/files")
	require.NoError(t, err, "NewLayout error")

	ledger := &memLedger{}
	engine := storage.NewEngine(fsys, layout, storage.WithOrphanLedger(ledger))
	return testEngine{Engine: engine, fs: fsys, ledger: ledger}
}

func (e testEngine) put(t *testing.T, tier storage.Tier, name storage.FileName, data string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(e.fs, e.Path(tier, name), []byte(data), 0o644), "seeding %s/%s", tier, name)
}

func (e testEngine) read(t *testing.T, tier storage.Tier, name storage.FileName) string {
	t.Helper()
	data, err := afero.ReadFile(e.fs, e.Path(tier, name))
	require.NoError(t, err, "reading %s/%s", tier, name)
	return string(data)
}

func TestMoveMissingSource(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	name := storage.MustParseImageName("missing.jpg")

	_, err := e.MoveToPermanent(name)
	require.True(t, errors.Is(err, storage.NotFound), "expected NotFound, got %v", err)
	require.False(t, e.ExistsInPermanent(name), "nothing should be created")
}

func TestMoveRefusesToOverwrite(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	name := storage.MustParseImageName("clash.jpg")
	e.put(t, storage.Cache, name, "new")
	e.put(t, storage.Permanent, name, "old")

	_, err := e.MoveToPermanent(name)
	require.True(t, errors.Is(err, storage.AlreadyExists), "expected AlreadyExists, got %v", err)

	require.Equal(t, "new", e.read(t, storage.Cache, name), "source must be untouched")
	require.Equal(t, "old", e.read(t, storage.Permanent, name), "destination must be untouched")
}

func TestMoveToPermanent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	name := storage.MustParseImageName("entry.jpg")
	e.put(t, storage.Cache, name, "pixels")

	result, err := e.MoveToPermanent(name)
	require.NoError(t, err, "MoveToPermanent error")
	require.Nil(t, result.Warning, "no warning expected")

	require.False(t, e.ExistsInCache(name), "source should be gone")
	require.True(t, e.ExistsInPermanent(name), "destination should exist")
	require.Equal(t, "pixels", e.read(t, storage.Permanent, name))
}

func TestBackupRoundTrip(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	name := storage.MustParseImageName("round.jpeg")
	payload := string(make([]byte, 100_000)) + "tail"
	e.put(t, storage.Permanent, name, payload)

	_, err := e.MoveToBackup(name)
	require.NoError(t, err, "MoveToBackup error")
	require.True(t, e.ExistsInBackup(name))
	require.False(t, e.ExistsInPermanent(name))

	_, err = e.RestoreFromBackup(name)
	require.NoError(t, err, "RestoreFromBackup error")
	require.False(t, e.ExistsInBackup(name), "backup copy should be removed")
	require.True(t, e.ExistsInPermanent(name))
	require.Equal(t, payload, e.read(t, storage.Permanent, name), "content must survive the round trip")
}

func TestRestoreFromPermanent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	name := storage.MustParseImageName("undo.jpg")
	e.put(t, storage.Permanent, name, "committed")

	_, err := e.RestoreFromPermanent(name)
	require.NoError(t, err)
	require.True(t, e.ExistsInCache(name))
	require.False(t, e.ExistsInPermanent(name))
}

func TestMoveSourceDeleteFailureIsAWarning(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	name := storage.MustParseImageName("sticky.jpg")
	e.put(t, storage.Cache, name, "data")
	e.fs.DenyRemove(e.PathInCache(name))

	result, err := e.MoveToPermanent(name)
	require.NoError(t, err, "a failed source delete must not fail the move")
	require.NotNil(t, result.Warning, "warning expected")
	require.Equal(t, storage.PermissionDenied, result.Warning.Kind)

	require.True(t, e.ExistsInPermanent(name), "destination holds the file")
	require.True(t, e.ExistsInCache(name), "stale source remains")

	orphans, err := e.Orphans(context.Background())
	require.NoError(t, err)
	require.Len(t, orphans, 1, "orphan should be recorded")
	require.Equal(t, storage.Cache, orphans[0].Tier)
	require.Equal(t, storage.Permanent, orphans[0].Destination)
	require.Equal(t, name, orphans[0].Name)
	require.Equal(t, e.PathInCache(name), orphans[0].Path)
}

func TestReconcileOrphans(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	stuck := storage.MustParseImageName("stuck.jpg")
	freed := storage.MustParseImageName("freed.jpg")
	e.put(t, storage.Cache, stuck, "a")
	e.put(t, storage.Cache, freed, "b")

	denyErr := syscall.EACCES
	e.fs.FailRemove(e.PathInCache(stuck), denyErr)
	e.fs.FailRemove(e.PathInCache(freed), denyErr)

	for _, name := range []storage.FileName{stuck, freed} {
		result, err := e.MoveToPermanent(name)
		require.NoError(t, err)
		require.NotNil(t, result.Warning)
	}

	// The second file becomes deletable again.
	e.fs.FailRemove(e.PathInCache(freed), nil)

	report, err := e.ReconcileOrphans(context.Background())
	require.NoError(t, err, "ReconcileOrphans error")
	require.Equal(t, storage.ReconcileReport{Removed: 1, Remaining: 1}, report)

	require.False(t, e.ExistsInCache(freed), "reconciled orphan should be deleted")
	require.True(t, e.ExistsInCache(stuck), "undeletable orphan stays")
	require.True(t, e.ExistsInPermanent(freed), "reconcile never touches the destination")

	orphans, err := e.Orphans(context.Background())
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.Equal(t, stuck, orphans[0].Name)
}

func TestReconcileKeepsRestoredAttachment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(t)
	name := storage.MustParseImageName("restored.jpg")
	e.put(t, storage.Permanent, name, "original")

	// Setting the file aside leaves a stale permanent copy behind.
	e.fs.DenyRemove(e.PathInPermanent(name))
	result, err := e.MoveToBackup(name)
	require.NoError(t, err)
	require.NotNil(t, result.Warning)
	e.fs.FailRemove(e.PathInPermanent(name), nil)

	// The caller clears the stale copy itself and restores the backup.
	require.NoError(t, e.DeleteInPermanent(name))
	_, err = e.RestoreFromBackup(name)
	require.NoError(t, err)

	report, err := e.ReconcileOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, storage.ReconcileReport{}, report, "deleting the stale copy released its record")

	require.True(t, e.ExistsInPermanent(name), "the restored attachment must survive reconcile")
	require.Equal(t, "original", e.read(t, storage.Permanent, name))
}

func TestReconcileReleasesOrphanWithoutDestinationCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(t)
	name := storage.MustParseImageName("lone.jpg")
	e.put(t, storage.Permanent, name, "original")

	e.fs.DenyRemove(e.PathInPermanent(name))
	_, err := e.MoveToBackup(name)
	require.NoError(t, err)
	e.fs.FailRemove(e.PathInPermanent(name), nil)

	// The backup copy disappears behind the engine's back.
	require.NoError(t, e.fs.Remove(e.Path(storage.Backup, name)))

	report, err := e.ReconcileOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, storage.ReconcileReport{Released: 1}, report)
	require.True(t, e.ExistsInPermanent(name), "the only remaining copy is kept")

	orphans, err := e.Orphans(ctx)
	require.NoError(t, err)
	require.Empty(t, orphans)
}

func TestReconcileReleasesOverwrittenOrphan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(t)
	name := storage.MustParseImageName("again.jpg")
	e.put(t, storage.Cache, name, "first")

	e.fs.DenyRemove(e.PathInCache(name))
	_, err := e.MoveToPermanent(name)
	require.NoError(t, err)
	e.fs.FailRemove(e.PathInCache(name), nil)

	// A new file lands at the orphan path without the engine being told.
	e.put(t, storage.Cache, name, "second")

	report, err := e.ReconcileOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, storage.ReconcileReport{Released: 1}, report)
	require.Equal(t, "second", e.read(t, storage.Cache, name))
	require.Equal(t, "first", e.read(t, storage.Permanent, name))
}

func TestClaimAndDeleteReleaseOrphans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEngine(t)
	claimed := storage.MustParseImageName("claimed.jpg")
	deleted := storage.MustParseImageName("deleted.jpg")

	for _, name := range []storage.FileName{claimed, deleted} {
		e.put(t, storage.Cache, name, "data")
		e.fs.DenyRemove(e.PathInCache(name))
		_, err := e.MoveToPermanent(name)
		require.NoError(t, err)
		e.fs.FailRemove(e.PathInCache(name), nil)
	}

	orphans, err := e.Orphans(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 2)

	e.Claim(storage.Cache, claimed)
	require.NoError(t, e.DeleteInCache(deleted))

	orphans, err = e.Orphans(ctx)
	require.NoError(t, err)
	require.Empty(t, orphans)
	require.True(t, e.ExistsInCache(claimed), "claiming never touches the file")
}

func TestMoveCopyFailureRemovesPartialDestination(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	name := storage.MustParseImageName("big.jpg")
	e.put(t, storage.Cache, name, "0123456789abcdef")
	e.fs.FailWrite(e.PathInPermanent(name), syscall.ENOSPC)

	_, err := e.MoveToPermanent(name)
	require.Error(t, err, "copy failure must propagate")
	require.True(t, errors.Is(err, storage.InsufficientStorage), "expected InsufficientStorage, got %v", err)
	require.True(t, errors.Is(err, storage.WriteFailure), "InsufficientStorage is a write failure")

	require.False(t, e.ExistsInPermanent(name), "partial destination must be cleaned up")
	require.True(t, e.ExistsInCache(name), "source must be kept when the copy fails")
}

func TestMoveCopyFailureKeepsOriginalErrorWhenCleanupFails(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	name := storage.MustParseImageName("big.jpg")
	e.put(t, storage.Cache, name, "0123456789abcdef")
	e.fs.FailWrite(e.PathInPermanent(name), syscall.EIO)
	e.fs.DenyRemove(e.PathInPermanent(name))

	_, err := e.MoveToPermanent(name)
	require.True(t, errors.Is(err, storage.WriteFailure), "expected the write failure, got %v", err)
	require.False(t, errors.Is(err, storage.InsufficientStorage), "EIO is not a full disk")
}

func TestMoveRejectsInvalidArguments(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	name := storage.MustParseImageName("x.jpg")

	_, err := e.Move(name, storage.Cache, storage.Cache)
	require.True(t, errors.Is(err, storage.InvalidParameter), "same tier")

	_, err = e.Move(storage.FileName{}, storage.Cache, storage.Permanent)
	require.True(t, errors.Is(err, storage.InvalidParameter), "zero name")
}

func TestDelete(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	name := storage.MustParseImageName("gone.jpg")
	e.put(t, storage.Backup, name, "x")

	require.NoError(t, e.DeleteInBackup(name))
	require.False(t, e.ExistsInBackup(name))

	err := e.DeleteInBackup(name)
	require.True(t, errors.Is(err, storage.NotFound), "second delete should report NotFound, got %v", err)

	e.put(t, storage.Permanent, name, "x")
	e.fs.DenyRemove(e.PathInPermanent(name))
	err = e.DeleteInPermanent(name)
	require.True(t, errors.Is(err, storage.PermissionDenied), "expected PermissionDenied, got %v", err)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	name := storage.MustParseImageName("read.jpg")
	e.put(t, storage.Cache, name, "content")

	f, err := e.Open(storage.Cache, name)
	require.NoError(t, err)
	data, err := afero.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "content", string(data))

	_, err = e.Open(storage.Permanent, name)
	require.True(t, errors.Is(err, storage.NotFound))
}

func TestClearAllMergesBothTiers(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	cacheName := storage.MustParseImageName("c.jpg")
	backupName := storage.MustParseImageName("b.jpg")
	permanentName := storage.MustParseImageName("p.jpg")
	okName := storage.MustParseImageName("ok.jpg")

	e.put(t, storage.Cache, cacheName, "c")
	e.put(t, storage.Backup, backupName, "b")
	e.put(t, storage.Permanent, permanentName, "p")
	e.put(t, storage.Permanent, okName, "ok")

	e.fs.DenyRemove(e.PathInCache(cacheName))
	e.fs.DenyRemove(e.PathInPermanent(permanentName))

	err := e.ClearAll()
	require.True(t, errors.Is(err, storage.AggregateDeleteFailure), "expected aggregate failure, got %v", err)

	var agg *storage.AggregateError
	require.True(t, errors.As(err, &agg))
	require.ElementsMatch(t, []string{e.PathInCache(cacheName), e.PathInPermanent(permanentName)}, agg.Paths(),
		"failures from both sweeps must be reported")
	for _, f := range agg.Failures {
		require.Equal(t, storage.PermissionDenied, f.Err.Kind)
	}

	require.False(t, e.ExistsInBackup(backupName), "backup lives inside the cache tier")
	require.False(t, e.ExistsInPermanent(okName))
	for _, tier := range storage.Tiers {
		ok, err := afero.DirExists(e.fs, e.Layout().Dir(tier))
		require.NoError(t, err)
		require.Truef(t, ok, "%s directory must survive", tier)
	}
}

func TestClearBackupLeavesCache(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	cached := storage.MustParseImageName("keep.jpg")
	backed := storage.MustParseImageName("drop.jpg")
	e.put(t, storage.Cache, cached, "k")
	e.put(t, storage.Backup, backed, "d")

	require.NoError(t, e.ClearBackup())
	require.True(t, e.ExistsInCache(cached))
	require.False(t, e.ExistsInBackup(backed))

	require.NoError(t, e.ClearCache())
	require.False(t, e.ExistsInCache(cached))
}

func TestClearMissingTierRoot(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.put(t, storage.Permanent, storage.MustParseImageName("p.jpg"), "p")
	require.NoError(t, e.fs.RemoveAll(e.Layout().BackupDir()))

	err := e.ClearBackup()
	require.True(t, errors.Is(err, storage.NotFound), "expected not found, got %v", err)
	var serr *storage.Error
	require.True(t, errors.As(err, &serr))
	require.Equal(t, e.Layout().BackupDir(), serr.Path)
	var agg *storage.AggregateError
	require.False(t, errors.As(err, &agg), "a single tier clear reports its root directly")

	require.NoError(t, e.fs.RemoveAll(e.Layout().CacheDir()))
	err = e.ClearCache()
	require.True(t, errors.Is(err, storage.NotFound), "expected not found, got %v", err)
	require.False(t, errors.As(err, &agg))

	err = e.ClearAll()
	require.True(t, errors.As(err, &agg), "clearing everything merges a missing root, got %v", err)
	require.Equal(t, []string{e.Layout().CacheDir()}, agg.Paths())
	require.Equal(t, storage.NotFound, agg.Failures[0].Err.Kind)
	require.False(t, e.ExistsInPermanent(storage.MustParseImageName("p.jpg")), "the other tier is still swept")
}
