package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"attic/internal/metrics"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// ledgerTimeout bounds ledger writes made from within a transfer.
const ledgerTimeout = 5 * time.Second

// Orphan is a source file a transfer could not remove after copying it.
// Destination is the tier the transfer copied the file into; the orphan is
// only a duplicate while that copy still holds the same bytes.
type Orphan struct {
	ID          int64
	Tier        Tier
	Destination Tier
	Name        FileName
	Path        string
	Cause       string
	RecordedAt  time.Time
}

// OrphanLedger persists orphans so they can be reconciled later.
type OrphanLedger interface {
	Record(ctx context.Context, o Orphan) error
	List(ctx context.Context) ([]Orphan, error)
	Forget(ctx context.Context, id int64) error
	ForgetPath(ctx context.Context, path string) error
}

// MoveResult describes a successful transfer. Warning is set when the copy
// succeeded but the source could not be removed; the transfer still counts
// as done because the destination holds a complete file.
type MoveResult struct {
	Warning *Error
}

// ReconcileReport summarises one orphan reconcile pass. Released counts
// records dropped without deleting anything because the file at the orphan
// path is no longer a copy of its destination.
type ReconcileReport struct {
	Removed   int
	Released  int
	Remaining int
}

// Engine owns the on-disk lifecycle of attachments across the three tiers.
// It holds no locks: callers serialise operations on the same name.
type Engine struct {
	fs      afero.Fs
	layout  *Layout
	ledger  OrphanLedger
	metrics *metrics.Metrics
}

type EngineOption func(*Engine)

// WithOrphanLedger records failed source deletes in ledger.
func WithOrphanLedger(ledger OrphanLedger) EngineOption {
	return func(e *Engine) {
		e.ledger = ledger
	}
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine over fsys using the given tier layout.
func NewEngine(fsys afero.Fs, layout *Layout, opts ...EngineOption) *Engine {
	e := &Engine{fs: fsys, layout: layout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Layout() *Layout { return e.layout }

// Exists reports whether name is present as a regular file in tier.
func (e *Engine) Exists(tier Tier, name FileName) bool {
	if name.IsZero() || !tier.valid() {
		return false
	}
	ok, err := regularFileExists(e.fs, e.layout.Path(tier, name))
	return err == nil && ok
}

func (e *Engine) ExistsInCache(name FileName) bool     { return e.Exists(Cache, name) }
func (e *Engine) ExistsInPermanent(name FileName) bool { return e.Exists(Permanent, name) }
func (e *Engine) ExistsInBackup(name FileName) bool    { return e.Exists(Backup, name) }

// Path returns the absolute path name has (or would have) in tier.
func (e *Engine) Path(tier Tier, name FileName) string {
	return e.layout.Path(tier, name)
}

func (e *Engine) PathInCache(name FileName) string     { return e.Path(Cache, name) }
func (e *Engine) PathInPermanent(name FileName) string { return e.Path(Permanent, name) }

// Open opens name in tier for reading.
func (e *Engine) Open(tier Tier, name FileName) (afero.File, error) {
	if name.IsZero() || !tier.valid() {
		return nil, &Error{Kind: InvalidParameter, Op: "open", Err: fmt.Errorf("cannot open %q in %s", name, tier)}
	}
	path := e.layout.Path(tier, name)
	f, err := e.fs.Open(path)
	if err != nil {
		return nil, NewError("open", path, err, ReadFailure)
	}
	return f, nil
}

// Move transfers name from one tier to another. The steps are strictly
// ordered: the source must exist, the destination must not, the bytes are
// streamed into a new destination file (removed again if the copy fails),
// and finally the source is deleted. A failure in that last step does not
// fail the move; it is returned as MoveResult.Warning.
func (e *Engine) Move(name FileName, from Tier, to Tier) (result MoveResult, err error) {
	defer e.metrics.Observe("move", time.Now(), &err)

	if name.IsZero() || !from.valid() || !to.valid() || from == to {
		return MoveResult{}, &Error{Kind: InvalidParameter, Op: "move", Err: fmt.Errorf("cannot move %q from %s to %s", name, from, to)}
	}

	srcPath := e.layout.Path(from, name)
	destPath := e.layout.Path(to, name)

	exists, statErr := regularFileExists(e.fs, srcPath)
	if statErr != nil {
		return MoveResult{}, NewError("move", srcPath, statErr, ReadFailure)
	}
	if !exists {
		return MoveResult{}, &Error{Kind: NotFound, Op: "move", Path: srcPath}
	}

	if _, statErr := e.fs.Stat(destPath); statErr == nil {
		return MoveResult{}, &Error{Kind: AlreadyExists, Op: "move", Path: destPath}
	} else if !errors.Is(statErr, afero.ErrFileNotFound) {
		return MoveResult{}, NewError("move", destPath, statErr, ReadFailure)
	}

	if copyErr := copyFile(e.fs, srcPath, destPath); copyErr != nil {
		// An AlreadyExists here means someone else created the destination
		// after the check above; that file is not ours to remove.
		if !errors.Is(copyErr, AlreadyExists) {
			if rmErr := e.fs.Remove(destPath); rmErr != nil && !errors.Is(rmErr, afero.ErrFileNotFound) {
				slog.Warn("Failed to remove partial transfer", "name", name.String(), "from", from, "to", to, "path", destPath, "error", rmErr)
			}
		}
		return MoveResult{}, copyErr
	}
	e.release(destPath)

	if rmErr := removeFile(e.fs, srcPath); rmErr != nil {
		slog.Warn("Transfer left source file behind", "name", name.String(), "from", from, "to", to, "path", srcPath, "error", rmErr)
		e.recordOrphan(from, to, name, srcPath, rmErr)
		return MoveResult{Warning: rmErr}, nil
	}
	e.release(srcPath)

	slog.Debug("Moved attachment", "name", name.String(), "from", from, "to", to)
	return MoveResult{}, nil
}

func (e *Engine) recordOrphan(tier Tier, dest Tier, name FileName, path string, cause *Error) {
	e.metrics.OrphanRecorded()
	if e.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	orphan := Orphan{Tier: tier, Destination: dest, Name: name, Path: path, Cause: cause.Error(), RecordedAt: time.Now().UTC()}
	if err := e.ledger.Record(ctx, orphan); err != nil {
		slog.Warn("Failed to record orphan", "path", path, "error", err)
	}
}

// release drops any orphan record for path. It is called whenever path is
// rewritten or removed, after which the record no longer describes the file.
func (e *Engine) release(path string) {
	if e.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	if err := e.ledger.ForgetPath(ctx, path); err != nil {
		slog.Warn("Failed to release orphan record", "path", path, "error", err)
	}
}

// Claim tells the engine a new file was written for name in tier by someone
// other than the engine, such as the ingestor. Any orphan record for that
// path is dropped so reconcile never deletes the new file.
func (e *Engine) Claim(tier Tier, name FileName) {
	if name.IsZero() || !tier.valid() {
		return
	}
	e.release(e.layout.Path(tier, name))
}

// MoveToPermanent commits a cached attachment.
func (e *Engine) MoveToPermanent(name FileName) (MoveResult, error) {
	return e.Move(name, Cache, Permanent)
}

// RestoreFromPermanent brings a committed attachment back into the cache.
func (e *Engine) RestoreFromPermanent(name FileName) (MoveResult, error) {
	return e.Move(name, Permanent, Cache)
}

// MoveToBackup sets a committed attachment aside so an edit can be undone.
func (e *Engine) MoveToBackup(name FileName) (MoveResult, error) {
	return e.Move(name, Permanent, Backup)
}

// RestoreFromBackup returns a backed up attachment to the permanent tier.
func (e *Engine) RestoreFromBackup(name FileName) (MoveResult, error) {
	return e.Move(name, Backup, Permanent)
}

// Delete removes name from tier.
func (e *Engine) Delete(tier Tier, name FileName) (err error) {
	defer e.metrics.Observe("delete", time.Now(), &err)

	if name.IsZero() || !tier.valid() {
		return &Error{Kind: InvalidParameter, Op: "delete", Err: fmt.Errorf("cannot delete %q from %s", name, tier)}
	}

	path := e.layout.Path(tier, name)
	if rmErr := removeFile(e.fs, path); rmErr != nil {
		return rmErr
	}
	e.release(path)
	return nil
}

func (e *Engine) DeleteInCache(name FileName) error     { return e.Delete(Cache, name) }
func (e *Engine) DeleteInPermanent(name FileName) error { return e.Delete(Permanent, name) }
func (e *Engine) DeleteInBackup(name FileName) error    { return e.Delete(Backup, name) }

// sweep clears one tier. The error is set only when the tier root itself
// could not be swept.
func (e *Engine) sweep(tier Tier) (SweepReport, *Error) {
	dir := e.layout.Dir(tier)
	report, err := Sweep(e.fs, dir)
	e.metrics.FilesSwept(report.Deleted)
	if err != nil {
		var serr *Error
		if !errors.As(err, &serr) {
			serr = NewError("sweep", dir, err, GenericOperationFailure)
		}
		return report, serr
	}
	return report, nil
}

// clearTier sweeps a single tier. A missing or unusable root is returned as
// its own error rather than folded into an aggregate.
func (e *Engine) clearTier(tier Tier) error {
	report, rootErr := e.sweep(tier)
	if rootErr != nil {
		return rootErr
	}
	return report.Err()
}

// ClearCache removes every file in the cache tier, including the backup
// tier nested inside it.
func (e *Engine) ClearCache() (err error) {
	defer e.metrics.Observe("clear_cache", time.Now(), &err)
	return e.clearTier(Cache)
}

// ClearBackup removes every file in the backup tier.
func (e *Engine) ClearBackup() (err error) {
	defer e.metrics.Observe("clear_backup", time.Now(), &err)
	return e.clearTier(Backup)
}

// ClearAll sweeps the cache and permanent tiers. Both sweeps always run and
// their failures, including an unusable tier root, are merged into a single
// report.
func (e *Engine) ClearAll() (err error) {
	defer e.metrics.Observe("clear_all", time.Now(), &err)

	tiers := []Tier{Cache, Permanent}
	reports := make([]SweepReport, len(tiers))

	var eg errgroup.Group
	for i, tier := range tiers {
		eg.Go(func() error {
			report, rootErr := e.sweep(tier)
			if rootErr != nil {
				report.Failures = append(report.Failures, FailureEntry{Path: e.layout.Dir(tier), Err: rootErr})
			}
			reports[i] = report
			return nil
		})
	}
	_ = eg.Wait()

	return reports[0].Merge(reports[1]).Err()
}

// Orphans lists recorded orphans. Without a ledger it returns nothing.
func (e *Engine) Orphans(ctx context.Context) ([]Orphan, error) {
	if e.ledger == nil {
		return nil, nil
	}
	orphans, err := e.ledger.List(ctx)
	if err != nil {
		return nil, &Error{Kind: GenericOperationFailure, Op: "list orphans", Err: err}
	}
	return orphans, nil
}

// ReconcileOrphans retries the source delete of every recorded orphan. A
// file is only deleted while its destination copy still exists with the same
// content; otherwise the record is released and the file kept. Records whose
// file is gone are forgotten, undeletable ones remain.
func (e *Engine) ReconcileOrphans(ctx context.Context) (report ReconcileReport, err error) {
	defer e.metrics.Observe("reconcile", time.Now(), &err)

	orphans, err := e.Orphans(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	for _, o := range orphans {
		if err := ctx.Err(); err != nil {
			report.Remaining += len(orphans) - report.Removed - report.Released - report.Remaining
			return report, err
		}

		outcome, err := e.reconcile(o)
		switch {
		case err != nil:
			slog.Warn("Orphan still cannot be removed", "path", o.Path, "error", err)
			report.Remaining++
			continue
		case outcome == orphanReleased:
			slog.Info("Orphan path holds a different file, keeping it", "path", o.Path, "destination", o.Destination)
			report.Released++
		default:
			report.Removed++
		}

		if err := e.ledger.Forget(ctx, o.ID); err != nil {
			return report, &Error{Kind: GenericOperationFailure, Op: "forget orphan", Path: o.Path, Err: err}
		}
	}

	return report, nil
}

type orphanOutcome int

const (
	orphanRemoved orphanOutcome = iota
	orphanReleased
)

func (e *Engine) reconcile(o Orphan) (orphanOutcome, error) {
	exists, err := regularFileExists(e.fs, o.Path)
	if err != nil {
		return 0, NewError("stat", o.Path, err, ReadFailure)
	}
	if !exists {
		return orphanRemoved, nil
	}

	if !o.Destination.valid() || o.Destination == o.Tier {
		return orphanReleased, nil
	}

	same, err := sameContent(e.fs, o.Path, e.layout.Path(o.Destination, o.Name))
	if err != nil {
		return 0, err
	}
	if !same {
		return orphanReleased, nil
	}

	if rmErr := e.fs.Remove(o.Path); rmErr != nil && !errors.Is(rmErr, afero.ErrFileNotFound) {
		return 0, NewError("remove", o.Path, rmErr, DeleteFailure)
	}
	return orphanRemoved, nil
}
