package storage

import (
	"errors"
	"path/filepath"

	"github.com/spf13/afero"
)

// SweepReport is the outcome of recursively clearing a directory tree.
type SweepReport struct {
	Deleted  int
	Failures []FailureEntry
}

// Merge appends other's counts and failures to r.
func (r SweepReport) Merge(other SweepReport) SweepReport {
	return SweepReport{
		Deleted:  r.Deleted + other.Deleted,
		Failures: append(append([]FailureEntry(nil), r.Failures...), other.Failures...),
	}
}

// Err returns an *AggregateError when any deletion failed, nil otherwise.
func (r SweepReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &AggregateError{Failures: r.Failures}
}

// Sweep removes every regular file below root. Directories, including root,
// are kept. A failure never stops the walk: every entry is attempted and each
// failure is reported. The returned error is only set when root itself is
// not a usable directory.
func Sweep(fsys afero.Fs, root string) (SweepReport, error) {
	info, err := fsys.Stat(root)
	if err != nil {
		return SweepReport{}, NewError("sweep", root, err, GenericOperationFailure)
	}
	if !info.IsDir() {
		return SweepReport{}, &Error{Kind: NotFound, Op: "sweep", Path: root, Err: errors.New("not a directory")}
	}

	return sweepDir(fsys, root), nil
}

func sweepDir(fsys afero.Fs, dir string) SweepReport {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return SweepReport{
			Failures: []FailureEntry{{Path: dir, Err: NewError("readdir", dir, err, GenericOperationFailure)}},
		}
	}

	var report SweepReport
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			report = report.Merge(sweepDir(fsys, path))
			continue
		}

		if rmErr := removeFile(fsys, path); rmErr != nil {
			report.Failures = append(report.Failures, FailureEntry{Path: path, Err: rmErr})
			continue
		}
		report.Deleted++
	}
	return report
}

// Clear sweeps root and converts any per-file failures into an
// *AggregateError.
func Clear(fsys afero.Fs, root string) error {
	report, err := Sweep(fsys, root)
	if err != nil {
		return err
	}
	return report.Err()
}
