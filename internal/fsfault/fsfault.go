// Package fsfault wraps an afero.Fs so individual paths can be made to fail
// in ways that are hard to reproduce on a real filesystem, such as a full
// disk or a delete refused for a process running as root.
package fsfault

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/afero"
)

// Fs is an afero.Fs with per-path injected failures.
type Fs struct {
	afero.Fs

	mu       sync.Mutex
	removes  map[string]error
	writes   map[string]error
	opens    map[string]error
	removals int
}

// New wraps base.
func New(base afero.Fs) *Fs {
	return &Fs{
		Fs:      base,
		removes: make(map[string]error),
		writes:  make(map[string]error),
		opens:   make(map[string]error),
	}
}

// FailRemove makes Remove(path) fail with err.
func (f *Fs) FailRemove(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes[filepath.Clean(path)] = err
}

// DenyRemove makes Remove(path) fail with EACCES.
func (f *Fs) DenyRemove(path string) {
	f.FailRemove(path, syscall.EACCES)
}

// FailWrite makes every Write to a file opened at path fail with err after
// the data has been partially written.
func (f *Fs) FailWrite(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[filepath.Clean(path)] = err
}

// FailWritesIn makes writes to any file directly inside dir fail with err.
func (f *Fs) FailWritesIn(dir string, err error) {
	f.FailWrite(filepath.Join(dir, "*"), err)
}

// FailOpen makes Open and OpenFile of path fail with err.
func (f *Fs) FailOpen(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens[filepath.Clean(path)] = err
}

// Removals returns how many Remove calls succeeded.
func (f *Fs) Removals() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removals
}

func (f *Fs) lookup(table map[string]error, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	name = filepath.Clean(name)
	if err, ok := table[name]; ok {
		return err
	}
	if err, ok := table[filepath.Join(filepath.Dir(name), "*")]; ok {
		return err
	}
	return nil
}

func (f *Fs) Remove(name string) error {
	if err := f.lookup(f.removes, name); err != nil {
		return &os.PathError{Op: "remove", Path: name, Err: err}
	}
	if err := f.Fs.Remove(name); err != nil {
		return err
	}

	f.mu.Lock()
	f.removals++
	f.mu.Unlock()
	return nil
}

func (f *Fs) Open(name string) (afero.File, error) {
	if err := f.lookup(f.opens, name); err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	return f.Fs.Open(name)
}

func (f *Fs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

func (f *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if err := f.lookup(f.opens, name); err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}

	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	if werr := f.lookup(f.writes, name); werr != nil {
		return &failingFile{File: file, err: werr}, nil
	}
	return file, nil
}

func (f *Fs) Name() string {
	return "fsfault(" + f.Fs.Name() + ")"
}

// failingFile accepts half of the first write and then fails, leaving a
// partial file behind the way a real full disk does.
type failingFile struct {
	afero.File
	err error
}

func (f *failingFile) Write(p []byte) (int, error) {
	n, _ := f.File.Write(p[:len(p)/2])
	return n, &os.PathError{Op: "write", Path: f.File.Name(), Err: f.err}
}

func (f *failingFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}
