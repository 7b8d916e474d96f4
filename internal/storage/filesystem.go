package storage

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"
	"os"

	"github.com/spf13/afero"
)

// trackedReader remembers the last error returned by the wrapped reader so a
// failed io.Copy can be attributed to the reading or the writing side.
type trackedReader struct {
	r   io.Reader
	err error
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}

// copyFile streams srcPath into a newly created destPath. The destination
// must not exist. A copy is used instead of a rename so the two paths may sit
// on different filesystems.
func copyFile(fsys afero.Fs, srcPath string, destPath string) error {
	srcFile, err := fsys.Open(srcPath)
	if err != nil {
		return NewError("open", srcPath, err, ReadFailure)
	}
	defer srcFile.Close()

	destFile, err := fsys.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return NewError("create", destPath, err, WriteFailure)
	}

	src := &trackedReader{r: srcFile}
	if _, err := io.Copy(destFile, src); err != nil {
		_ = destFile.Close()
		if src.err != nil {
			return NewError("read", srcPath, src.err, ReadFailure)
		}
		return NewError("write", destPath, err, WriteFailure)
	}

	if err := destFile.Sync(); err != nil {
		_ = destFile.Close()
		return NewError("sync", destPath, err, WriteFailure)
	}

	if err := destFile.Close(); err != nil {
		return NewError("close", destPath, err, WriteFailure)
	}
	return nil
}

// regularFileExists reports whether path names an existing regular file.
func regularFileExists(fsys afero.Fs, path string) (bool, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// removeFile deletes a single file, classifying the failure.
func removeFile(fsys afero.Fs, path string) *Error {
	if err := fsys.Remove(path); err != nil {
		return NewError("remove", path, err, DeleteFailure)
	}
	return nil
}

// sameContent reports whether a and b are regular files with identical
// bytes. A missing b is not an error; it simply differs.
func sameContent(fsys afero.Fs, a string, b string) (bool, error) {
	infoA, err := fsys.Stat(a)
	if err != nil {
		return false, NewError("stat", a, err, ReadFailure)
	}
	infoB, err := fsys.Stat(b)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, NewError("stat", b, err, ReadFailure)
	}
	if !infoB.Mode().IsRegular() || infoA.Size() != infoB.Size() {
		return false, nil
	}

	sumA, err := fileDigest(fsys, a)
	if err != nil {
		return false, err
	}
	sumB, err := fileDigest(fsys, b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(sumA, sumB), nil
}

func fileDigest(fsys afero.Fs, path string) ([]byte, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, NewError("open", path, err, ReadFailure)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, NewError("read", path, err, ReadFailure)
	}
	return h.Sum(nil), nil
}
