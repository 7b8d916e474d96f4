package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileProvider opens local files. The returned afero.File is seekable.
type FileProvider struct {
	fs     afero.Fs
	rooted bool
}

// NewFileProvider opens any path fsys can reach.
func NewFileProvider(fsys afero.Fs) *FileProvider {
	return &FileProvider{fs: fsys}
}

// NewRootedFileProvider confines sources to root. Every path, absolute or
// relative, is resolved below root and ".." cannot climb out of it.
func NewRootedFileProvider(fsys afero.Fs, root string) *FileProvider {
	return &FileProvider{fs: afero.NewBasePathFs(fsys, root), rooted: true}
}

func (p *FileProvider) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := uri
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse source uri %q: %w", uri, err)
		}
		path = u.Path
	}
	if p.rooted {
		path = filepath.Clean(string(filepath.Separator) + path)
	}

	f, err := p.fs.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, &fs.PathError{Op: "open", Path: path, Err: fmt.Errorf("is a directory: %w", fs.ErrNotExist)}
	}

	return f, nil
}
