package source_test

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"attic/internal/source"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestScheme(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/tmp/a.jpg":               "file",
		"relative/a.jpg":           "file",
		"file:///tmp/a.jpg":        "file",
		`C:\photos\a.jpg`:          "file",
		"s3://bucket/a.jpg":        "s3",
		"HTTPS://example.com/a":    "https",
		"http://example.com/a.jpg": "http",
	}
	for uri, want := range tests {
		require.Equal(t, want, source.Scheme(uri), "scheme of %q", uri)
	}
}

func TestFileProvider(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/in/a.jpg", []byte("payload"), 0o644))
	p := source.NewFileProvider(fsys)
	ctx := context.Background()

	for _, uri := range []string{"/in/a.jpg", "file:///in/a.jpg"} {
		rc, err := p.Open(ctx, uri)
		require.NoError(t, err, "open %q", uri)

		_, seekable := rc.(io.ReadSeeker)
		require.True(t, seekable, "local files are seekable")

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.Equal(t, "payload", string(data))
		require.NoError(t, rc.Close())
	}

	_, err := p.Open(ctx, "/in/missing.jpg")
	require.True(t, errors.Is(err, fs.ErrNotExist), "missing file, got %v", err)

	_, err = p.Open(ctx, "/in")
	require.True(t, errors.Is(err, fs.ErrNotExist), "directories are not sources, got %v", err)
}

func TestRootedFileProvider(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/srv/sources/a.jpg", []byte("inside"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/srv/sourcesx/b.jpg", []byte("sibling"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/etc/secret.jpg", []byte("outside"), 0o644))
	p := source.NewRootedFileProvider(fsys, "/srv/sources")
	ctx := context.Background()

	for _, uri := range []string{"/a.jpg", "a.jpg", "file:///a.jpg", "/nested/../a.jpg"} {
		rc, err := p.Open(ctx, uri)
		require.NoError(t, err, "open %q", uri)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.Equal(t, "inside", string(data))
		require.NoError(t, rc.Close())
	}

	for _, uri := range []string{"/etc/secret.jpg", "../../etc/secret.jpg", "file:///../../etc/secret.jpg", "../sourcesx/b.jpg", "/srv/sources/a.jpg"} {
		_, err := p.Open(ctx, uri)
		require.True(t, errors.Is(err, fs.ErrNotExist), "%q must not resolve outside the root, got %v", uri, err)
	}
}

func TestHTTPProvider(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.jpg":
			_, _ = w.Write([]byte("remote bytes"))
		case "/private.jpg":
			w.WriteHeader(http.StatusForbidden)
		case "/broken.jpg":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	p := source.NewHTTPProvider(srv.Client())
	ctx := context.Background()

	rc, err := p.Open(ctx, srv.URL+"/ok.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "remote bytes", string(data))

	_, err = p.Open(ctx, srv.URL+"/missing.jpg")
	require.True(t, errors.Is(err, fs.ErrNotExist), "404 maps to not exist, got %v", err)

	_, err = p.Open(ctx, srv.URL+"/private.jpg")
	require.True(t, errors.Is(err, fs.ErrPermission), "403 maps to permission, got %v", err)

	_, err = p.Open(ctx, srv.URL+"/broken.jpg")
	require.Error(t, err)
	require.False(t, errors.Is(err, fs.ErrNotExist))
	require.False(t, errors.Is(err, fs.ErrPermission))
}

// writeS3Error mirrors the error body an S3 compatible server returns.
func writeS3Error(w http.ResponseWriter, code, resource string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	type s3Error struct {
		XMLName  xml.Name `xml:"Error"`
		Code     string   `xml:"Code"`
		Message  string   `xml:"Message"`
		Resource string   `xml:"Resource"`
	}
	_ = xml.NewEncoder(w).Encode(s3Error{Code: code, Message: code, Resource: resource})
}

func newFakeS3(t *testing.T, objects map[string][]byte) *httptest.Server {
	t.Helper()

	modTime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if strings.HasPrefix(path, "locked/") {
			writeS3Error(w, "AccessDenied", r.URL.Path, http.StatusForbidden)
			return
		}

		data, ok := objects[path]
		if !ok {
			writeS3Error(w, "NoSuchKey", r.URL.Path, http.StatusNotFound)
			return
		}

		w.Header().Set("ETag", `"0123456789abcdef"`)
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeContent(w, r, path, modTime, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newMinioProvider(t *testing.T, srv *httptest.Server) *source.MinioProvider {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err, "parsing test server URL")

	p, err := source.NewMinioProvider(source.S3Config{
		Endpoint:  u.Host,
		AccessKey: "access",
		SecretKey: "secret",
		Region:    "us-east-1",
	})
	require.NoError(t, err, "NewMinioProvider")
	return p
}

func TestMinioProvider(t *testing.T) {
	t.Parallel()

	payload := []byte("object payload")
	srv := newFakeS3(t, map[string][]byte{"photos/a.jpg": payload})
	p := newMinioProvider(t, srv)
	ctx := context.Background()

	rc, err := p.Open(ctx, "s3://photos/a.jpg")
	require.NoError(t, err, "open existing object")
	t.Cleanup(func() { _ = rc.Close() })

	rs, seekable := rc.(io.ReadSeeker)
	require.True(t, seekable, "objects are seekable")

	data, err := io.ReadAll(rs)
	require.NoError(t, err)
	require.Equal(t, payload, data)

	_, err = rs.Seek(0, io.SeekStart)
	require.NoError(t, err)
	data, err = io.ReadAll(rs)
	require.NoError(t, err)
	require.Equal(t, payload, data, "re-read after rewind")

	_, err = p.Open(ctx, "s3://photos/missing.jpg")
	require.True(t, errors.Is(err, fs.ErrNotExist), "NoSuchKey maps to not exist, got %v", err)

	_, err = p.Open(ctx, "s3://locked/a.jpg")
	require.True(t, errors.Is(err, fs.ErrPermission), "AccessDenied maps to permission, got %v", err)

	_, err = p.Open(ctx, "s3://photos")
	require.True(t, errors.Is(err, fs.ErrInvalid), "key is required, got %v", err)
}

func TestMuxDispatch(t *testing.T) {
	t.Parallel()

	var got []string
	record := func(name string) source.Provider {
		return source.ProviderFunc(func(ctx context.Context, uri string) (io.ReadCloser, error) {
			got = append(got, name+":"+uri)
			return io.NopCloser(strings.NewReader(name)), nil
		})
	}

	mux := source.NewMux()
	mux.Handle("file", record("file"))
	mux.Handle("S3", record("s3"))
	ctx := context.Background()

	for _, uri := range []string{"/a.jpg", "file:///b.jpg", "s3://bucket/c.jpg"} {
		rc, err := mux.Open(ctx, uri)
		require.NoError(t, err, "open %q", uri)
		require.NoError(t, rc.Close())
	}
	require.Equal(t, []string{"file:/a.jpg", "file:file:///b.jpg", "s3:s3://bucket/c.jpg"}, got)

	_, err := mux.Open(ctx, "ftp://host/d.jpg")
	require.True(t, errors.Is(err, source.ErrUnsupportedScheme), "got %v", err)
}
