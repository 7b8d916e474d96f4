package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
)

// HTTPProvider downloads sources over http and https. Response bodies are
// not seekable, so they are decoded in buffered mode.
type HTTPProvider struct {
	client *http.Client
}

// NewHTTPProvider uses client, or http.DefaultClient when client is nil.
func NewHTTPProvider(client *http.Client) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{client: client}
}

func (p *HTTPProvider) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %q: %w", uri, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %q: %w", uri, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return nil, fmt.Errorf("fetch %q: %s: %w", uri, resp.Status, fs.ErrNotExist)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("fetch %q: %s: %w", uri, resp.Status, fs.ErrPermission)
	default:
		return nil, fmt.Errorf("fetch %q: unexpected status %s", uri, resp.Status)
	}
}
