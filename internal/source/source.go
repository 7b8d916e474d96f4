// Package source opens the raw bytes an attachment is ingested from. A source
// is addressed by URI: a plain path or file:// URI, an s3://bucket/key object
// or an http(s) URL.
//
// Every provider reports a missing source with an error wrapping
// fs.ErrNotExist and a refused one with an error wrapping fs.ErrPermission.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// ErrUnsupportedScheme is returned for a URI no provider is registered for.
var ErrUnsupportedScheme = errors.New("unsupported source scheme")

// Provider opens a source by URI. When the returned stream also implements
// io.Seeker it can be rewound after probing.
type Provider interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, uri string) (io.ReadCloser, error)

func (f ProviderFunc) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	return f(ctx, uri)
}

// Mux dispatches on the URI scheme. A URI without a scheme is treated as a
// local path and handled by the "file" provider.
type Mux struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewMux() *Mux {
	return &Mux{providers: make(map[string]Provider)}
}

// Handle registers p for scheme, replacing any previous registration.
func (m *Mux) Handle(scheme string, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[strings.ToLower(scheme)] = p
}

func (m *Mux) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	scheme := Scheme(uri)

	m.mu.RLock()
	p, ok := m.providers[scheme]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, scheme)
	}
	return p.Open(ctx, uri)
}

// Scheme returns the lower cased scheme of uri, or "file" when uri is a
// plain path.
func Scheme(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return "file"
	}

	// Windows drive letters parse as a one letter scheme.
	if len(u.Scheme) == 1 {
		return "file"
	}
	return strings.ToLower(u.Scheme)
}
