package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"attic/internal/ingest"
	"attic/internal/ledger"
	"attic/internal/metrics"
	"attic/internal/source"
	"attic/internal/storage"
	"attic/internal/workpool"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
)

// App wires the storage engine, the ingestor and their collaborators from a
// Config. It is shared by the HTTP server and the one-shot CLI commands.
type App struct {
	Config   Config
	Engine   *storage.Engine
	Ingestor *ingest.Ingestor
	Pool     *workpool.Pool
	Registry *prometheus.Registry

	ledger *ledger.Ledger
}

type appOptions struct {
	fs         afero.Fs
	httpClient *http.Client
	hostFiles  bool
}

type AppOption func(*appOptions)

// WithFilesystem replaces the OS filesystem the tiers live on.
func WithFilesystem(fsys afero.Fs) AppOption {
	return func(o *appOptions) {
		o.fs = fsys
	}
}

// WithHostFiles lets local sources name any path the process can read when
// no source root is configured. The CLI uses it; the server never does.
func WithHostFiles() AppOption {
	return func(o *appOptions) {
		o.hostFiles = true
	}
}

// WithHTTPClient sets the client used for http(s) sources.
func WithHTTPClient(client *http.Client) AppOption {
	return func(o *appOptions) {
		o.httpClient = client
	}
}

// NewApp validates cfg, creates the tier directories and opens the orphan
// ledger.
func NewApp(ctx context.Context, cfg Config, opts ...AppOption) (*App, error) {
	o := appOptions{
		fs:         afero.NewOsFs(),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	layout, err := storage.NewLayout(o.fs, cfg.CacheRoot, cfg.PermanentRoot)
	if err != nil {
		return nil, fmt.Errorf("create tier layout: %w", err)
	}

	orphans, err := ledger.Open(ctx, cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open orphan ledger: %w", err)
	}

	sources, err := newSourceMux(cfg, o)
	if err != nil {
		_ = orphans.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	slog.Debug("Tier layout ready",
		"cache", layout.CacheDir(),
		"permanent", layout.PermanentDir(),
		"backup", layout.BackupDir(),
		"ledger", cfg.LedgerPath,
	)

	engine := storage.NewEngine(o.fs, layout, storage.WithOrphanLedger(orphans), storage.WithMetrics(m))
	ingestor := ingest.New(o.fs, layout, sources, m,
		ingest.WithMaxPixels(cfg.MaxPixels),
		ingest.WithClaimer(engine),
	)

	return &App{
		Config:   cfg,
		Engine:   engine,
		Ingestor: ingestor,
		Pool:     workpool.New(cfg.Workers),
		Registry: registry,
		ledger:   orphans,
	}, nil
}

func newSourceMux(cfg Config, o appOptions) (*source.Mux, error) {
	mux := source.NewMux()
	switch {
	case cfg.SourceRoot != "":
		mux.Handle("file", source.NewRootedFileProvider(o.fs, cfg.SourceRoot))
	case o.hostFiles:
		mux.Handle("file", source.NewFileProvider(o.fs))
	default:
		slog.Info("Local file sources disabled, set source_root to enable them")
	}

	web := source.NewHTTPProvider(o.httpClient)
	mux.Handle("http", web)
	mux.Handle("https", web)

	if cfg.S3.Endpoint != "" {
		s3, err := source.NewMinioProvider(source.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		mux.Handle("s3", s3)
	}
	return mux, nil
}

// Close releases the orphan ledger.
func (a *App) Close() error {
	return a.ledger.Close()
}
