package commands

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"attic/internal/core"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := globalConfig.CheckExposure(); err != nil {
			return err
		}
		return withApp(cmd, func(app *core.App) error {
			return serve(cmd.Context(), app)
		})
	},
}

func serve(ctx context.Context, app *core.App) error {
	cfg := app.Config
	router := core.NewServer(app).Handler()

	httpServer := &http.Server{
		Addr:              core.ListenAddr(cfg.Listen),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      5 * time.Minute,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		Addr:              core.ListenAddr(cfg.TLSListen),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      5 * time.Minute,
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(httpServer.Shutdown(shutdownCtx), httpsServer.Shutdown(shutdownCtx))
	})

	eg.Go(func() error {
		if cfg.TLSCertFile == "" || cfg.TLSListen == "" {
			slog.Debug("Skipping HTTPS service because no certificate was provided")
			return nil
		}

		slog.Info("Starting Attic HTTPS server", "addr", httpsServer.Addr)
		err := httpsServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting Attic HTTP server", "addr", httpServer.Addr)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	slog.Info("Attic Started", "workers", app.Pool.Size())
	return eg.Wait()
}
