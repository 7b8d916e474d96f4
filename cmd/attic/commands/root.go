package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"attic/internal/core"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile  string
	logLevel string

	// Global configuration
	globalConfig core.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "attic",
	Short: "Tiered attachment storage",
	Long: `attic keeps image attachments in three storage tiers:

  cache      freshly ingested, not yet committed
  permanent  committed attachments
  backup     previous versions set aside during an edit

Configuration is read from the file given with --config and from ATTIC_*
environment variables.

Examples:
  # Ingest a photo at no less than 800x600
  attic ingest ./photo.jpg holiday --width 800 --height 600

  # Commit it
  attic move holiday.jpg --from cache --to permanent

  # Run the HTTP API
  attic serve --config attic.yaml
`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

// Execute adds all child commands to the root command and runs it.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(orphansCmd)
}

func initConfig(cmd *cobra.Command, args []string) error {
	cfg, err := core.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}

	globalConfig = cfg
	return nil
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	handler := log.NewWithOptions(os.Stderr, log.Options{
		Level:           lvl,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    lvl == log.DebugLevel,
	})

	slog.SetDefault(slog.New(handler))
	return nil
}

// withApp opens the application for a one-shot command.
func withApp(cmd *cobra.Command, fn func(app *core.App) error, opts ...core.AppOption) error {
	app, err := core.NewApp(cmd.Context(), globalConfig, opts...)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
