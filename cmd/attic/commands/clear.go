package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"attic/internal/core"
	"attic/internal/storage"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:       "clear cache|backup|all",
	Short:     "Delete every file in a tier",
	Long:      `Delete every file in a tier. Directories are kept. "cache" includes the backup tier nested in it; "all" sweeps the cache and permanent tiers.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"cache", "backup", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *core.App) error {
			var err error
			switch args[0] {
			case "cache":
				err = app.Engine.ClearCache()
			case "backup":
				err = app.Engine.ClearBackup()
			case "all":
				err = app.Engine.ClearAll()
			default:
				return fmt.Errorf("unknown target %q", args[0])
			}

			var agg *storage.AggregateError
			if errors.As(err, &agg) {
				for _, f := range agg.Failures {
					slog.Warn("Could not delete", "path", f.Path, "error", f.Err)
				}
			}
			return err
		})
	},
}
