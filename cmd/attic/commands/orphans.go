package commands

import (
	"attic/internal/core"

	"github.com/spf13/cobra"
)

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Inspect source files left behind by transfers",
}

var orphansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded orphans",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *core.App) error {
			orphans, err := app.Engine.Orphans(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(cmd, core.NewOrphanList(orphans))
		})
	},
}

var orphansReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry deleting every recorded orphan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *core.App) error {
			report, err := app.Engine.ReconcileOrphans(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, core.NewReconcileResponse(report))
		})
	},
}

func init() {
	orphansCmd.AddCommand(orphansListCmd)
	orphansCmd.AddCommand(orphansReconcileCmd)
}
