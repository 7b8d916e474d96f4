package commands

import (
	"attic/internal/core"
	"attic/internal/storage"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm TIER NAME",
	Short: "Delete an attachment from one tier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := storage.ParseTier(args[0])
		if err != nil {
			return err
		}
		name, err := storage.ParseImageName(args[1])
		if err != nil {
			return err
		}

		return withApp(cmd, func(app *core.App) error {
			return app.Engine.Delete(tier, name)
		})
	},
}
