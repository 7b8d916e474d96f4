package commands

import (
	"attic/internal/core"
	"attic/internal/storage"

	"github.com/spf13/cobra"
)

var (
	moveFrom string
	moveTo   string
)

var moveCmd = &cobra.Command{
	Use:   "move NAME --from TIER --to TIER",
	Short: "Transfer an attachment between tiers",
	Long: `Transfer an attachment between tiers. The destination must not already
hold a file of the same name. If the copy succeeds but the source cannot be
removed, the move still succeeds and the leftover is recorded as an orphan.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := storage.ParseImageName(args[0])
		if err != nil {
			return err
		}
		from, err := storage.ParseTier(moveFrom)
		if err != nil {
			return err
		}
		to, err := storage.ParseTier(moveTo)
		if err != nil {
			return err
		}

		return withApp(cmd, func(app *core.App) error {
			result, err := app.Engine.Move(name, from, to)
			if err != nil {
				return err
			}

			resp := core.MoveResponse{Name: name.String(), From: from.String(), To: to.String()}
			if result.Warning != nil {
				resp.Warning = result.Warning.Error()
			}
			return printJSON(cmd, resp)
		})
	},
}

func init() {
	moveCmd.Flags().StringVar(&moveFrom, "from", "", "source tier: cache, permanent or backup")
	moveCmd.Flags().StringVar(&moveTo, "to", "", "destination tier: cache, permanent or backup")
	_ = moveCmd.MarkFlagRequired("from")
	_ = moveCmd.MarkFlagRequired("to")
}
