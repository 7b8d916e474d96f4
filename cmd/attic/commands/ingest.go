package commands

import (
	"attic/internal/core"
	"attic/internal/ingest"

	"github.com/spf13/cobra"
)

var (
	ingestWidth   int
	ingestHeight  int
	ingestQuality int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest SOURCE BASENAME",
	Short: "Decode a source image into the cache tier as BASENAME.jpg",
	Long: `Decode a source image into the cache tier as BASENAME.jpg.

SOURCE is a local path (below source_root when one is configured), a file:// URI, an http(s) URL or, when an S3
endpoint is configured, an s3://bucket/key URI. With --width and --height the
image is reduced by the largest power of two that keeps it at least that big.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		quality := globalConfig.DefaultQuality
		if cmd.Flags().Changed("quality") {
			quality = ingestQuality
		}

		return withApp(cmd, func(app *core.App) error {
			name, err := app.Ingestor.Ingest(cmd.Context(), args[0], args[1],
				ingest.WithTargetSize(ingestWidth, ingestHeight),
				ingest.WithQuality(quality),
			)
			if err != nil {
				return err
			}
			return printJSON(cmd, core.IngestResponse{Name: name.String(), Path: app.Engine.PathInCache(name)})
		}, core.WithHostFiles())
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestWidth, "width", 0, "minimum decoded width (0 keeps native size)")
	ingestCmd.Flags().IntVar(&ingestHeight, "height", 0, "minimum decoded height (0 keeps native size)")
	ingestCmd.Flags().IntVar(&ingestQuality, "quality", ingest.DefaultQuality, "JPEG quality 0-100")
}
