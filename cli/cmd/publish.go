package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/fluxassets/cli/output"
	"github.com/fluxbase-eu/fluxassets/internal/observability"
	"github.com/fluxbase-eu/fluxassets/internal/publish"
)

var (
	publishFolder      string
	publishDryRun      bool
	publishConcurrency int
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload built assets to S3-compatible storage",
	Long: `Upload every file under the output folder to the configured bucket with a
long-lived Cache-Control header. Run after build.`,
	Example: `  # Upload the output folder
  fluxassets publish

  # Show what would be uploaded
  fluxassets publish --dry-run`,
	PreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		shutdown, err := startTracer(ctx)
		if err != nil {
			return err
		}
		defer shutdown()

		folder := publishFolder
		if folder == "" {
			folder = cfg.Assets.OutputFolder
		}

		var client publish.Client
		if !publishDryRun {
			c, err := publish.NewClient(&cfg.Publish)
			if err != nil {
				return err
			}
			client = c
		}

		var metrics *observability.Metrics
		if cfg.Metrics.Enabled {
			p, err := newPipeline()
			if err != nil {
				return err
			}
			metrics = p.Metrics()
		}

		publisher := publish.New(client, publish.Options{
			Bucket:      cfg.Publish.Bucket,
			Prefix:      cfg.Publish.Prefix,
			Concurrency: publishConcurrency,
			Metrics:     metrics,
			DryRun:      publishDryRun,
		})
		report, err := publisher.Publish(ctx, folder)
		if report != nil {
			if perr := printReport(report); perr != nil {
				return perr
			}
		}
		return err
	},
}

func init() {
	publishCmd.Flags().StringVar(&publishFolder, "folder", "", "folder to upload (default is assets.output_folder)")
	publishCmd.Flags().BoolVar(&publishDryRun, "dry-run", false, "list the uploads without sending them")
	publishCmd.Flags().IntVar(&publishConcurrency, "concurrency", publish.DefaultConcurrency, "parallel uploads")
}

func printReport(report *publish.Report) error {
	if formatter.Format != output.FormatTable {
		return formatter.Print(report)
	}
	data := output.TableData{Headers: []string{"KEY", "SIZE", "CONTENT TYPE"}}
	for _, o := range report.Objects {
		data.Rows = append(data.Rows, []string{o.Key, fmt.Sprintf("%d", o.Size), o.ContentType})
	}
	if err := formatter.PrintTable(data, nil); err != nil {
		return err
	}
	formatter.PrintSuccess("%d objects, %d bytes", len(report.Objects), report.Bytes)
	return nil
}
