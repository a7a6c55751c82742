package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/app"
	"github.com/JakeFAU/novel-harvester/internal/harvest"
)

func newHarvestCmd() *cobra.Command {
	var (
		batchSize int
		restart   bool
		dryRun    bool
	)
	cmd := &cobra.Command{
		Use:   "harvest <collection-url>",
		Short: "Download a collection, resuming from recorded progress",
		Long: `Fetches every chapter of the collection in order and writes one text
file per batch. A run interrupted by Ctrl-C or a failure resumes from the
first chapter not yet recorded the next time it is started.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{DryRun: dryRun}, func(a *app.App) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				sum, err := a.Harvest(ctx, app.HarvestRequest{
					URL:       args[0],
					BatchSize: harvest.ResolveRequestedBatchSize(batchSize),
					Restart:   restart,
				})
				if err != nil {
					if errors.Is(err, context.Canceled) {
						a.Logger().Warn("harvest interrupted; progress saved", zap.String("url", args[0]))
					}
					return fmt.Errorf("harvest: %w", err)
				}
				renderSummary(cmd, sum)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "chapters per output file (10-500, default from config)")
	cmd.Flags().BoolVar(&restart, "restart", false, "discard recorded progress and start from the first chapter")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "keep output files in memory instead of writing them")
	return cmd
}

func renderSummary(cmd *cobra.Command, sum harvest.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Collection", "Total", "Resumed", "Fetched", "Completed"})
	t.AppendRow(table.Row{sum.CollectionID, sum.Total, sum.Resumed, sum.Fetched, sum.Completed})
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(sum.Artifacts) == 0 {
		return
	}
	at := table.NewWriter()
	at.SetOutputMirror(cmd.OutOrStdout())
	at.AppendHeader(table.Row{"Batch", "Artifact", "Chapters", "URI"})
	for _, art := range sum.Artifacts {
		at.AppendRow(table.Row{art.BatchNumber, art.Name, art.Blocks, art.URI})
	}
	at.SetStyle(table.StyleRounded)
	at.Render()
}
