package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/novel-harvester/internal/app"
	"github.com/JakeFAU/novel-harvester/internal/harvest"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <collection-url|collection-id>",
		Short: "Show recorded progress for a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				id, err := collectionID(a, args[0])
				if err != nil {
					return err
				}
				st, err := a.Harvester().Status(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("status: %w", err)
				}
				if !st.Known() {
					fmt.Fprintf(cmd.OutOrStdout(), "no progress recorded for %s\n", id)
					return nil
				}
				renderStatus(cmd, st)
				return nil
			})
		},
	}
}

func renderStatus(cmd *cobra.Command, st harvest.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"Collection", st.CollectionID})
	if rec := st.Record; rec != nil {
		t.AppendRow(table.Row{"Title", rec.Title})
		t.AppendRow(table.Row{"Chapters done", rec.Completed()})
		t.AppendRow(table.Row{"Buffered", len(rec.BufferedContent)})
		t.AppendRow(table.Row{"Last update", rec.LastUpdate.Format(time.RFC3339)})
	}
	if done := st.Completion; done != nil {
		t.AppendRow(table.Row{"Completed at", done.CompletedAt.Format(time.RFC3339)})
		t.AppendRow(table.Row{"Chapters at completion", len(done.CompletedItemRefs)})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
