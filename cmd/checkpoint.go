package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/novel-harvester/internal/app"
	"github.com/JakeFAU/novel-harvester/internal/harvest"
)

func newCheckpointCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <collection-url|collection-id>",
		Short: "Write the chapters buffered since the last output file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				id, err := collectionID(a, args[0])
				if err != nil {
					return err
				}
				art, err := a.Harvester().SaveCurrentProgress(cmd.Context(), id)
				if errors.Is(err, harvest.ErrNoProgressToSave) {
					fmt.Fprintf(cmd.OutOrStdout(), "nothing buffered for %s\n", id)
					return nil
				}
				if err != nil {
					return fmt.Errorf("checkpoint: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %d chapters to %s\n", art.Blocks, art.URI)
				return nil
			})
		},
	}
}
