package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/novel-harvester/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and harvest workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, app.Options{}, func(a *app.App) error {
				return a.NewServer().Serve(cmd.Context())
			})
		},
	}
}
