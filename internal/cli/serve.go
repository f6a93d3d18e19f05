package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"anonchat/internal/app"
	"anonchat/internal/config"
)

func newServeCommand(cfg *config.Config, application *app.App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat over HTTP",
		Long:  `Start the HTTP server, the live feed and the maintenance jobs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Starting anonchat...")
			if cfg.ConfigPath != "" {
				fmt.Fprintf(out, "   Config: %s\n", cfg.ConfigPath)
			}
			fmt.Fprintf(out, "   Storage: %s\n", cfg.StoragePath)

			if err := application.Start(cmd.Context()); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides server.addr)")

	return cmd
}
