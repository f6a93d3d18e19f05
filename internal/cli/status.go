package cli

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"anonchat/internal/app"
	"anonchat/internal/config"
)

func newStatusCommand(cfg *config.Config, application *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, stored data and maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "anonchat v%s\n\n", Version)

			fmt.Fprintln(out, "Server:")
			fmt.Fprintf(out, "  Address: %s\n", cfg.Server.Addr)
			fmt.Fprintf(out, "  Public URL: %s\n", cfg.Server.PublicURL)
			fmt.Fprintf(out, "  Link gate: %s\n", cfg.Server.GatePath)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Chat:")
			fmt.Fprintf(out, "  Max length: %d\n", cfg.Chat.MaxLength)
			fmt.Fprintf(out, "  Rate limit: %d per %s\n", cfg.Chat.RateLimit, cfg.Chat.RateWindow)
			fmt.Fprintln(out)

			// Storage
			fmt.Fprintln(out, "Storage:")
			fmt.Fprintf(out, "  Path: %s\n", cfg.StoragePath)
			if err := application.Open(); err != nil {
				fmt.Fprintf(out, "  Not available: %v\n", err)
				return nil
			}
			stats, err := application.Store().Stats(cmd.Context())
			if err != nil {
				return err
			}
			collections := make([]string, 0, len(stats))
			for c := range stats {
				collections = append(collections, c)
			}
			slices.Sort(collections)
			for _, c := range collections {
				fmt.Fprintf(out, "  %s: %d\n", c, stats[c])
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Maintenance:")
			for _, info := range application.Scheduler().Jobs() {
				fmt.Fprintf(out, "  %-20s %-14s next %s\n", info.Name, info.Expression,
					info.Next.Local().Format(time.DateTime))
			}
			return nil
		},
	}
}
