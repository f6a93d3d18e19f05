package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"anonchat/internal/app"
)

func newOnlineCommand(application *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "List who is online",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := application.Open(); err != nil {
				return err
			}
			users, err := application.Presence().Online(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintln(out, "Nobody is online.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NICKNAME\tCOLOR\tPLATFORM\tLAST ACTIVE")
			for _, u := range users {
				seen := time.Since(time.UnixMilli(u.LastActive)).Round(time.Second)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s ago\n", u.Nickname, u.Color, u.DeviceInfo.Platform, seen)
			}
			return tw.Flush()
		},
	}
}
