package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"anonchat/internal/app"
)

func newCleanupCommand(application *app.App) *cobra.Command {
	var job string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run the maintenance jobs once",
		Long: `Remove expired messages, inactive users and stale idempotency keys
now instead of waiting for the schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := application.Open(); err != nil {
				return err
			}
			s := application.Scheduler()

			if job != "" {
				if err := s.RunNow(cmd.Context(), job); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s done\n", job)
				return nil
			}

			err := s.RunAll(cmd.Context())
			for _, info := range s.Jobs() {
				status := "ok"
				if info.LastErr != nil {
					status = info.LastErr.Error()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", info.Name, status)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&job, "job", "", "Run only this job")

	return cmd
}
