package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"anonchat/internal/app"
	"anonchat/internal/chat"
	"anonchat/internal/config"
	"anonchat/internal/identity"
)

func newTailCommand(cfg *config.Config, application *app.App) *cobra.Command {
	var (
		limit  int
		follow bool
		style  string
		width  int
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the newest messages",
		Long: `Print the newest messages, rendered for the terminal. With --follow,
keep printing messages as they arrive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := participant(cfg, application)
			if err != nil {
				return err
			}
			p, err := newTerminalPrinter(cmd.OutOrStdout(), style, width)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			entries, err := application.Chat().Page(ctx, "", limit)
			if err != nil {
				return err
			}
			seen := make(map[string]int64, len(entries))
			if err := printEntries(ctx, p, sess, entries, seen); err != nil {
				return err
			}
			if !follow {
				return nil
			}

			sub, err := application.Chat().Subscribe(ctx, limit)
			if err != nil {
				return err
			}
			defer sub.Close()
			for snap := range sub.Updates() {
				entries, err := chat.Entries(snap)
				if err != nil {
					return err
				}
				if err := printEntries(ctx, p, sess, entries, seen); err != nil {
					return err
				}
			}
			if err := sub.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 30, "Number of messages")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new and edited messages")
	cmd.Flags().StringVar(&style, "style", "auto", "Glamour style: auto, dark, light, notty")
	cmd.Flags().IntVar(&width, "width", 80, "Word wrap width")

	return cmd
}

// printEntries prints entries not printed before, or edited since. seen
// maps keys to the timestamp last printed.
func printEntries(ctx context.Context, p *terminalPrinter, sess *identity.Session, entries []chat.Entry, seen map[string]int64) error {
	now := time.Now()
	for _, e := range entries {
		if ts, ok := seen[e.Key]; ok && ts == e.Timestamp {
			continue
		}
		seen[e.Key] = e.Timestamp

		r := sess.Renderer()
		if err := r.Prepare(ctx, e.Text); err != nil {
			return err
		}
		if err := p.printEntry(e, r.Sanitizer().Sanitize(e.Text), now); err != nil {
			return fmt.Errorf("print %s: %w", e.Key, err)
		}
	}
	return nil
}
