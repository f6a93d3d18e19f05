package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"anonchat/internal/app"
	"anonchat/internal/chat"
	"anonchat/internal/config"
	"anonchat/internal/errorx"
)

func newSendCommand(cfg *config.Config, application *app.App) *cobra.Command {
	var (
		replyTo string
		key     string
	)

	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Post a message as the local identity",
		Long: `Post a message to the chat store. The text is read from the argument
or, when absent or "-", from standard input. Retrying with the same
--idempotency-key never posts twice.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			sess, err := participant(cfg, application)
			if err != nil {
				return err
			}
			if key == "" {
				key = uuid.NewString()
			}

			e, err := application.Chat().Send(cmd.Context(), sess, chat.Draft{
				Text:           text,
				ReplyTo:        replyTo,
				IdempotencyKey: key,
			})
			if err != nil {
				if msg := errorx.UserMessage(err, ""); msg != "" {
					return fmt.Errorf("%s", msg)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.Key)
			return nil
		},
	}

	cmd.Flags().StringVarP(&replyTo, "reply-to", "r", "", "Key of the message to reply to")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "Key that makes retries safe (default random)")

	return cmd
}
