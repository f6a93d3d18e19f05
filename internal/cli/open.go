package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"anonchat/internal/config"
	"anonchat/internal/render"
)

// promptConfirmer asks on a terminal before a link is opened.
type promptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out}
}

// Confirm shows target and reads a yes or no answer. Anything but yes
// denies.
func (c *promptConfirmer) Confirm(ctx context.Context, target string) (bool, error) {
	fmt.Fprintf(c.out, "This link leaves the chat:\n  %s\nOpen it? [y/N] ", target)

	// A read cannot be interrupted. After cancellation the goroutine stays
	// blocked until input arrives or stdin closes; both channels are
	// buffered so it then exits without a receiver.
	answer := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			errCh <- err
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return false, ctx.Err()
	case err := <-errCh:
		return false, err
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func newOpenCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "open <url>",
		Short: "Confirm an outbound link and print where it goes",
		Long: `Validate a link the way the chat does, ask for confirmation and print
the resolved target on approval.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := render.NewURLValidator(render.ValidatorOptions{
				BaseURL:      cfg.Server.PublicURL,
				MaxURLLength: cfg.Render.MaxURLLength,
			})
			if err != nil {
				return err
			}
			gate := render.NewLinkGate(v, cfg.Render.ConfirmTimeout)
			defer gate.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, cfg.Render.ConfirmTimeout)
			defer cancel()

			target, err := gate.Open(ctx, args[0], newPromptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr()))
			switch {
			case errors.Is(err, render.ErrUnsafeURL):
				return fmt.Errorf("refusing to open this link: %w", err)
			case errors.Is(err, render.ErrConfirmationDenied):
				fmt.Fprintln(cmd.ErrOrStderr(), "Not opened.")
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				return errors.New("no answer, link not opened")
			case err != nil:
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), target)
			return nil
		},
	}
}
