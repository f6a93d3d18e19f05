package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"anonchat/internal/config"
	"anonchat/internal/render"
)

func newRenderCommand(cfg *config.Config) *cobra.Command {
	var (
		offline   bool
		intercept bool
		format    string
		report    bool
	)

	cmd := &cobra.Command{
		Use:   "render [text]",
		Short: "Render and sanitize a message without storing it",
		Long: `Render text the way the chat stores it. The text is read from the
argument or, when absent or "-", from standard input.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			opts := render.ValidatorOptions{
				BaseURL:      cfg.Server.PublicURL,
				MaxURLLength: cfg.Render.MaxURLLength,
				ProbeTimeout: cfg.Render.ProbeTimeout,
			}
			if !offline {
				opts.Prober = render.NewHTTPProber(cfg.Render.ProbeTimeout, cfg.Render.AllowPrivate)
			}
			v, err := render.NewURLValidator(opts)
			if err != nil {
				return err
			}
			r := render.NewRenderer(v, cfg.Render.ProbeConcurrency)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			res, err := r.RenderPrepared(ctx, raw)
			if err != nil {
				return fmt.Errorf("render: %w", err)
			}
			out := res.HTML
			if intercept {
				out, _ = render.InterceptMarkup(out, v, cfg.Server.GatePath)
			}

			w := cmd.OutOrStdout()
			switch format {
			case "html":
				fmt.Fprintln(w, out)
			case "markdown", "terminal":
				p, err := newTerminalPrinter(w, "auto", 80)
				if err != nil {
					return err
				}
				var text string
				if format == "markdown" {
					text, err = p.markdown(out)
				} else {
					text, err = p.body(out)
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(w, text)
			default:
				return fmt.Errorf("unknown format %q (html, markdown, terminal)", format)
			}

			if report {
				errw := cmd.ErrOrStderr()
				fmt.Fprintf(errw, "markdown input: %t\n", res.Markdown)
				fmt.Fprintf(errw, "removed: %d\n", res.Report.Removed)
				if len(res.Report.PendingImages) > 0 {
					fmt.Fprintf(errw, "images left out: %s\n", strings.Join(res.Report.PendingImages, ", "))
				}
				if res.Report.FailedClosed {
					fmt.Fprintln(errw, "failed closed: input escaped")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Do not probe image URLs (every image is left out)")
	cmd.Flags().BoolVar(&intercept, "intercept", false, "Route links through the confirmation page")
	cmd.Flags().StringVarP(&format, "format", "f", "html", "Output format: html, markdown or terminal")
	cmd.Flags().BoolVar(&report, "report", false, "Print the sanitizer report to stderr")

	return cmd
}

// readText returns the first argument, or standard input when there is
// none or it is "-".
func readText(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(io.LimitReader(in, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}
