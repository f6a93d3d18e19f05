// Package cli implements the anonchat command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"anonchat/internal/app"
	"anonchat/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

func NewRootCommand(cfg *config.Config, application *app.App) *cobra.Command {
	root := &cobra.Command{
		Use:   "anonchat",
		Short: "anonchat - anonymous chat with a sanitizing renderer",
		Long: `anonchat - anonymous chat with a sanitizing renderer

Serves a single anonymous chat room over HTTP. Every message is rendered
from Markdown or a small HTML subset, sanitized against an allow-list,
and every outbound link goes through a confirmation page.`,

		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add commands
	root.AddCommand(newServeCommand(cfg, application))
	root.AddCommand(newConfigCommand(cfg))
	root.AddCommand(newRenderCommand(cfg))
	root.AddCommand(newSendCommand(cfg, application))
	root.AddCommand(newTailCommand(cfg, application))
	root.AddCommand(newOpenCommand(cfg))
	root.AddCommand(newOnlineCommand(application))
	root.AddCommand(newCleanupCommand(application))
	root.AddCommand(newStatusCommand(cfg, application))
	root.AddCommand(newDoctorCommand(cfg))
	root.AddCommand(newDaemonCommand(cfg))
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "anonchat v%s (go)\n", Version)
		},
	}
}
