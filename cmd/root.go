// Package cmd wires the run/server/client subcommands onto a cobra root
// command, the same shape the teacher's cmd package uses for its own CLI.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/texttheater/viasock/internal/core"
)

// NewRootCommand builds the viasock root command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "viasock",
		Short:         "Keep a slow-starting program alive behind a socket",
		Long:          `viasock eliminates repeated startup cost of slow-starting programs by keeping one long-lived instance alive behind a Unix-domain socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		NewRunCommand(),
		NewServerCommand(),
		NewClientCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}

// Execute runs the root command and reports a single descriptive line on
// failure (spec §7 "user-visible surface").
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		slog.Error(err.Error())
		return 1
	}
	return 0
}

func init() {
	// A bare stderr+tint handler until a subcommand (server, in
	// particular) decides whether -l redirects logging to a rotating
	// file; see internal/core.SetupLogging.
	if err := core.SetupLogging(""); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
	}
}
