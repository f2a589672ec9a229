package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/texttheater/viasock/internal/core"
)

// NewVersionCommand prints the client binary's version. A spawned server
// is just this same binary invoked with the "server" subcommand, so there
// is no separate daemon version to reconcile.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(core.FormatVersion(core.Version))
		},
	}
}
