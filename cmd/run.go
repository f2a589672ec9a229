package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/texttheater/viasock/internal/core"
	"github.com/texttheater/viasock/internal/runner"
)

// NewRunCommand builds the "run" subcommand (spec §6): the end-user entry
// point that transparently spawns a server on first use or on input
// change.
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run program [args...]",
		Short:              "Run program via a long-lived background instance",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := core.LoadServerFlags(cmd)
			if err != nil {
				return err
			}
			program, rest := args[0], args[1:]
			return runner.Run(context.Background(), program, rest, flags, os.Stdin, os.Stdout)
		},
	}
	core.RegisterFramingFlags(cmd)
	core.RegisterServerFlags(cmd)
	cmd.Flags().SetInterspersed(false)
	return cmd
}
