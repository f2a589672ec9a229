package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/texttheater/viasock/internal/client"
	"github.com/texttheater/viasock/internal/core"
)

// NewClientCommand builds the "client" subcommand (spec §6), usable
// standalone or as the mechanism the runner retries through.
func NewClientCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client socket",
		Short: "Connect to a running server and pump records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := core.LoadFramingFlags(cmd)
			if err != nil {
				return err
			}
			conn, err := client.Dial(args[0])
			if err != nil {
				return err
			}
			defer conn.Close()
			return client.Run(context.Background(), conn, flags, os.Stdin, os.Stdout)
		},
	}
	core.RegisterFramingFlags(cmd)
	return cmd
}
