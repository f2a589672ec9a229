package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/texttheater/viasock/internal/core"
	"github.com/texttheater/viasock/internal/daemon"
)

// NewServerCommand builds the "server" subcommand (spec §6). It is never
// invoked directly by end users; the runner spawns it with the socket
// path and fingerprint it already computed.
func NewServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "server [flags] socket hash program [args...]",
		Short:  "Serve one command behind a socket (internal)",
		Hidden: true,
		Args:   cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := core.LoadServerFlags(cmd)
			if err != nil {
				return err
			}
			if err := core.SetupLogging(flags.LogPath); err != nil {
				return err
			}

			socketPath, hash, program, rest := args[0], args[1], args[2], args[3:]
			fp, err := core.ParseFingerprint(hash)
			if err != nil {
				return err
			}

			srv := daemon.New(socketPath, fp, program, rest, flags)
			err = srv.Run(context.Background())
			if errors.Is(err, daemon.ErrAlreadyBound) {
				// Lost a spawn race: another server owns this socket.
				return nil
			}
			return err
		},
	}
	core.RegisterFramingFlags(cmd)
	core.RegisterServerFlags(cmd)
	cmd.Flags().SetInterspersed(false)
	return cmd
}
