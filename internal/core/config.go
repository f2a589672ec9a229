package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags holds the framing and timeout configuration shared by the run,
// server, and client subcommands. Everything here feeds
// ComputeFingerprint, so it is read once per invocation via viper (CLI
// flag overrides environment overrides default) and then frozen for the
// lifetime of the process, the same precedence order the teacher's
// InitializeConfig establishes for its own flags.
type Flags struct {
	InputTerminator  string
	OutputTerminator string
	Prelude          int
	ProcessTimeout   time.Duration
	ServerTimeout    time.Duration
	LogPath          string
}

// newViper builds a viper instance scoped to one subcommand invocation,
// reading defaults and the VIASOCK_-prefixed environment the way the
// teacher's InitializeConfig reads an OVERSEER_-prefixed environment.
// There is deliberately no config-file source here: every value feeds the
// fingerprint, and a file read behind the CLI's back would let the runner
// and the server it spawns disagree about what they're framing.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("viasock")
	// Flag names are hyphenated (input-terminator); env vars can't contain
	// hyphens, so VIASOCK_INPUT_TERMINATOR must map onto it explicitly.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("input-terminator", "")
	v.SetDefault("output-terminator", "")
	v.SetDefault("prelude", 0)
	v.SetDefault("process-timeout", 0)
	v.SetDefault("server-timeout", 60)
	v.SetDefault("log", "")
	return v
}

// RegisterFramingFlags adds the flags shared by all three subcommands
// (-t, -T, -P), matching spec §6's CLI table.
func RegisterFramingFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("input-terminator", "t", "", "input terminator regex (default: matches any line)")
	cmd.Flags().StringP("output-terminator", "T", "", "output terminator regex (default: matches any line)")
	cmd.Flags().IntP("prelude", "P", 0, "number of prelude output records to replay")
}

// RegisterServerFlags adds the flags used by run and server only
// (-w, -W, -l); client does not take them (spec §6).
func RegisterServerFlags(cmd *cobra.Command) {
	cmd.Flags().Float64P("process-timeout", "w", 0, "seconds to wait for the child's response to a record (default: none)")
	cmd.Flags().Float64P("server-timeout", "W", 60, "seconds of idleness before the server exits")
	cmd.Flags().StringP("log", "l", "", "server log path (rotating file if set)")
}

// LoadFramingFlags reads -t/-T/-P from cmd into a Flags value.
func LoadFramingFlags(cmd *cobra.Command) (Flags, error) {
	v := newViper()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Flags{}, fmt.Errorf("bind flags: %w", err)
	}
	return Flags{
		InputTerminator:  v.GetString("input-terminator"),
		OutputTerminator: v.GetString("output-terminator"),
		Prelude:          v.GetInt("prelude"),
	}, nil
}

// LoadServerFlags reads -t/-T/-P/-w/-W/-l from cmd into a Flags value.
func LoadServerFlags(cmd *cobra.Command) (Flags, error) {
	fl, err := LoadFramingFlags(cmd)
	if err != nil {
		return Flags{}, err
	}
	v := newViper()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Flags{}, fmt.Errorf("bind flags: %w", err)
	}
	fl.ProcessTimeout = secondsOrZero(v.GetFloat64("process-timeout"))
	fl.ServerTimeout = secondsOrZero(v.GetFloat64("server-timeout"))
	fl.LogPath = v.GetString("log")
	return fl, nil
}

func secondsOrZero(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
