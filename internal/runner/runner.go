// Package runner implements the "run" subcommand (spec §4.4): compute a
// fingerprint, try a client session, and spawn a server on demand.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/texttheater/viasock/internal/client"
	"github.com/texttheater/viasock/internal/core"
)

// spawnRetryDelay is the fixed pause after spawning a server, to let it
// bind and capture its prelude before the retry (spec §4.4 step 4).
const spawnRetryDelay = 1 * time.Second

// Run drives the runner role end to end: locate the socket for this
// command's fingerprint, attempt a client session, and on "socket
// absent"/"connection refused" spawn a detached server and retry exactly
// once.
func Run(ctx context.Context, program string, args []string, flags core.Flags, stdin io.Reader, stdout io.Writer) error {
	fp := core.ComputeFingerprint(program, args, flags)
	socketPath, err := core.SocketPath(fp)
	if err != nil {
		return fmt.Errorf("runner: socket path: %w", err)
	}

	if err := attempt(ctx, socketPath, flags, stdin, stdout); err == nil {
		return nil
	} else if handled, recoverable := classify(socketPath, err); !recoverable {
		return err
	} else if handled {
		slog.Debug("stale socket found, removing", "path", socketPath)
	}

	if err := spawnServer(socketPath, fp, program, args, flags); err != nil {
		return fmt.Errorf("runner: spawn server: %w", err)
	}

	time.Sleep(spawnRetryDelay)

	if err := attempt(ctx, socketPath, flags, stdin, stdout); err != nil {
		return fmt.Errorf("runner: retry after spawn failed: %w", err)
	}
	return nil
}

func attempt(ctx context.Context, socketPath string, flags core.Flags, stdin io.Reader, stdout io.Writer) error {
	conn, err := client.Dial(socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return client.Run(ctx, conn, flags, stdin, stdout)
}

// classify reports whether err is one of the two transport failures the
// runner recovers from, and whether the stale socket file should be
// unlinked first (only on connection-refused — a crashed server's leftover
// file; a merely-absent socket has nothing to remove). Two runners racing
// to spawn for the same fingerprint is tolerated here: the loser's spawn
// attempt fails to bind (ErrAlreadyBound surfaces from the server itself,
// not from this function), and its own retry finds the winner's server.
func classify(socketPath string, err error) (handled, recoverable bool) {
	if errors.Is(err, client.ErrConnectionRefused) {
		if rmErr := os.Remove(socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("failed to remove stale socket", "path", socketPath, "error", rmErr)
		}
		return true, true
	}
	if errors.Is(err, client.ErrSocketAbsent) {
		return false, true
	}
	return false, false
}

// spawnServer launches a detached "server" subcommand for this
// fingerprint, following the teacher's StartDaemon pattern: stderr is
// captured to a temp file (not a pipe — see the comment below) purely for
// crash diagnostics, and the process is put in its own session so a
// terminating runner doesn't signal it.
//
// The server subcommand parses with SetInterspersed(false), so flag parsing
// stops at the first positional argument. The viasock flags must therefore
// come before socketPath/fp/program on the spawned command line — after
// them, everything (including anything that looks like a flag) belongs to
// the child and must pass through untouched.
func spawnServer(socketPath string, fp core.Fingerprint, program string, args []string, flags core.Flags) error {
	cmd := exec.Command(selfPath(), serverArgs(socketPath, fp, program, args, flags)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	// A *bytes.Buffer here would create a pipe; when the runner exits the
	// broken pipe would deliver SIGPIPE to the detached server on fd 2,
	// which Go terminates the process for by default. Use a real file.
	stderrFile, err := os.CreateTemp("", "viasock-server-stderr-*")
	if err != nil {
		return fmt.Errorf("create stderr capture file: %w", err)
	}
	cmd.Stderr = stderrFile
	defer stderrFile.Close()

	if err := cmd.Start(); err != nil {
		os.Remove(stderrFile.Name())
		return fmt.Errorf("start server: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("detach server: %w", err)
	}
	return nil
}

// serverArgs builds the argv for the spawned "server" subcommand. Flags
// must precede the socket/hash/program positionals: the server subcommand
// parses with SetInterspersed(false), so flag parsing stops dead at the
// first positional, and anything after program is the child's own argv and
// must reach it untouched.
func serverArgs(socketPath string, fp core.Fingerprint, program string, args []string, flags core.Flags) []string {
	out := []string{"server"}
	out = append(out, flagArgs(flags)...)
	out = append(out, socketPath, fp.String(), program)
	out = append(out, args...)
	return out
}

func flagArgs(flags core.Flags) []string {
	var out []string
	if flags.InputTerminator != "" {
		out = append(out, "-t", flags.InputTerminator)
	}
	if flags.OutputTerminator != "" {
		out = append(out, "-T", flags.OutputTerminator)
	}
	if flags.Prelude != 0 {
		out = append(out, "-P", strconv.Itoa(flags.Prelude))
	}
	if flags.ProcessTimeout > 0 {
		out = append(out, "-w", strconv.FormatFloat(flags.ProcessTimeout.Seconds(), 'f', -1, 64))
	}
	out = append(out, "-W", strconv.FormatFloat(flags.ServerTimeout.Seconds(), 'f', -1, 64))
	if flags.LogPath != "" {
		out = append(out, "-l", flags.LogPath)
	}
	return out
}

func selfPath() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return os.Args[0]
}
