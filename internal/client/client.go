// Package client implements the viasock client role (spec §4.5): dial a
// server's socket, replay its prelude, then pump records one-for-one
// between local stdin and the socket until stdin ends.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/texttheater/viasock/internal/core"
	"github.com/texttheater/viasock/internal/record"
)

// ErrSocketAbsent means the socket file does not exist — the runner
// should spawn a server (spec §4.4 step 4).
var ErrSocketAbsent = errors.New("client: socket file does not exist")

// ErrConnectionRefused means the socket file exists but nothing is
// listening — a crashed server left it behind (spec §4.4 step 4).
var ErrConnectionRefused = errors.New("client: connection refused")

// Dial connects to socketPath, classifying the two transport errors the
// runner treats specially so it doesn't have to inspect net.OpError
// itself.
func Dial(socketPath string) (net.Conn, error) {
	conn, err := net.Dial("unix", socketPath)
	if err == nil {
		return conn, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSocketAbsent, socketPath)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return nil, fmt.Errorf("%w: %s", ErrConnectionRefused, socketPath)
	}
	return nil, err
}

// Run drives one client session to completion: copy the prelude, then
// forward stdin records to the socket and copy back one output record per
// input record, until stdin ends (spec §4.5). The client holds no state
// across records beyond its two framers.
func Run(ctx context.Context, conn net.Conn, flags core.Flags, stdin io.Reader, stdout io.Writer) error {
	isTerm := false
	if f, ok := stdout.(*os.File); ok {
		isTerm = term.IsTerminal(int(f.Fd()))
	}
	out := bufio.NewWriter(stdout)
	defer out.Flush()

	serverOut, err := record.NewReader(conn, flags.OutputTerminator, 0)
	if err != nil {
		return fmt.Errorf("client: compile output terminator: %w", err)
	}

	for i := 0; i < flags.Prelude; i++ {
		rec, err := serverOut.Next(ctx)
		if err != nil {
			return fmt.Errorf("client: prelude record %d/%d: %w", i+1, flags.Prelude, err)
		}
		if _, err := out.Write(rec); err != nil {
			return fmt.Errorf("client: write prelude to stdout: %w", err)
		}
		if isTerm {
			out.Flush()
		}
	}

	stdinReader, err := record.NewReader(stdin, flags.InputTerminator, 0)
	if err != nil {
		return fmt.Errorf("client: compile input terminator: %w", err)
	}

	for {
		rec, err := stdinReader.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("client: stdin: %w", err)
		}

		if _, err := conn.Write(rec); err != nil {
			return fmt.Errorf("client: write to server: %w", err)
		}

		outRec, err := serverOut.Next(ctx)
		if err != nil {
			return fmt.Errorf("client: read from server: %w", err)
		}
		if _, err := out.Write(outRec); err != nil {
			return fmt.Errorf("client: write to stdout: %w", err)
		}
		if isTerm {
			out.Flush()
		}
	}
}
