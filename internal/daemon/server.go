// Package daemon implements the viasock server: on-demand lifecycle,
// prelude capture, and the record-framed duplex bridge between one socket
// client and one child process (spec §4.2–§4.3).
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/texttheater/viasock/internal/child"
	"github.com/texttheater/viasock/internal/core"
	"github.com/texttheater/viasock/internal/record"
)

const acceptPoll = 1 * time.Second

// Server owns one child process and a listening Unix-domain socket; it
// serves one client at a time and terminates on idleness, fingerprint
// invalidation, child failure, or fatal protocol error (spec §4.2).
type Server struct {
	socketPath  string
	fingerprint core.Fingerprint
	program     string
	args        []string
	flags       core.Flags

	listener *net.UnixListener
	child    *child.Process

	prelude  []byte
	childOut *record.Reader
	childIn  *record.Writer

	mu              sync.Mutex
	lastRequestTime time.Time
	connectionCount int
}

// New constructs a Server for the given fingerprint. The fingerprint is
// the one the runner computed when it decided to spawn this server; the
// request loop recomputes it from program/args/flags on every idle poll
// to detect invalidation (spec §4.2).
func New(socketPath string, fp core.Fingerprint, program string, args []string, flags core.Flags) *Server {
	return &Server{
		socketPath:  socketPath,
		fingerprint: fp,
		program:     program,
		args:        args,
		flags:       flags,
	}
}

// Run executes the full server lifecycle: bind, spawn, capture prelude,
// serve until idle/invalidated/fatal, then shut down. It returns the
// terminal error, if any; a clean idle or invalidation exit returns nil.
func (s *Server) Run(ctx context.Context) (err error) {
	if err := s.bind(); err != nil {
		return err
	}
	defer func() {
		s.listener.Close()
		if rmErr := os.Remove(s.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("failed to unlink socket", "path", s.socketPath, "error", rmErr)
		}
	}()

	proc, err := child.Spawn(s.program, s.args)
	if err != nil {
		return fmt.Errorf("server: spawn child: %w", err)
	}
	s.child = proc

	diagCtx, cancelDiag := context.WithCancel(ctx)
	go proc.RunDiagnostics(diagCtx, 30*time.Second)
	defer cancelDiag()

	s.childOut, err = record.NewReader(proc.Stdout, s.flags.OutputTerminator, s.flags.ProcessTimeout)
	if err != nil {
		return s.shutdown(fmt.Errorf("server: compile output terminator: %w", err))
	}
	s.childIn = record.NewWriter(proc.Stdin)

	if err := s.capturePrelude(ctx); err != nil {
		return s.shutdown(fmt.Errorf("server: capture prelude: %w", err))
	}

	iw := newInvalidationWatcher(s.watchedPaths())
	defer iw.Close()

	runErr := s.requestLoop(ctx, iw)
	return s.shutdown(runErr)
}

// bind opens the listening socket. Binding to an existing path is fatal;
// stale-file cleanup is the runner's job, not the server's (spec §4.2 step
// 1 — a deliberate departure from the teacher's self-healing bind, since
// here a second server racing for the same fingerprint must exit quietly
// rather than fight over the socket file).
func (s *Server) bind() error {
	addr, err := net.ResolveUnixAddr("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("server: resolve socket path: %w", err)
	}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s: %v", ErrAlreadyBound, s.socketPath, err)
		}
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = l
	slog.Info("listening", "socket", s.socketPath, "program", s.program, "args", s.args)
	return nil
}

// capturePrelude drains the first P output records from the child at
// startup and retains them verbatim for replay to every client (spec §3,
// §4.2 step 4). An incomplete or missing prelude is fatal.
func (s *Server) capturePrelude(ctx context.Context) error {
	var buf []byte
	for i := 0; i < s.flags.Prelude; i++ {
		rec, err := s.childOut.Next(ctx)
		if err != nil {
			return fmt.Errorf("prelude record %d/%d: %w", i+1, s.flags.Prelude, err)
		}
		buf = append(buf, rec...)
	}
	s.prelude = buf
	s.touchLastRequest()
	return nil
}

// requestLoop accepts one client at a time, bounded by a 1s accept poll
// so idleness and invalidation checks stay responsive (spec §4.2). It
// returns the fatal error that ended the loop, or nil for a clean
// idle/invalidation exit.
func (s *Server) requestLoop(ctx context.Context, iw *invalidationWatcher) error {
	for {
		s.listener.SetDeadline(time.Now().Add(acceptPoll))
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if done, reason := s.shouldStop(iw); done {
					slog.Info("server exiting", "reason", reason, "sessions_served", s.connectionCount)
					return nil
				}
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		sessionErr := s.handleSession(ctx, conn)
		conn.Close()
		if sessionErr != nil {
			return sessionErr
		}

		s.mu.Lock()
		s.connectionCount++
		s.mu.Unlock()
	}
}

// touchLastRequest records that a record pair was just completed, the
// event that resets the idle-timeout clock (spec §4.3 step e).
func (s *Server) touchLastRequest() {
	s.mu.Lock()
	s.lastRequestTime = time.Now()
	s.mu.Unlock()
}

func (s *Server) shouldStop(iw *invalidationWatcher) (bool, string) {
	s.mu.Lock()
	idle := time.Since(s.lastRequestTime)
	s.mu.Unlock()

	if idle > s.flags.ServerTimeout {
		return true, "idle timeout"
	}
	if core.ComputeFingerprint(s.program, s.args, s.flags) != s.fingerprint {
		if iw.Changed() {
			return true, "invalidated (file change observed)"
		}
		return true, "invalidated (fingerprint changed)"
	}
	return false, ""
}

func (s *Server) watchedPaths() []string {
	paths := make([]string, 0, len(s.args)+1)
	paths = append(paths, s.program)
	paths = append(paths, s.args...)
	return paths
}

// shutdown ends the child. When runErr (the error that ended the request
// loop) is non-nil, it kills the child, waits up to 5s for it, and returns
// runErr unchanged. Otherwise it runs spec §4.2's shutdown sequence: close
// the child's stdin, wait for exit bounded by process_timeout (killing the
// child on timeout), and report a non-zero exit or exit-timeout as a fatal
// error.
func (s *Server) shutdown(runErr error) error {
	if s.child == nil {
		return runErr
	}

	if runErr != nil {
		slog.Error("fatal session error, killing child", "error", runErr)
		s.child.Kill()
		s.child.Wait(5 * time.Second)
		return runErr
	}

	if err := s.child.CloseStdin(); err != nil {
		slog.Debug("close child stdin", "error", err)
	}

	waitErr := s.child.Wait(s.flags.ProcessTimeout)
	if errors.Is(waitErr, child.ErrExitTimeout) {
		slog.Error("child did not exit in time, killing", "pid", s.child.PID())
		s.child.Kill()
		return fmt.Errorf("server: %w", waitErr)
	}
	if waitErr != nil {
		var exitErr interface{ ExitCode() int }
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() != 0 {
			slog.Error("child exited non-zero", "code", exitErr.ExitCode())
			return fmt.Errorf("%w: %v", ErrChildExitNonZero, waitErr)
		}
		slog.Debug("child wait", "error", waitErr)
	}
	return nil
}

// sessionID returns a short identifier folded into a session's log lines
// so interleaved output from a long-lived server's many sessions stays
// attributable to the session that produced it.
func sessionID() string {
	return strings.Split(uuid.NewString(), "-")[0]
}
