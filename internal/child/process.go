// Package child owns the server's one spawned child process: its pipes,
// its stderr diagnostics, and its termination.
package child

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ErrExitTimeout is returned by Wait when the child does not exit within
// the bound passed to it (spec §4.2 shutdown sequence).
var ErrExitTimeout = errors.New("child: did not exit within timeout")

// Process is the server's one owned child: piped stdin/stdout, with
// stderr pumped line-by-line into the server log.
type Process struct {
	cmd    *exec.Cmd
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	stderrDone chan struct{}
}

// Spawn starts program with args, piping stdin/stdout/stderr and putting
// the child in its own session (spec §4.2 step 2) so that a client
// disconnecting, or the server itself receiving a signal meant for its
// controlling terminal, does not propagate to the child.
func Spawn(program string, args []string) (*Process, error) {
	cmd := exec.Command(program, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("child: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("child: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("child: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("child: start %s: %w", program, err)
	}

	p := &Process{
		cmd:        cmd,
		Stdin:      stdin,
		Stdout:     stdout,
		stderrDone: make(chan struct{}),
	}
	go p.pumpStderr(stderr)
	return p, nil
}

// pumpStderr copies the child's stderr, line by line, into the server
// log, mirroring the teacher's verifyConnection stderr scanner.
func (p *Process) pumpStderr(stderr io.ReadCloser) {
	defer close(p.stderrDone)
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		slog.Info("child stderr", "line", scanner.Text())
	}
}

// PID returns the child's process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// CloseStdin closes the child's stdin, the first step of spec §4.2's
// shutdown sequence.
func (p *Process) CloseStdin() error {
	return p.Stdin.Close()
}

// Wait blocks until the child exits or timeout elapses, whichever comes
// first, then joins the stderr pump. A pipe-closed error from the stderr
// pump after the child already exited is not itself surfaced as a
// failure — it's the expected shape of "child aborted early" per spec
// §4.2, and the child's own exit status is what callers should inspect.
func (p *Process) Wait(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	var waitErr error
	if timeout <= 0 {
		waitErr = <-done
	} else {
		select {
		case waitErr = <-done:
		case <-time.After(timeout):
			return ErrExitTimeout
		}
	}

	select {
	case <-p.stderrDone:
	case <-time.After(5 * time.Second):
	}

	return waitErr
}

// Kill sends SIGKILL to the child's entire process group, matching the
// teacher's syscall.Kill(-pid, SIGKILL) pattern but through x/sys/unix for
// portability across the BSD targets the rest of the pack builds for.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := unix.Kill(-p.cmd.Process.Pid, unix.SIGKILL); err != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}
