package daemon

import "errors"

// Protocol-violation and lifecycle error taxonomy from spec §7. Framing
// and timeout errors are record.ErrIncomplete / record.ErrTimeout,
// defined in internal/record and surfaced here unchanged.
var (
	// ErrProtocolViolation means the child produced fewer output records
	// than inputs consumed, or stopped at EOF before a terminator.
	ErrProtocolViolation = errors.New("daemon: child violated the one-output-per-input contract")

	// ErrChildExitNonZero means the child exited with a non-zero status.
	// It is logged but does not change an already-initiated shutdown.
	ErrChildExitNonZero = errors.New("daemon: child exited non-zero")

	// ErrAlreadyBound means a server for this fingerprint is already
	// listening; the caller should exit silently (spec §4.4 concurrency
	// note: the race loser exits without serving any request).
	ErrAlreadyBound = errors.New("daemon: socket path already bound")
)
