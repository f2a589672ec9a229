package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/texttheater/viasock/internal/record"
)

// handleSession is the duplex bridge: the critical region described in
// spec §4.3. It copies the prelude, then for each client input record
// concurrently writes it to the child and pulls the next record off the
// shared output stream, on two cooperating tasks so a full pipe buffer on
// either side can drain into the other. Sequential write-then-read would
// deadlock: see spec §4.3 "Why concurrent write+read" and §9.
func (s *Server) handleSession(ctx context.Context, conn net.Conn) error {
	id := sessionID()
	log := slog.With("session", id)

	if len(s.prelude) > 0 {
		if _, err := conn.Write(s.prelude); err != nil {
			return fmt.Errorf("session %s: write prelude: %w", id, err)
		}
	}

	clientIn, err := record.NewReader(conn, s.flags.InputTerminator, 0)
	if err != nil {
		return fmt.Errorf("session %s: compile input terminator: %w", id, err)
	}

	count := 0
	for {
		inRec, err := clientIn.Next(ctx)
		if errors.Is(err, io.EOF) {
			log.Debug("session ended", "records", count)
			return nil
		}
		if err != nil {
			return fmt.Errorf("session %s: client input: %w", id, err)
		}

		outRec, err := s.exchange(ctx, inRec)
		if err != nil {
			return fmt.Errorf("session %s: %w", id, err)
		}

		if _, err := conn.Write(outRec); err != nil {
			return fmt.Errorf("session %s: write to client: %w", id, err)
		}
		s.touchLastRequest()
		count++
	}
}

// exchange performs one input-record-for-output-record round trip against
// the child: the write and the read run concurrently (spec §4.3 steps
// a–c), and the first failure from either side is the session's terminal
// error, which the caller treats as fatal (kill child, stop server, per
// spec §4.3's fatal session conditions).
func (s *Server) exchange(ctx context.Context, inRec record.Record) (record.Record, error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.childIn.Write(inRec); err != nil {
			return fmt.Errorf("write to child: %w", err)
		}
		return nil
	})

	var outRec record.Record
	g.Go(func() error {
		rec, err := s.childOut.Next(gctx)
		if errors.Is(err, io.EOF) {
			return ErrProtocolViolation
		}
		if err != nil {
			return fmt.Errorf("read from child: %w", err)
		}
		outRec = rec
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outRec, nil
}
