package daemon

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/texttheater/viasock/internal/client"
	"github.com/texttheater/viasock/internal/core"
)

// TestMain lets this test binary re-exec itself as a record-preserving
// child process (a "cat"), the standard Go idiom for exercising real
// subprocess behavior without shipping a separate fixture binary — the
// same idea the teacher's testutil/sshserver package applies to bring up
// a real SSH server under test.
func TestMain(m *testing.M) {
	switch os.Getenv("VIASOCK_TEST_HELPER") {
	case "cat":
		runCatHelper()
		return
	case "header-cat":
		os.Stdout.WriteString("HDR1\nHDR2\n")
		runCatHelper()
		return
	}
	os.Exit(m.Run())
}

func runCatHelper() {
	r := bufio.NewReader(os.Stdin)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			os.Stdout.Write(line)
		}
		if err != nil {
			return
		}
	}
}

func waitForFile(t *testing.T, path string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", path)
}

func TestServerEchoesThreeSessions(t *testing.T) {
	t.Setenv("VIASOCK_TEST_HELPER", "cat")

	socketPath := filepath.Join(t.TempDir(), "sock")
	flags := core.Flags{ServerTimeout: 3 * time.Second}
	fp := core.ComputeFingerprint(os.Args[0], nil, flags)
	srv := New(socketPath, fp, os.Args[0], nil, flags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(ctx) }()

	waitForFile(t, socketPath, 2*time.Second)

	for i := 0; i < 3; i++ {
		conn, err := client.Dial(socketPath)
		if err != nil {
			t.Fatalf("session %d: dial: %v", i, err)
		}
		var out bytes.Buffer
		if err := client.Run(context.Background(), conn, flags, strings.NewReader("hello\n"), &out); err != nil {
			t.Fatalf("session %d: run: %v", i, err)
		}
		conn.Close()
		if out.String() != "hello\n" {
			t.Fatalf("session %d: got %q, want %q", i, out.String(), "hello\n")
		}
	}

	if _, err := os.Stat(socketPath); err != nil {
		t.Fatalf("socket should still exist right after sessions: %v", err)
	}

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("server exited early with error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit after idle timeout")
	}

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket file should be unlinked after idle shutdown, stat err = %v", err)
	}
}

func TestServerReplaysPrelude(t *testing.T) {
	t.Setenv("VIASOCK_TEST_HELPER", "header-cat")

	socketPath := filepath.Join(t.TempDir(), "sock")
	flags := core.Flags{ServerTimeout: 5 * time.Second, Prelude: 2}
	fp := core.ComputeFingerprint(os.Args[0], nil, flags)
	srv := New(socketPath, fp, os.Args[0], nil, flags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)
	waitForFile(t, socketPath, 2*time.Second)

	// The child prints its two header lines unconditionally at startup;
	// the server captures them as prelude before any client connects.
	// Two independent sessions should each see the prelude prepended to
	// their own echoed record (spec §8 scenario D).
	for i := 0; i < 2; i++ {
		conn, err := client.Dial(socketPath)
		if err != nil {
			t.Fatal(err)
		}
		var out bytes.Buffer
		if err := client.Run(context.Background(), conn, flags, strings.NewReader("body\n"), &out); err != nil {
			t.Fatal(err)
		}
		conn.Close()
		if out.String() != "HDR1\nHDR2\nbody\n" {
			t.Fatalf("session %d: got %q", i, out.String())
		}
	}
}

func TestServerInvalidatesOnFingerprintChange(t *testing.T) {
	t.Setenv("VIASOCK_TEST_HELPER", "cat")

	socketPath := filepath.Join(t.TempDir(), "sock")
	flags := core.Flags{ServerTimeout: 60 * time.Second}
	fp := core.ComputeFingerprint(os.Args[0], nil, flags)
	srv := New(socketPath, fp, os.Args[0], nil, flags)
	// Simulate the startup fingerprint having already gone stale relative
	// to the live recompute, as would happen if an argument path's mtime
	// changed after the server started.
	srv.fingerprint[0] ^= 0xFF

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(ctx) }()
	waitForFile(t, socketPath, 2*time.Second)

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("expected clean invalidation exit, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not exit promptly on fingerprint mismatch")
	}
}
