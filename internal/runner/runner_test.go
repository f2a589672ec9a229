package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/texttheater/viasock/internal/client"
	"github.com/texttheater/viasock/internal/core"
	"github.com/texttheater/viasock/internal/daemon"
)

// TestMain lets this test binary re-exec itself as either the spawned
// "server" subcommand (mirroring cmd/server.go's own dispatch, since
// importing the cmd package here would cycle back through runner) or a
// "cat" child, the same re-exec idiom internal/daemon's tests use.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == "server" {
		runServerHelper(os.Args[2:])
		return
	}
	if os.Getenv("VIASOCK_TEST_HELPER") == "cat" {
		runCatHelper()
		return
	}
	os.Exit(m.Run())
}

func runServerHelper(args []string) {
	cmd := &cobra.Command{
		Use:  "server",
		Args: cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := core.LoadServerFlags(cmd)
			if err != nil {
				return err
			}
			socketPath, hash, program, rest := args[0], args[1], args[2], args[3:]
			fp, err := core.ParseFingerprint(hash)
			if err != nil {
				return err
			}
			srv := daemon.New(socketPath, fp, program, rest, flags)
			return srv.Run(context.Background())
		},
	}
	core.RegisterFramingFlags(cmd)
	core.RegisterServerFlags(cmd)
	cmd.Flags().SetInterspersed(false)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func runCatHelper() {
	buf := make([]byte, 64*1024)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func TestClassifyConnectionRefusedUnlinksSocket(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "sock")
	if err := os.WriteFile(socketPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	handled, recoverable := classify(socketPath, client.ErrConnectionRefused)
	if !handled || !recoverable {
		t.Fatalf("got handled=%v recoverable=%v, want true,true", handled, recoverable)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("stale socket should have been removed, stat err = %v", err)
	}
}

func TestClassifySocketAbsentDoesNotTouchFilesystem(t *testing.T) {
	handled, recoverable := classify("/nonexistent/sock", client.ErrSocketAbsent)
	if handled {
		t.Fatal("socket-absent should not be reported as a stale-file cleanup")
	}
	if !recoverable {
		t.Fatal("socket-absent should be recoverable (triggers spawn)")
	}
}

func TestClassifyOtherErrorsPropagate(t *testing.T) {
	_, recoverable := classify("/some/sock", os.ErrPermission)
	if recoverable {
		t.Fatal("unrelated errors should not be treated as recoverable")
	}
}

func TestFlagArgsRoundTripsThroughSeconds(t *testing.T) {
	fl := core.Flags{
		InputTerminator:  "^EOS$",
		OutputTerminator: "",
		Prelude:          2,
		ProcessTimeout:   1500 * time.Millisecond,
		ServerTimeout:    60 * time.Second,
		LogPath:          "/tmp/viasock.log",
	}
	args := flagArgs(fl)

	want := []string{"-t", "^EOS$", "-P", "2", "-w", "1.5", "-W", "60", "-l", "/tmp/viasock.log"}
	if len(args) != len(want) {
		t.Fatalf("got %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("arg %d: got %q, want %q (full: %v)", i, args[i], want[i], args)
		}
	}
}

// TestServerArgsPlaceFlagsBeforePositionals guards the bug where viasock
// flags appended after the socket/hash/program positionals were swallowed
// as spurious child argv and never parsed, because the server subcommand
// stops flag parsing at the first positional (SetInterspersed(false)).
func TestServerArgsPlaceFlagsBeforePositionals(t *testing.T) {
	fl := core.Flags{OutputTerminator: "^EOS$", Prelude: 2, ServerTimeout: 45 * time.Second}
	fp := core.ComputeFingerprint("/bin/mycmd", []string{"-x"}, fl)

	got := serverArgs("/tmp/sock", fp, "/bin/mycmd", []string{"-x"}, fl)
	want := []string{
		"server",
		"-T", "^EOS$", "-P", "2", "-W", "45",
		"/tmp/sock", fp.String(), "/bin/mycmd", "-x",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arg %d: got %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	// The positionals must land exactly where the server subcommand expects
	// them once pflag has consumed the leading flags: socket, hash, program,
	// then untouched child args.
	flagCount := len(flagArgs(fl))
	positionals := got[1+flagCount:]
	if positionals[0] != "/tmp/sock" || positionals[1] != fp.String() || positionals[2] != "/bin/mycmd" || positionals[3] != "-x" {
		t.Fatalf("positionals out of order: %v", positionals)
	}
}

// TestRunSpawnsServerThatParsesForwardedFlags drives runner.Run end to end
// against a real re-exec'd "server" subcommand with non-default framing
// flags, verifying the spawned server actually parses -T/-P/-W rather than
// falling back to defaults and promptly invalidating itself.
func TestRunSpawnsServerThatParsesForwardedFlags(t *testing.T) {
	t.Setenv("VIASOCK_TEST_HELPER", "cat")

	origDir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(origDir) })

	flags := core.Flags{
		InputTerminator:  "^EOS$",
		OutputTerminator: "^EOS$",
		ServerTimeout:    3 * time.Second,
	}

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := Run(ctx, os.Args[0], nil, flags, strings.NewReader("hello\nEOS\n"), &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "hello\nEOS\n" {
		t.Fatalf("got %q, want %q", out.String(), "hello\nEOS\n")
	}
}
