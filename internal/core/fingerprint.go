package core

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
)

// Fingerprint is the 128-bit digest identifying a (program, args, framing,
// timeouts, log) configuration, folding in the mtimes of any path-like
// arguments so that a file update changes the fingerprint (spec §3).
//
// crypto/md5 is used because the spec specifies the digest width exactly
// (128 bits, md5.Size*8) and this is a content-identity key, not a
// security boundary; no pack dependency offers a non-cryptographic 128-bit
// hash that fits as directly.
type Fingerprint [md5.Size]byte

// String renders the fingerprint as lowercase hex, the form used for the
// socket file name (spec §6).
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// ComputeFingerprint hashes the program path, its arguments (each folded
// together with the mtime of that argument if it names an existing path,
// else 0), and the framing/timeout/log configuration that must agree
// between runner-spawned server and client.
func ComputeFingerprint(program string, args []string, fl Flags) Fingerprint {
	h := md5.New()

	writeField := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}

	writeField(program)
	writeField(mtimeOf(program))
	for _, a := range args {
		writeField(a)
		writeField(mtimeOf(a))
	}
	writeField(fl.InputTerminator)
	writeField(fl.OutputTerminator)
	writeField(strconv.Itoa(fl.Prelude))
	writeField(fl.ProcessTimeout.String())
	writeField(fl.ServerTimeout.String())
	writeField(fl.LogPath)

	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// ParseFingerprint parses the hex digest the runner passes as the
// server's positional "hash" argument (spec §6 CLI table).
func ParseFingerprint(s string) (Fingerprint, error) {
	var out Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(out) {
		return out, fmt.Errorf("core: invalid fingerprint %q", s)
	}
	copy(out[:], b)
	return out, nil
}

// mtimeOf returns the decimal modification time of path if it names an
// existing file, or "0" otherwise. Arguments that are not paths at all
// (flags, literal values) almost never collide with an existing file, so
// this stays a safe, cheap approximation of "path-like argument" without
// requiring the caller to mark which arguments are paths.
func mtimeOf(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "0"
	}
	return strconv.FormatInt(info.ModTime().UnixNano(), 10)
}
