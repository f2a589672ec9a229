package core

import (
	"os"
	"path/filepath"
)

const (
	// CacheDirName is the socket cache directory, rooted at the invoking
	// working directory (spec §6).
	CacheDirName = ".viasock"
	socketsSubdir = "sockets"
)

// SocketDir returns (creating if necessary) the per-working-directory
// socket cache directory.
func SocketDir() (string, error) {
	dir := filepath.Join(CacheDirName, socketsSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// SocketPath returns the socket filesystem path for the given fingerprint,
// named by its lowercase hex digest (spec §6).
func SocketPath(fp Fingerprint) (string, error) {
	dir, err := SocketDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fp.String()), nil
}
