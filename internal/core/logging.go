package core

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging installs the default slog logger, following the teacher's
// cmd/root.go pattern of a tint console handler. When logPath is set
// (server's -l flag), output goes to a rotating file instead of stderr —
// the server is usually detached by then and has no terminal to write to
// — using lumberjack for the ≈1 MiB / 5-backup rotation spec §6 requires.
func SetupLogging(logPath string) error {
	var w io.Writer = os.Stderr
	useTint := true

	if logPath != "" {
		w = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    1, // megabytes
			MaxBackups: 5,
			Compress:   false,
		}
		useTint = false
	}

	var handler slog.Handler
	if useTint {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.DateTime,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
