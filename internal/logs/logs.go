// Package logs configures the default slog logger. Import it for its side effect.
package logs

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LevelEnv is the environment variable selecting the log level: debug, info, warn or error.
const LevelEnv = "NETBATCH_LOG_LEVEL"

func init() {
	slog.SetDefault(slog.New(NewHandler(os.Getenv(LevelEnv))))
}

// NewHandler returns the colored handler used by every netbatch binary.
func NewHandler(level string) slog.Handler {
	return tint.NewHandler(os.Stderr, &tint.Options{
		Level:      ParseLevel(level),
		TimeFormat: time.DateTime,
		NoColor:    os.Getenv("NO_COLOR") != "",
	})
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
