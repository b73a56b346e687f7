package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// badgerLogger sends badger logs to slog, one record per line.
type badgerLogger struct{}

func (badgerLogger) log(level slog.Level, f string, details ...any) {
	for line := range strings.SplitSeq(fmt.Sprintf(f, details...), "\n") {
		if line != "" {
			slog.Log(context.Background(), level, "badger", "msg", line)
		}
	}
}

func (l badgerLogger) Errorf(f string, details ...any) {
	l.log(slog.LevelError, f, details...)
}

func (l badgerLogger) Warningf(f string, details ...any) {
	l.log(slog.LevelWarn, f, details...)
}

// Infof logs at debug level.
func (l badgerLogger) Infof(f string, details ...any) {
	l.log(slog.LevelDebug, f, details...)
}

func (l badgerLogger) Debugf(f string, details ...any) {
	l.log(slog.LevelDebug, f, details...)
}
