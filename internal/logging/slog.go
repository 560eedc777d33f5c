package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	opLogger.Store(logger)
}

// Op returns the operational logger for daemon/infrastructure logs: broker
// connects, scratch-dir setup, metrics/health server lifecycle. It is
// separate from RunLogger, which records one line per completed RunRequest
// (see logger.go's RunLog).
func Op() *slog.Logger {
	return opLogger.Load()
}

// OpForRun returns the operational logger annotated with the request id and
// queue of an in-flight RunRequest, so a failure logged mid-handling (e.g.
// broker completion or audit-record errors in cmdproxyserver.Server.complete)
// can be correlated with the RunLog line RunLogger eventually writes for the
// same request id.
func OpForRun(requestID, queue string) *slog.Logger {
	return opLogger.Load().With("request_id", requestID, "queue", queue)
}

// SetLevel changes the log level for the operational logger.
// Valid levels: slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the log level from a string.
// Valid values: "debug", "info", "warn", "error"
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR":
		logLevel.Set(slog.LevelError)
	}
}
