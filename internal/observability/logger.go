package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/couchcryptid/agrosentinel-etl/internal/config"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/lmittmann/tint"
)

const serviceName = "agrosentinel-etl"

// NewLogger builds the service logger and installs it as the slog default.
// LOG_FORMAT=text gets a colourised tint handler; anything else is JSON.
func NewLogger(cfg *config.Config) *slog.Logger {
	if strings.EqualFold(cfg.LogFormat, "text") {
		logger := newTextLogger(os.Stdout, cfg.LogLevel)
		slog.SetDefault(logger)
		return logger
	}
	return sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", serviceName)
}

func newTextLogger(w io.Writer, level string) *slog.Logger {
	h := tint.NewHandler(w, &tint.Options{
		Level:      ParseLevel(level),
		TimeFormat: time.Kitchen,
	})
	return slog.New(h).With("service", serviceName)
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
