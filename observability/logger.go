// Package observability holds the logging and metrics shared by counterd's
// transports.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const EnvLogLevel = "COUNTERD_LOG_LEVEL"

type LogConfig struct {
	Level  string
	Pretty bool
}

// InitLogger builds the process logger and installs it as the zerolog global.
func InitLogger(app string, cfg LogConfig) zerolog.Logger {
	logger := NewLogger(os.Stdout, app, cfg)
	log.Logger = logger
	return logger
}

// NewLogger builds a logger writing to out. COUNTERD_LOG_LEVEL wins over cfg.Level.
func NewLogger(out io.Writer, app string, cfg LogConfig) zerolog.Logger {
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	level, ok := ParseLevel(os.Getenv(EnvLogLevel))
	if !ok {
		level, ok = ParseLevel(cfg.Level)
	}
	if !ok {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("app", app).Logger()
}

// TestLogger routes log output through t.Log at debug level.
func TestLogger(t zerolog.TestingLog) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
