// Package sysutil holds process-level setup shared by the server commands.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel configures the global zerolog level. Supported values
// (case-insensitive): debug, info, warn/warning, error, fatal, panic.
// Anything else, including "", selects info.
func SetLogLevel(lvl string) {
	zerolog.SetGlobalLevel(ParseLevel(lvl))
}

// ParseLevel maps a level name to a zerolog.Level, defaulting to info.
func ParseLevel(lvl string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogOptions configures ConfigureLogging.
type LogOptions struct {
	Level   string
	Pretty  bool      // human-readable console output
	Service string    // added as "service" on every line
	Out     io.Writer // defaults to os.Stdout
}

// ConfigureLogging installs the global logger used by log.* and by
// log.Ctx for contexts without a request logger.
func ConfigureLogging(o LogOptions) zerolog.Logger {
	out := o.Out
	if out == nil {
		out = os.Stdout
	}
	if o.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	SetLogLevel(o.Level)

	ctx := zerolog.New(out).With().Timestamp()
	if o.Service != "" {
		ctx = ctx.Str("service", o.Service)
	}
	log.Logger = ctx.Logger()
	zerolog.DefaultContextLogger = &log.Logger
	return log.Logger
}
