// Package ulogger provides the structured logger used throughout the pool
// server, wrapping rs/zerolog behind a small interface so call sites never
// depend on zerolog directly.
package ulogger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is implemented by every logger this service passes around.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	// With returns a child logger that tags every line with the given
	// key/value pairs, e.g. With("conn", connID).
	With(keyvals ...interface{}) Logger
}

type zeroLogger struct {
	zerolog.Logger
	service string
}

// New builds a service-scoped logger. logLevel defaults to "info" when
// omitted; pretty controls whether output is human-formatted (true, the
// default for interactive use) or single-line JSON (false, for production
// log aggregation).
func New(service string, logLevel string, pretty bool) Logger {
	if service == "" {
		service = "poolsrv"
	}

	var l zerolog.Logger
	if pretty {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		out.FormatMessage = func(i interface{}) string {
			return paddedf("%-6s", service) + " " + padded(i)
		}
		l = zerolog.New(out).With().Timestamp().Logger()
	} else {
		l = zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
	}

	l = l.Level(levelFromString(logLevel))

	return &zeroLogger{Logger: l, service: service}
}

func levelFromString(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

func padded(i interface{}) string {
	if s, ok := i.(string); ok {
		return s
	}
	return ""
}

func paddedf(format, s string) string {
	if len(s) >= 6 {
		return s
	}
	return format[:2] + s + strings.Repeat(" ", 6-len(s))
}

func (z *zeroLogger) Debugf(format string, args ...interface{}) { z.Logger.Debug().Msgf(format, args...) }
func (z *zeroLogger) Infof(format string, args ...interface{})  { z.Logger.Info().Msgf(format, args...) }
func (z *zeroLogger) Warnf(format string, args ...interface{})  { z.Logger.Warn().Msgf(format, args...) }
func (z *zeroLogger) Errorf(format string, args ...interface{}) { z.Logger.Error().Msgf(format, args...) }
func (z *zeroLogger) Fatalf(format string, args ...interface{}) { z.Logger.Fatal().Msgf(format, args...) }

func (z *zeroLogger) With(keyvals ...interface{}) Logger {
	ctx := z.Logger.With()
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		ctx = ctx.Interface(key, keyvals[i+1])
	}
	return &zeroLogger{Logger: ctx.Logger(), service: z.service}
}
