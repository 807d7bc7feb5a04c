package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

func New() zerolog.Logger {
	return NewWithConfig("info", true, false)
}

func NewWithConfig(level string, pretty, noColor bool) zerolog.Logger {
	return newLogger(os.Stdout, level, pretty, noColor)
}

func newLogger(out io.Writer, level string, pretty, noColor bool) zerolog.Logger {
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    noColor,
		}
	}

	log := zerolog.New(out).With().Timestamp().Str("service", "review-service").Logger()

	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}

	return log.Level(parsed)
}
