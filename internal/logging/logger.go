package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	serviceName  = "cityping"
	defaultLevel = zerolog.InfoLevel
)

// New writes console output for the local environment and JSON elsewhere.
func New(environment, level string) (zerolog.Logger, error) {
	return NewWithWriter(writerFor(environment), level)
}

func NewWithWriter(writer io.Writer, level string) (zerolog.Logger, error) {
	parsed, err := parseLevel(level)
	if err != nil {
		return zerolog.Logger{}, err
	}
	ctx := zerolog.New(writer).Level(parsed).With().Timestamp().Str("service", serviceName)
	if parsed <= zerolog.DebugLevel {
		ctx = ctx.Caller()
	}
	return ctx.Logger(), nil
}

// Component tags every event with the subsystem that emitted it.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

func writerFor(environment string) io.Writer {
	if !strings.EqualFold(strings.TrimSpace(environment), "local") {
		return os.Stdout
	}
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
}

func parseLevel(raw string) (zerolog.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return defaultLevel, nil
	}
	parsed, err := zerolog.ParseLevel(normalized)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse LOG_LEVEL=%q: %w", raw, err)
	}
	return parsed, nil
}
