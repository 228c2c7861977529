// Package logging builds the zerolog loggers used across treemap.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the level and output format.
type Config struct {
	Level  string // trace, debug, info, warn, error; default info
	Format string // "console" (default) or "json"
}

// ParseLevel maps a level name to a zerolog level. The empty string is info.
func ParseLevel(name string) (zerolog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("logging: unknown level %q", name)
	}
	return lvl, nil
}

// New returns a timestamped logger tagged with app, writing to stdout, and
// installs it as the global zerolog logger.
func New(app string, cfg Config) (zerolog.Logger, error) {
	return NewTo(os.Stdout, app, cfg)
}

// NewTo is New writing to w.
func NewTo(w io.Writer, app string, cfg Config) (zerolog.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	var out io.Writer
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
		out = w
	default:
		return zerolog.Nop(), fmt.Errorf("logging: unknown format %q", cfg.Format)
	}
	logger := zerolog.New(out).Level(lvl).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger, nil
}

// Time runs fn and logs how long it took, at info on success and at error on
// failure. The result of fn is passed through.
func Time[T any](logger zerolog.Logger, msg string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg(msg + " failed")
		return v, err
	}
	logger.Info().Dur("duration", time.Since(start)).Msg(msg)
	return v, nil
}
