// Package logging builds the logrus loggers used across the engine.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var validFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Config defines console logging.
type Config struct {
	// Level is a logrus level name, e.g. "info" or "debug".
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// Format is either "text" or "json".
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// DefaultConfig logs at info level in text format.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text"}
}

// Validate checks the level and format names.
func (c Config) Validate() error {
	if _, err := parseLevel(c.Level); err != nil {
		return err
	}
	if c.Format != "" && !validFormats[strings.ToLower(c.Format)] {
		return fmt.Errorf("unknown log format %q: use \"text\" or \"json\"", c.Format)
	}
	return nil
}

// New builds a logger writing to out (stderr when nil).
func New(cfg Config, out io.Writer) (*logrus.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stderr
	}

	level, _ := parseLevel(cfg.Level)

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger, nil
}

// Discard returns a logger that drops everything. Components use it when
// no logger is supplied.
func Discard() *logrus.Logger {
	return &logrus.Logger{
		Out:       io.Discard,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.PanicLevel,
	}
}

// OrDiscard returns l, or a discarding logger if l is nil.
func OrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return Discard()
	}
	return l
}

func parseLevel(level string) (logrus.Level, error) {
	if level == "" {
		return logrus.InfoLevel, nil
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	return parsed, nil
}
