// Package logging provides the structured logger used across every Hermes
// subsystem.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger so callers depend on a Hermes-owned type
// instead of the logging library directly.
type Logger struct {
	*logrus.Logger
}

// Config controls level, format and output destination for a Logger.
type Config struct {
	Level      string `yaml:"level" env:"HERMES_LOG_LEVEL"`
	Format     string `yaml:"format" env:"HERMES_LOG_FORMAT"`
	Output     string `yaml:"output" env:"HERMES_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"HERMES_LOG_FILE_PREFIX"`
}

// New builds a Logger from Config.
func New(cfg Config) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "hermes"
		}
		logDir := "logs"
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			l.Errorf("create log directory: %v", err)
			break
		}
		path := filepath.Join(logDir, prefix+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.Errorf("open log file: %v", err)
			break
		}
		l.SetOutput(io.MultiWriter(os.Stdout, f))
	default:
		l.SetOutput(os.Stdout)
	}

	return &Logger{Logger: l}
}

// NewDefault returns a text-formatted, info-level logger writing to stdout.
// The subsystem name is not attached to the returned logger's entries.
func NewDefault(subsystem string) *Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)
	logger := &Logger{Logger: l}
	if subsystem == "" {
		return logger
	}
	return &Logger{Logger: l.WithField("subsystem", subsystem).Logger}
}

// WithField returns a log entry carrying one structured field.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields returns a log entry carrying several structured fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}
