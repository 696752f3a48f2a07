package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewSetsLevelAndFormat(t *testing.T) {
	log := New(Config{Level: "debug", Format: "json", Output: "stdout"})
	if log.GetLevel().String() != "debug" {
		t.Fatalf("expected level debug, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSONFormatter, got %T", log.Formatter)
	}
}

func TestNewFallsBackToInfoOnInvalidLevel(t *testing.T) {
	log := New(Config{Level: "not-a-level", Format: "text", Output: "stdout"})
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
}

func TestNewCreatesLogFile(t *testing.T) {
	originalWD, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(originalWD) })

	temp := t.TempDir()
	if err := os.Chdir(temp); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	log := New(Config{Level: "info", Format: "text", Output: "file", FilePrefix: "test"})
	log.Info("hello")

	path := filepath.Join("logs", "test.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log file to contain data")
	}
}

func TestNewDefaultIsInfoLevelText(t *testing.T) {
	log := NewDefault("engine")
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("expected TextFormatter, got %T", log.Formatter)
	}
}

func TestWithFieldAndWithFields(t *testing.T) {
	log := NewDefault("")
	entry := log.WithField("application", "app-1")
	if entry.Data["application"] != "app-1" {
		t.Fatalf("WithField data = %v, want application=app-1", entry.Data)
	}

	entries := log.WithFields(logrus.Fields{"a": 1, "b": 2})
	if entries.Data["a"] != 1 || entries.Data["b"] != 2 {
		t.Fatalf("WithFields data = %v, want a=1 b=2", entries.Data)
	}
}
