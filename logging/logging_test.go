package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"ab-av1-batch/privacy"
)

func TestSetupWritesToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")

	logger, closeFn, err := Setup(logFile, zerolog.InfoLevel, nil)
	if err != nil {
		t.Fatalf("Setup(): %v", err)
	}

	logger.Info().Str("file", "/media/movies/secret.mkv").Msg("converting")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Reading log: %v", err)
	}
	if !strings.Contains(string(data), "converting") {
		t.Errorf("Expected log message in file, got: %s", data)
	}
	// Without an anonymizer the path passes through unchanged.
	if !strings.Contains(string(data), "secret.mkv") {
		t.Errorf("Expected plain path in file, got: %s", data)
	}
}

func TestSetupAnonymizesPaths(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")
	anon := privacy.New("/media/movies", "")

	logger, closeFn, err := Setup(logFile, zerolog.InfoLevel, anon)
	if err != nil {
		t.Fatalf("Setup(): %v", err)
	}

	logger.Info().Str("file", "/media/movies/secret.mkv").Msg("converting")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Reading log: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("Path leaked into log: %s", data)
	}
	if !strings.Contains(string(data), "converting") {
		t.Errorf("Expected log message in file, got: %s", data)
	}
	if !strings.Contains(string(data), ".mkv") {
		t.Errorf("Expected hashed filename keeping its extension, got: %s", data)
	}
}

func TestSetupBadPath(t *testing.T) {
	_, _, err := Setup(filepath.Join(t.TempDir(), "missing", "test.log"), zerolog.InfoLevel, nil)
	if err == nil {
		t.Fatal("Expected an error for an unwritable log path")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Info().Msg("dropped")
}
