package logging

// Package logging configures the process-wide zerolog logger. Logs go to a
// file because the terminal belongs to the TUI.

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"ab-av1-batch/privacy"
)

// sanitizingWriter rewrites path-looking substrings before they reach the
// underlying writer. Applied to the whole serialized line so paths inside
// captured subprocess output get caught too.
type sanitizingWriter struct {
	w    io.Writer
	anon *privacy.Anonymizer
}

func (s sanitizingWriter) Write(p []byte) (int, error) {
	clean := s.anon.Sanitize(string(p))
	if _, err := s.w.Write([]byte(clean)); err != nil {
		return 0, err
	}
	// Report the original length; the rewrite may change it.
	return len(p), nil
}

// Setup opens the log file and returns a configured logger plus a close
// function. When anon is non-nil every line is scrubbed of paths.
func Setup(logFile string, level zerolog.Level, anon *privacy.Anonymizer) (zerolog.Logger, func() error, error) {
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
	}

	var w io.Writer = f
	if anon != nil {
		w = sanitizingWriter{w: f, anon: anon}
	}

	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()

	zerolog.TimeFieldFormat = time.RFC3339

	return logger, f.Close, nil
}

// Discard returns a logger that drops everything, for tests and headless
// dry runs.
func Discard() zerolog.Logger {
	return zerolog.Nop()
}
