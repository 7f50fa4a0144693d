// Package logging sets up structured logging and the composite log sinks
// that back it: stdout always, plus an optional log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sammwyy/mindns-go/internal/config"
)

// Sink is a minimal write target, matching the teacher's own habit of
// modeling I/O destinations as the narrowest interface that does the job.
type Sink interface {
	io.Writer
}

// TeeSink fans writes out to a primary and a secondary sink. Only the
// primary's error is returned; secondary failures are swallowed (but still
// attempted) since losing the file sink must never block stdout logging.
type TeeSink struct {
	Primary   Sink
	Secondary Sink
}

// NewTeeSink builds a TeeSink from two sinks.
func NewTeeSink(primary, secondary Sink) *TeeSink {
	return &TeeSink{Primary: primary, Secondary: secondary}
}

// Write implements io.Writer, returning the primary sink's result.
func (t *TeeSink) Write(p []byte) (int, error) {
	n, err := t.Primary.Write(p)
	if t.Secondary != nil {
		_, _ = t.Secondary.Write(p)
	}
	return n, err
}

// LogFilePath computes the destination for the configured [logs] section.
// In "dir" mode it reproduces the source's numbering scheme: the smallest
// positive integer N such that "<path>/YYYY-MM-DD-N.log" doesn't yet exist.
func LogFilePath(cfg config.LogSettings) (string, error) {
	switch cfg.SaveAs {
	case "file":
		return config.ResolvePath(cfg.Path)
	case "dir":
		dir, err := config.ResolvePath(cfg.Path)
		if err != nil {
			return "", err
		}
		day := time.Now().Format("2006-01-02")
		n := 1
		for {
			candidate := filepath.Join(dir, fmt.Sprintf("%s-%d.log", day, n))
			if _, err := os.Stat(candidate); os.IsNotExist(err) {
				return candidate, nil
			}
			n++
		}
	default:
		return "", nil
	}
}

// Setup builds the process-wide slog logger per the [logs] config section:
// stdout JSON logging always, additionally teed to a file when save_as is
// "file" or "dir".
func Setup(cfg config.LogSettings) (*slog.Logger, func() error, error) {
	var closeFile func() error = func() error { return nil }
	var out io.Writer = os.Stdout

	path, err := LogFilePath(cfg)
	if err != nil {
		return nil, closeFile, err
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, closeFile, fmt.Errorf("logging: mkdir %s: %w", filepath.Dir(path), err)
		}
		f, err := os.Create(path) // #nosec G304
		if err != nil {
			return nil, closeFile, fmt.Errorf("logging: create %s: %w", path, err)
		}
		out = NewTeeSink(f, os.Stdout)
		closeFile = f.Close
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger, closeFile, nil
}
