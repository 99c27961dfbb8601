package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Manager owns logger configuration and the optional log file lifecycle.
type Manager struct {
	mu     sync.RWMutex
	logger *slog.Logger
	file   *os.File
}

func NewManager() *Manager {
	m := &Manager{}
	m.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	return m
}

// Configure replaces the active handler. An empty filePath logs to stdout
// only; otherwise output is mirrored to the file as well.
func (m *Manager) Configure(level, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}

	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	writer := io.Writer(os.Stdout)
	if filePath != "" {
		cleanPath := filepath.Clean(filePath)
		// #nosec G304 -- path comes from the user's own configuration.
		file, err := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		m.file = file
		writer = newMirrorWriter(os.Stdout, file)
	}

	m.logger = slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(m.logger)

	return nil
}

func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logger.With("component", component)
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return err
		}
		m.file = nil
	}

	return nil
}

func parseLevel(raw string) (slog.Leveler, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return nil, fmt.Errorf("unsupported log level: %q", raw)
	}
}

// mirrorWriter duplicates writes to every destination and fails soft: a
// broken destination must not take down logging to the others.
type mirrorWriter struct {
	writers []io.Writer
}

func newMirrorWriter(writers ...io.Writer) io.Writer {
	kept := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			kept = append(kept, w)
		}
	}

	return &mirrorWriter{writers: kept}
}

func (w *mirrorWriter) Write(p []byte) (int, error) {
	var (
		wroteAny bool
		firstErr error
	)

	for _, dst := range w.writers {
		n, err := dst.Write(p)
		switch {
		case err != nil:
			if firstErr == nil {
				firstErr = err
			}
		case n != len(p):
			if firstErr == nil {
				firstErr = io.ErrShortWrite
			}
		default:
			wroteAny = true
		}
	}

	if !wroteAny && firstErr != nil {
		return 0, firstErr
	}

	return len(p), nil
}
