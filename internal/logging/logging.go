// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`   // optional rotating log file

	FileMaxSizeMB  int `yaml:"file_max_size_mb"`
	FileMaxBackups int `yaml:"file_max_backups"`
	FileMaxAgeDays int `yaml:"file_max_age_days"`
}

// Manager owns the log level and the optional log file.
type Manager struct {
	level  *slog.LevelVar
	closer io.Closer
}

// New returns a Manager and a logger writing to console, and to the
// configured file when one is set.
func New(cfg Config, console io.Writer) (*Manager, *slog.Logger) {
	lvl := &slog.LevelVar{}
	lvl.Set(ParseLevel(cfg.Level))

	m := &Manager{level: lvl}
	w := console
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.FileMaxSizeMB, 100),
			MaxBackups: orDefault(cfg.FileMaxBackups, 3),
			MaxAge:     orDefault(cfg.FileMaxAgeDays, 30),
		}
		m.closer = lj
		w = io.MultiWriter(console, lj)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return m, slog.New(h)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// SetLevel changes the level at runtime.
func (m *Manager) SetLevel(s string) { m.level.Set(ParseLevel(s)) }

// Level returns the current level.
func (m *Manager) Level() slog.Level { return m.level.Level() }

// Close releases the log file, if any.
func (m *Manager) Close() error {
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}

// ParseLevel converts a string to slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
