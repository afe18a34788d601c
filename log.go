package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"

	"github.com/dgnsrekt/streamtts/internal/config"
)

var (
	logMu   sync.Mutex
	logFile *os.File
)

// setupLog sends logs to stderr until the configuration is known. The
// returned function closes the log file, if one was opened.
func setupLog() (func() error, error) {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)
	return func() error {
		logMu.Lock()
		defer logMu.Unlock()
		if logFile == nil {
			return nil
		}
		err := logFile.Close()
		logFile = nil
		return err
	}, nil
}

// configureLog applies the log section of the configuration.
func configureLog(cfg config.LogConfig, debug bool) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	if debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetReportTimestamp(cfg.Timestamps)

	if cfg.File == "" {
		return nil
	}
	path := cfg.File
	if !filepath.IsAbs(path) {
		dir, err := gap.NewScope(gap.User, config.AppName).DataPath("")
		if err != nil {
			return fmt.Errorf("unable to find log directory: %w", err)
		}
		path = filepath.Join(dir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("unable to open log file: %w", err)
	}

	logMu.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logMu.Unlock()

	log.SetOutput(f)
	log.SetReportTimestamp(true)
	log.Debug("logging to file", "path", path)
	return nil
}
