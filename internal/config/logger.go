package config

import (
	"errors"
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu      sync.Mutex
	logWriters = map[string]*lumberjack.Logger{}
)

// NewLogger returns a logger for component with a "[component] " prefix.
// Loggers for the same file share one rotating writer.
func NewLogger(cfg LogConfig, component string) *log.Logger {
	return log.New(LogWriter(cfg), "["+component+"] ", log.LstdFlags)
}

// LogWriter returns the destination configured by cfg.
func LogWriter(cfg LogConfig) io.Writer {
	if cfg.Quiet {
		return io.Discard
	}
	if cfg.File == "" {
		return os.Stderr
	}

	logMu.Lock()
	defer logMu.Unlock()
	if w, ok := logWriters[cfg.File]; ok {
		return w
	}
	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	logWriters[cfg.File] = w
	return w
}

// CloseLogs closes every rotating log file opened by LogWriter.
func CloseLogs() error {
	logMu.Lock()
	defer logMu.Unlock()
	var errs []error
	for name, w := range logWriters {
		errs = append(errs, w.Close())
		delete(logWriters, name)
	}
	return errors.Join(errs...)
}
