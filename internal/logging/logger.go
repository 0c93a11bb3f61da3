package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config holds logger configuration
type Config struct {
	Level      string // trace, debug, info, warn, error (default: info)
	OutputFile string // Path to log file (empty = stdout only)
	MaxSize    int64  // Max size in bytes before rotation (default: 10MB)
	MaxBackups int    // Number of old log files to keep (default: 3)
	JSONFormat bool
	Output     io.Writer // Console writer (default: os.Stdout)
}

// Logger is a logrus logger that owns its log file, if any.
type Logger struct {
	*logrus.Logger
	config Config
	file   *os.File
	mu     sync.Mutex
}

// New creates a logrus logger from the given configuration. An existing log
// file over MaxSize is rotated to .1 before it is reopened.
func New(config Config) (*Logger, error) {
	if config.MaxSize == 0 {
		config.MaxSize = 10 * 1024 * 1024 // 10MB
	}
	if config.MaxBackups == 0 {
		config.MaxBackups = 3
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}

	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	l := &Logger{Logger: logrus.New(), config: config}
	l.SetLevel(level)

	if config.JSONFormat {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	writers := []io.Writer{config.Output}

	if config.OutputFile != "" {
		dir := filepath.Dir(config.OutputFile)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}

		if err := l.rotateIfNeeded(); err != nil {
			return nil, fmt.Errorf("failed to rotate logs: %w", err)
		}

		file, err := os.OpenFile(config.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.OutputFile, err)
		}
		l.file = file
		writers = append(writers, file)
	}

	l.SetOutput(io.MultiWriter(writers...))
	return l, nil
}

// ParseLevel maps a config level name to a logrus level. Empty means info.
func ParseLevel(name string) (logrus.Level, error) {
	if strings.TrimSpace(name) == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(strings.ToLower(name))
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// rotateIfNeeded shifts file.N to file.N+1 and the live file to file.1
// when the live file has reached MaxSize.
func (l *Logger) rotateIfNeeded() error {
	info, err := os.Stat(l.config.OutputFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	if info.Size() < l.config.MaxSize {
		return nil
	}

	// Oldest backup falls off the end
	os.Remove(fmt.Sprintf("%s.%d", l.config.OutputFile, l.config.MaxBackups))

	for i := l.config.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", l.config.OutputFile, i)
		newPath := fmt.Sprintf("%s.%d", l.config.OutputFile, i+1)
		if _, err := os.Stat(oldPath); err == nil {
			os.Rename(oldPath, newPath)
		}
	}

	if err := os.Rename(l.config.OutputFile, l.config.OutputFile+".1"); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	return nil
}

// Component returns an entry of logger tagged with the component name.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}

// Close closes the log file if one is open
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
