package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog.Logger and owns the log file writer.
type Logger struct {
	logger   zerolog.Logger
	file     *RotatingWriter
	filePath string
}

// Config holds logger configuration.
type Config struct {
	Level     string // debug, info, warn, error
	Dir       string // log directory; empty disables file output
	Console   bool   // write to stdout
	Pretty    bool   // human-readable console output
	Redaction bool   // mask secrets in every line
	MaxSize   int    // MB before the daily file rotates
	Compress  bool   // gzip rotated files
	Now       func() time.Time
}

// DailyLogName returns the log file name for day t (UTC).
func DailyLogName(t time.Time) string {
	return t.UTC().Format("2006-01-02") + ".log"
}

// New creates a logger and installs it as the global zerolog logger.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var writers []io.Writer

	if cfg.Console {
		var consoleWriter io.Writer = os.Stdout
		if cfg.Pretty {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, consoleWriter)
	}

	var (
		file     *RotatingWriter
		filePath string
	)
	if cfg.Dir != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = 100
		}
		filePath = filepath.Join(cfg.Dir, DailyLogName(cfg.Now()))
		file, err = NewRotatingWriter(filePath, maxSize, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}

	if cfg.Redaction {
		writer = NewRedactor().Wrap(writer)
	}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger

	return &Logger{
		logger:   logger,
		file:     file,
		filePath: filePath,
	}, nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// FilePath returns the active log file, or "" when file output is disabled.
func (l *Logger) FilePath() string {
	return l.filePath
}

// Component returns a child logger tagged with a component field.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// GetZerolog returns the underlying zerolog.Logger.
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		Compress:  true,
	}
}
