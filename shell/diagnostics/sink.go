// Package diagnostics is the shell's single log destination. Every line is written as
//
//	[YYYY-MM-DD HH:MM:SS] <message> key=value...
//
// to the console and appended to a log file. Other packages receive the sink as a
// *slog.Logger and never touch zerolog or the file directly.
package diagnostics

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	timestampLayout   = "2006-01-02 15:04:05"
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
)

// Config holds diagnostics sink options.
type Config struct {
	File       string    // Log file path. Empty disables the file.
	Console    io.Writer // Optional, defaults to os.Stdout
	Level      string    // Optional, defaults to "info"
	MaxSizeMB  int       // Optional, defaults to 10
	MaxBackups int       // Optional, defaults to 3
}

// Sink fans diagnostics out to the console and the log file.
type Sink struct {
	file   *lumberjack.Logger
	zl     zerolog.Logger
	logger *slog.Logger
}

// New creates a Sink. The log file is opened lazily on the first write.
func New(cfg Config) (*Sink, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("diagnostics: invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	s := &Sink{}
	out := console
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = defaultMaxSizeMB
		}
		backups := cfg.MaxBackups
		if backups <= 0 {
			backups = defaultMaxBackups
		}
		s.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: backups,
		}
		// Console first: a broken log file must not swallow console output.
		out = io.MultiWriter(console, s.file)
	}

	s.zl = zerolog.New(newLineWriter(out)).Level(level).With().Timestamp().Logger()
	s.logger = slog.New(NewSlogHandler(s.zl))
	return s, nil
}

// Logger returns the slog view of the sink.
func (s *Sink) Logger() *slog.Logger {
	return s.logger
}

// Close flushes and closes the log file.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// DefaultLogPath returns the log file location for an app. Development builds log to a
// fixed path under /tmp so the file is easy to tail; everything else uses the OS temp dir.
func DefaultLogPath(appName string, development bool, goos string) string {
	if development {
		if goos == "windows" {
			return filepath.Join(os.TempDir(), appName+"-dev.log")
		}
		return filepath.Join("/tmp", appName+"-dev.log")
	}
	return filepath.Join(os.TempDir(), appName+".log")
}

func newLineWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    true,
		PartsOrder: []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName},
		FormatTimestamp: func(i interface{}) string {
			raw, _ := i.(string)
			ts, err := time.Parse(zerolog.TimeFieldFormat, raw)
			if err != nil {
				return "[" + raw + "]"
			}
			return "[" + ts.Local().Format(timestampLayout) + "]"
		},
		FormatLevel: func(i interface{}) string {
			switch i {
			case zerolog.LevelWarnValue:
				return "WARN:"
			case zerolog.LevelErrorValue, zerolog.LevelFatalValue, zerolog.LevelPanicValue:
				return "ERROR:"
			}
			return ""
		},
	}
}
