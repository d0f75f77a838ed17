package util

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Log levels, ordered so a numeric comparison decides whether a line is
// gated out by MinLevel.

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l LogLevel) colorize(s string) string {
	switch l {
	case LevelDebug:
		return color.New(color.FgHiBlack).Sprint(s)
	case LevelInfo:
		return color.New(color.FgCyan).Sprint(s)
	case LevelWarn:
		return color.New(color.FgYellow).Sprint(s)
	case LevelError:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	default:
		return s
	}
}

func ParseLogLevel(s string) LogLevel {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type DailyFileLoggerOptions struct {
	BaseDir    string   // usually the directory the settings file lives in
	Dir        string   // defaults to "logs"
	Extension  string   // defaults to "log"
	Prefix     string   // may be empty
	MinLevel   LogLevel
	Stdout     bool // also mirror to stdout, colorized by level
	TimeFormat string
}

// DailyFileLogger writes plain lines to a file that rotates at midnight,
// and optionally mirrors a colorized copy to stdout for interactive runs.
type DailyFileLogger struct {
	mu      sync.Mutex
	opts    DailyFileLoggerOptions
	dateKey string
	file    *os.File
	logger  *log.Logger
}

func NewDailyFileLogger(opts DailyFileLoggerOptions) (*DailyFileLogger, error) {
	if opts.Dir == "" {
		opts.Dir = "logs"
	}
	if opts.Extension == "" {
		opts.Extension = "log"
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.RFC3339
	}

	l := &DailyFileLogger{opts: opts}
	if err := l.rotateIfNeeded(time.Now()); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *DailyFileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.logger = nil
	l.dateKey = ""
	return err
}

func (l *DailyFileLogger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *DailyFileLogger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *DailyFileLogger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *DailyFileLogger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

func (l *DailyFileLogger) logf(level LogLevel, format string, args ...any) {
	if level < l.opts.MinLevel {
		return
	}

	now := time.Now()
	msg := fmt.Sprintf(format, args...)
	plain := fmt.Sprintf("%s [%s] %s", now.Format(l.opts.TimeFormat), level.String(), msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateIfNeeded(now); err != nil {
		log.Printf("logger rotate failed: %v", err)
		log.Print(plain)
		return
	}

	l.logger.Print(plain)
	if l.opts.Stdout {
		fmt.Fprintf(os.Stdout, "%s [%s] %s\n", now.Format(l.opts.TimeFormat), level.colorize(level.String()), msg)
	}
}

func (l *DailyFileLogger) rotateIfNeeded(now time.Time) error {
	dateKey := now.Format("2006-01-02")
	if l.file != nil && l.logger != nil && l.dateKey == dateKey {
		return nil
	}

	logsDir := filepath.Join(l.opts.BaseDir, l.opts.Dir)
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return err
	}

	ext := strings.TrimSpace(l.opts.Extension)
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "log"
	}

	fileName := fmt.Sprintf("%s.%s", dateKey, ext)
	if strings.TrimSpace(l.opts.Prefix) != "" {
		fileName = fmt.Sprintf("%s-%s.%s", l.opts.Prefix, dateKey, ext)
	}
	path := filepath.Join(logsDir, fileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if l.file != nil {
		_ = l.file.Close()
	}

	l.file = f
	l.dateKey = dateKey
	l.logger = log.New(f, "", 0)
	return nil
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

var (
	globalLoggerMu sync.RWMutex
	globalLogger   Logger = nopLogger{}
)

// SetGlobalLogger installs the process-wide Logger used by every package
// that doesn't hold its own reference.
func SetGlobalLogger(l Logger) {
	if l == nil {
		l = nopLogger{}
	}
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = l
}

// L returns the current global Logger.
func L() Logger {
	globalLoggerMu.RLock()
	defer globalLoggerMu.RUnlock()
	return globalLogger
}
