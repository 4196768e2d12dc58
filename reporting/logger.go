package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents logging severity
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT
)

// LogLevelNames maps levels to strings
var LogLevelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel converts "debug", "info", "warn" or "error" to a LogLevel
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Module    string `json:"module,omitempty"`
	Message   string `json:"message"`
}

// Options configures a Logger
type Options struct {
	Level LogLevel
	// File enables file output, rotated by size.
	File       string
	JSON       bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Console receives colored output; defaults to stdout.
	Console io.Writer
}

// sink is shared between a logger and its module children
type sink struct {
	mu       sync.Mutex
	console  io.Writer
	file     io.WriteCloser
	jsonMode bool
	callback func(LogLevel, string)
}

// Logger provides structured leveled logging
type Logger struct {
	level  LogLevel
	module string
	sink   *sink
}

// NewLogger creates a new Logger instance
func NewLogger(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = color.Output
	}

	s := &sink{
		console:  console,
		jsonMode: opts.JSON,
	}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		f.Close()

		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 50
		}
		s.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
	}

	return &Logger{level: opts.Level, sink: s}, nil
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{
		level: SILENT,
		sink:  &sink{console: io.Discard},
	}
}

// OrNop returns l, or a discarding logger when l is nil
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// WithModule creates a child logger with a module tag
func (l *Logger) WithModule(module string) *Logger {
	return &Logger{
		level:  l.level,
		module: module,
		sink:   l.sink,
	}
}

// Level returns the minimum level that is written
func (l *Logger) Level() LogLevel {
	return l.level
}

// Close closes the log file
func (l *Logger) Close() {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file != nil {
		l.sink.file.Close()
		l.sink.file = nil
	}
}

// SetCallback sets a function to be called on every log entry
func (l *Logger) SetCallback(cb func(LogLevel, string)) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.callback = cb
}

// Debug logs a debug-level message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs an info-level message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a warning-level message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs an error-level message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// Success logs a success message (at INFO level with green color)
func (l *Logger) Success(format string, args ...interface{}) {
	if l.level > INFO {
		return
	}
	msg := fmt.Sprintf(format, args...)

	l.sink.mu.Lock()
	color.New(color.FgGreen, color.Bold).Fprint(l.sink.console, "[+] ")
	fmt.Fprintln(l.sink.console, msg)
	l.writeToFile(INFO, msg)
	l.sink.mu.Unlock()
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	l.sink.mu.Lock()

	var levelColor *color.Color
	switch level {
	case DEBUG:
		levelColor = color.New(color.FgWhite)
	case INFO:
		levelColor = color.New(color.FgBlue, color.Bold)
	case WARN:
		levelColor = color.New(color.FgYellow, color.Bold)
	default:
		levelColor = color.New(color.FgRed, color.Bold)
	}

	prefix := fmt.Sprintf("[%s]", LogLevelNames[level])
	if l.module != "" {
		prefix = fmt.Sprintf("[%s][%s]", LogLevelNames[level], l.module)
	}
	levelColor.Fprintf(l.sink.console, "%s ", prefix)
	fmt.Fprintln(l.sink.console, msg)

	l.writeToFile(level, msg)

	cb := l.sink.callback
	l.sink.mu.Unlock() // callbacks may log themselves
	if cb != nil {
		cb(level, msg)
	}
}

// writeToFile expects sink.mu to be held
func (l *Logger) writeToFile(level LogLevel, msg string) {
	if l.sink.file == nil {
		return
	}
	if l.sink.jsonMode {
		entry := LogEntry{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Level:     LogLevelNames[level],
			Module:    l.module,
			Message:   msg,
		}
		data, _ := json.Marshal(entry)
		fmt.Fprintln(l.sink.file, string(data))
		return
	}

	ts := time.Now().UTC().Format("2006-01-02 15:04:05")
	if l.module != "" {
		fmt.Fprintf(l.sink.file, "%s [%s][%s] %s\n", ts, LogLevelNames[level], l.module, msg)
	} else {
		fmt.Fprintf(l.sink.file, "%s [%s] %s\n", ts, LogLevelNames[level], msg)
	}
}
