package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"
)

// LogLevel represents the log level
type LogLevel int

const (
	// DEBUG level
	DEBUG LogLevel = iota
	// INFO level
	INFO
	// WARN level
	WARN
	// ERROR level
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var levelColors = map[LogLevel]string{
	DEBUG: "\033[90m",
	INFO:  "\033[32m",
	WARN:  "\033[33m",
	ERROR: "\033[31m",
}

// String returns the level name
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Logger writes leveled lines to a size-rotated file and optionally the console
type Logger struct {
	level       LogLevel
	file        *os.File
	console     io.Writer
	filePath    string
	maxSize     int64 // bytes, 0 disables rotation
	maxBackups  int
	currentSize int64
	mu          sync.Mutex
}

// LoggerConfig represents the configuration for the logger
type LoggerConfig struct {
	Level LogLevel
	// Empty FilePath logs to the console only
	FilePath string
	// Megabytes
	MaxSize    int
	MaxBackups int
	Console    bool
}

// DefaultConfig returns a console-only logger configuration
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      INFO,
		MaxSize:    10,
		MaxBackups: 5,
		Console:    true,
	}
}

// New creates a new logger
func New(config LoggerConfig) (*Logger, error) {
	l := &Logger{
		level:      config.Level,
		filePath:   config.FilePath,
		maxSize:    int64(config.MaxSize) * 1024 * 1024,
		maxBackups: config.MaxBackups,
	}
	if config.Console || config.FilePath == "" {
		l.console = os.Stdout
	}

	if config.FilePath == "" {
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	l.file = file
	l.currentSize = info.Size()
	return l, nil
}

// newWithWriter builds a logger that writes plain lines to w, used by tests
func newWithWriter(level LogLevel, w io.Writer) *Logger {
	return &Logger{level: level, console: w}
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	// log <- Logger.Info <- package Info <- caller
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		file = "unknown"
		line = 0
	}
	file = filepath.Base(file)

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)

	if l.console != nil {
		entry := fmt.Sprintf("%s [%s%s\033[0m] %s:%d: %s\n", timestamp, levelColors[level], level, file, line, msg)
		if _, err := io.WriteString(l.console, entry); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write log: %v\n", err)
		}
	}

	if l.file == nil {
		return
	}

	entry := fmt.Sprintf("%s [%s] %s:%d: %s\n", timestamp, level, file, line, msg)
	n, err := io.WriteString(l.file, entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to write log: %v\n", err)
		return
	}
	l.currentSize += int64(n)

	if l.maxSize > 0 && l.currentSize >= l.maxSize {
		l.rotate()
	}
}

// rotate moves the current file aside under a timestamped name and reopens
func (l *Logger) rotate() {
	l.file.Close()

	dir := filepath.Dir(l.filePath)
	base := filepath.Base(l.filePath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	backupPath := filepath.Join(dir, fmt.Sprintf("%s.%s%s", name, time.Now().Format("20060102-150405"), ext))

	if err := os.Rename(l.filePath, backupPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to rotate log file: %v\n", err)
	}
	l.cleanOldLogs()

	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create new log file: %v\n", err)
		l.file = nil
		return
	}
	l.file = file
	l.currentSize = 0
}

func (l *Logger) cleanOldLogs() {
	dir := filepath.Dir(l.filePath)
	base := filepath.Base(l.filePath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]

	matches, err := filepath.Glob(filepath.Join(dir, name+".*"+ext))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to find old log files: %v\n", err)
		return
	}
	if len(matches) <= l.maxBackups {
		return
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	backups := make([]backup, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		backups = append(backups, backup{match, info.ModTime()})
	}

	// oldest first
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.Before(backups[j].modTime)
	})

	for i := 0; i < len(backups)-l.maxBackups; i++ {
		os.Remove(backups[i].path)
	}
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs info level messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs warning level messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs error level messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// Close closes the log file if one is open
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
