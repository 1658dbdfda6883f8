package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// timestampLayout matches the run log's line prefix format.
const timestampLayout = "2006-01-02 15:04:05"

// FileLogger appends timestamped, line-oriented messages to a log file.
// The file is opened in append mode and never truncated or rotated here;
// rotation is the installer's concern.
type FileLogger struct {
	mu   sync.Mutex
	w    io.WriteCloser
	echo Logger
	now  func() time.Time
}

// NewFileLogger opens (or creates) the log file at path for appending.
// If echo is non-nil, every message is also forwarded to it.
func NewFileLogger(path string, echo Logger) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", path, err)
	}
	return &FileLogger{w: f, echo: echo, now: time.Now}, nil
}

// NewFileLoggerWithWriter wraps an arbitrary writer; used in tests.
func NewFileLoggerWithWriter(w io.WriteCloser, echo Logger) *FileLogger {
	return &FileLogger{w: w, echo: echo, now: time.Now}
}

func (f *FileLogger) write(level, format string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return
	}
	line := fmt.Sprintf("%s [%s] %s\n", f.now().Format(timestampLayout), level, fmt.Sprintf(format, args...))
	// Append failures are swallowed: the run must not die because the log
	// sink is full or locked.
	io.WriteString(f.w, line)
}

// Info logs an informational message.
func (f *FileLogger) Info(format string, args ...interface{}) {
	f.write("INFO", format, args...)
	if f.echo != nil {
		f.echo.Info(format, args...)
	}
}

// Warning logs a warning message.
func (f *FileLogger) Warning(format string, args ...interface{}) {
	f.write("WARNING", format, args...)
	if f.echo != nil {
		f.echo.Warning(format, args...)
	}
}

// Error logs an error message.
func (f *FileLogger) Error(format string, args ...interface{}) {
	f.write("ERROR", format, args...)
	if f.echo != nil {
		f.echo.Error(format, args...)
	}
}

// Close closes the underlying file. Safe to call multiple times.
func (f *FileLogger) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return nil
	}
	err := f.w.Close()
	f.w = nil
	return err
}

var _ Logger = (*FileLogger)(nil)
