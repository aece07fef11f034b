// Package logfile maintains the append-only audit log of backup runs.
//
// Lines are formatted as "<timestamp> [<level>] - <message>". Rotation is
// evaluated once when the log is opened: a file at or above the size
// threshold is moved aside to "<file>.1" (replacing any previous one) and a
// fresh file is started. Growth during a run is not re-checked.
package logfile

import (
	"fmt"
	"os"
	"time"

	"github.com/mweber/tarvault/internal/models"
)

// Level is the severity recorded in an audit line.
type Level string

// Audit log levels.
const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
	LevelSuccess Level = "SUCCESS"
)

const (
	timeLayout  = "2006-01-02 15:04:05"
	logFilePerm = 0o640
	logDirPerm  = 0o750
)

// Logger appends audit lines to the run log file. Writes are best-effort: a
// failure is reported to stderr once and never aborts the backup itself.
type Logger struct {
	file     *os.File
	path     string
	rotated  bool
	warnOnce bool
	now      func() time.Time
}

// Open prepares the audit log: parent directories are created, the
// once-per-run rotation check is applied, and the file is opened for append.
func Open(cfg models.LogSettings) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, logDirPerm); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", cfg.Dir, err)
	}

	path := cfg.Path()
	rotated := false

	if info, err := os.Stat(path); err == nil && info.Size() >= cfg.MaxSizeKB*1024 {
		if err := os.Rename(path, path+".1"); err != nil {
			return nil, fmt.Errorf("rotating log file %s: %w", path, err)
		}
		rotated = true
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, logFilePerm)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}

	return &Logger{file: file, path: path, rotated: rotated, now: time.Now}, nil
}

// Log appends one formatted line.
func (l *Logger) Log(level Level, format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}

	line := fmt.Sprintf("%s [%s] - %s\n", l.now().Format(timeLayout), level, fmt.Sprintf(format, args...))
	if _, err := l.file.WriteString(line); err != nil && !l.warnOnce {
		// Strong operational signal, but never fatal to the run.
		fmt.Fprintf(os.Stderr, "tarvault: cannot write audit log %s: %v\n", l.path, err)
		l.warnOnce = true
	}
}

// Info logs at INFO level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LevelInfo, format, args...)
}

// Warning logs at WARNING level.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LevelWarning, format, args...)
}

// Error logs at ERROR level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LevelError, format, args...)
}

// Success logs the terminal SUCCESS line of a run.
func (l *Logger) Success(format string, args ...interface{}) {
	l.Log(LevelSuccess, format, args...)
}

// Rotated reports whether this open performed a rotation.
func (l *Logger) Rotated() bool {
	return l != nil && l.rotated
}

// Path returns the log file path.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
