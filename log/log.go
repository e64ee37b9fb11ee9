// Package log defines the leveled logger used across gobreak and a plain
// writer-backed implementation of it.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger is the logging surface components accept. Implementations must be
// safe for concurrent use.
type Logger interface {
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Info(args ...interface{})
	Debug(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

// New returns a Logger that writes timestamped lines to w.
func New(w io.Writer) Logger {
	return &writerLogger{writer: w}
}

// Default returns a Logger writing to stderr.
func Default() Logger {
	return New(os.Stderr)
}

type writerLogger struct {
	mu     sync.Mutex
	writer io.Writer
}

var _ Logger = &writerLogger{}

func (l *writerLogger) Infof(format string, args ...interface{}) {
	l.writeLog("INFO", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Debugf(format string, args ...interface{}) {
	l.writeLog("DEBUG", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Warnf(format string, args ...interface{}) {
	l.writeLog("WARN", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Errorf(format string, args ...interface{}) {
	l.writeLog("ERROR", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Info(args ...interface{}) {
	l.writeLog("INFO", fmt.Sprint(args...))
}

func (l *writerLogger) Debug(args ...interface{}) {
	l.writeLog("DEBUG", fmt.Sprint(args...))
}

func (l *writerLogger) Warn(args ...interface{}) {
	l.writeLog("WARN", fmt.Sprint(args...))
}

func (l *writerLogger) Error(args ...interface{}) {
	l.writeLog("ERROR", fmt.Sprint(args...))
}

func (l *writerLogger) writeLog(level string, msg string) {
	now := time.Now().Format("2006-01-02 15:04:05")

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "%s %s %s\n", now, level, msg)
}
