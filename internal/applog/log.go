package applog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
)

type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
}

func New(level Level) *Logger {
	return &Logger{out: os.Stderr, level: level}
}

// NewWithWriter keeps diagnostic output capturable in tests.
func NewWithWriter(w io.Writer, level Level) *Logger {
	return &Logger{out: w, level: level}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.printf(LevelDebug, "DEBUG", format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.printf(LevelInfo, "INFO", format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.printf(LevelWarn, "WARN", format, args...)
}

func (l *Logger) printf(level Level, tag string, format string, args ...any) {
	if l == nil || l.out == nil || level < l.level {
		return
	}
	line := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintf(l.out, "[%s] %s\n", tag, line)
}
