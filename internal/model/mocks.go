package model

import (
	"fmt"
	"sync"
)

// TestLogger is a [Logger] that records every line. It is safe to use
// from multiple goroutines.
type TestLogger struct {
	mu    sync.Mutex
	lines []string
}

var _ Logger = &TestLogger{}

func (tl *TestLogger) append(msg string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.lines = append(tl.lines, msg)
}

// Lines returns a copy of the recorded lines.
func (tl *TestLogger) Lines() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]string, len(tl.lines))
	copy(out, tl.lines)
	return out
}

func (tl *TestLogger) Debug(msg string) {
	tl.append(msg)
}
func (tl *TestLogger) Debugf(format string, v ...any) {
	tl.append(fmt.Sprintf(format, v...))
}
func (tl *TestLogger) Info(msg string) {
	tl.append(msg)
}
func (tl *TestLogger) Infof(format string, v ...any) {
	tl.append(fmt.Sprintf(format, v...))
}
func (tl *TestLogger) Warn(msg string) {
	tl.append(msg)
}
func (tl *TestLogger) Warnf(format string, v ...any) {
	tl.append(fmt.Sprintf(format, v...))
}

func NewTestLogger() *TestLogger {
	return &TestLogger{
		lines: make([]string, 0),
	}
}
