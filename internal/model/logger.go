// Package model contains common data models shared by the control plane
// packages: the logger and tracer interfaces, the connection status, and
// the connection state snapshot.
package model

// Logger is the generic logger definition. It is satisfied by apex/log's
// [log.Interface] and by [TestLogger].
type Logger interface {
	// Debug emits a debug message.
	Debug(msg string)

	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Info emits an informational message.
	Info(msg string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Warn emits a warning message.
	Warn(msg string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)
}
