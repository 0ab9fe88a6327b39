package model

import (
	"fmt"
	"time"

	"github.com/ooni/sscontrol/internal/optional"
	"github.com/ooni/sscontrol/internal/platerrors"
)

// Status is the lifecycle status of the tunnel session.
type Status int

const (
	// StatusDisconnected is the initial status.
	StatusDisconnected = Status(iota)

	// StatusConnecting means a connect call is running.
	StatusConnecting

	// StatusConnected means the tunnel is up.
	StatusConnected

	// StatusDisconnecting means a disconnect call is running.
	StatusDisconnecting

	// StatusFailed means the last attempt failed. A new connect recovers.
	StatusFailed
)

var _ fmt.Stringer = Status(0)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnecting:
		return "disconnecting"
	case StatusFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Elapsed is a connection duration split in hours, minutes and seconds.
type Elapsed struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// NewElapsed truncates d to whole seconds and splits it. Negative durations
// (e.g., a clock that went backwards) count as zero.
func NewElapsed(d time.Duration) Elapsed {
	total := int(d / time.Second)
	if total < 0 {
		total = 0
	}
	return Elapsed{
		Hours:   total / 3600,
		Minutes: (total % 3600) / 60,
		Seconds: total % 60,
	}
}

// Duration converts back to a [time.Duration].
func (e Elapsed) Duration() time.Duration {
	return time.Duration(e.Hours)*time.Hour + time.Duration(e.Minutes)*time.Minute +
		time.Duration(e.Seconds)*time.Second
}

// String formats e as HH:MM:SS.
func (e Elapsed) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", e.Hours, e.Minutes, e.Seconds)
}

// ConnectionState is a snapshot of the controller state.
type ConnectionState struct {
	// Status is the current status.
	Status Status `json:"status"`

	// StartedAt is set if and only if Status is StatusConnected.
	StartedAt optional.Value[time.Time] `json:"startedAt"`

	// LastError is the last translated engine error, cleared on every
	// transition into StatusConnecting.
	LastError *platerrors.PlatformError `json:"lastError,omitempty"`

	// OperationInFlight is true while a connect or disconnect call runs.
	OperationInFlight bool `json:"operationInFlight"`

	// Elapsed is the connection time computed at snapshot time.
	Elapsed Elapsed `json:"elapsed"`
}
