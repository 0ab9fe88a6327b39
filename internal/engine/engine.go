// Package engine defines the interface of the native tunnel engine driven by
// the connection controller.
package engine

import (
	"context"

	"github.com/ooni/sscontrol/internal/accesskey"
)

// Names of the events emitted by the native engine.
const (
	// StatusEventName is emitted whenever the OS VPN status changes.
	StatusEventName = "vpn-status-changed"

	// ErrorEventName is emitted for asynchronous engine failures.
	ErrorEventName = "vpnError"
)

// EventKind tells status events from error events.
type EventKind int

const (
	// EventStatus carries a status payload (numeric code, label, or object).
	EventStatus = EventKind(iota)

	// EventError carries an error payload in any of the shapes understood by
	// platerrors.FromBoundary.
	EventError
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return StatusEventName
	case EventError:
		return ErrorEventName
	default:
		return "unknown"
	}
}

// KindFromName maps a wire event name to its kind.
func KindFromName(name string) (EventKind, bool) {
	switch name {
	case StatusEventName:
		return EventStatus, true
	case ErrorEventName:
		return EventError, true
	default:
		return 0, false
	}
}

// Event is an asynchronous notification from the engine. Payload is passed
// through untouched; normalizing it is up to the consumer.
type Event struct {
	Kind    EventKind
	Payload any
}

// Engine is the native tunnel engine. Errors returned by Connect, Disconnect
// and Status may have any shape; callers classify them.
type Engine interface {
	// Connect starts the tunnel to the server described by key and returns
	// once the tunnel is up or the attempt failed.
	Connect(ctx context.Context, key *accesskey.AccessKey) error

	// Disconnect tears down the tunnel.
	Disconnect(ctx context.Context) error

	// Status returns the current engine status in its native shape.
	Status(ctx context.Context) (any, error)

	// Events returns the channel of asynchronous events. The channel is
	// closed when the engine goes away.
	Events() <-chan Event
}
