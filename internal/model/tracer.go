package model

import (
	"time"

	"github.com/ooni/sscontrol/internal/platerrors"
)

// Tracer observes the controller transitions. A Tracer can be optionally
// added to the config, and the controller will register every transition.
type Tracer interface {
	// TimeNow allows to inject time for deterministic tests.
	TimeNow() time.Time

	// OnTransition is called for each transition in the state machine.
	OnTransition(event TransitionEvent)
}

// TransitionEvent describes one transition of the state machine.
type TransitionEvent struct {
	// AttemptID identifies the connect attempt the transition belongs to.
	AttemptID string

	// From is the status before the transition.
	From Status

	// To is the status after the transition.
	To Status

	// Trigger is a short label for what caused the transition.
	Trigger string

	// At is when the transition happened.
	At time.Time

	// Err is the error that caused the transition, if any.
	Err *platerrors.PlatformError
}

// DummyTracer is a no-op implementation of [Tracer].
type DummyTracer struct{}

var _ Tracer = DummyTracer{}

// TimeNow implements Tracer.
func (dt DummyTracer) TimeNow() time.Time {
	return time.Now()
}

// OnTransition implements Tracer.
func (dt DummyTracer) OnTransition(TransitionEvent) {}
