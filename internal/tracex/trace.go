// Package tracex implements a [model.Tracer] that records the connection
// controller transitions for later inspection.
package tracex

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/optional"
	"github.com/ooni/sscontrol/internal/platerrors"
)

// Event is a recorded transition.
type Event struct {
	// transition is the original event.
	transition model.TransitionEvent

	// deltaTime is the time elapsed since the tracer zero time.
	deltaTime time.Duration
}

func newEvent(ev model.TransitionEvent, t0 time.Time) Event {
	return Event{
		transition: ev,
		deltaTime:  ev.At.Sub(t0),
	}
}

// Transition returns the underlying transition.
func (e Event) Transition() model.TransitionEvent {
	return e.transition
}

// Delta returns the event time relative to the tracer start.
func (e Event) Delta() time.Duration {
	return e.deltaTime
}

// MarshalJSON implements json.Marshaler
func (e Event) MarshalJSON() ([]byte, error) {
	var failure optional.Value[*platerrors.PlatformError]
	if e.transition.Err != nil {
		failure = optional.Some(e.transition.Err)
	}
	j := struct {
		AttemptID string                                    `json:"attempt_id,omitempty"`
		From      string                                    `json:"from"`
		To        string                                    `json:"to"`
		Trigger   string                                    `json:"trigger"`
		Time      time.Time                                 `json:"t"`
		Delta     float64                                   `json:"t0"`
		Failure   optional.Value[*platerrors.PlatformError] `json:"failure"`
	}{
		AttemptID: e.transition.AttemptID,
		From:      e.transition.From.String(),
		To:        e.transition.To.String(),
		Trigger:   e.transition.Trigger,
		Time:      e.transition.At,
		Delta:     e.deltaTime.Seconds(),
		Failure:   failure,
	}
	return json.Marshal(j)
}

// Tracer implements [model.Tracer].
type Tracer struct {
	// events is an array of transition events.
	events []Event

	// mu guards access to the events.
	mu sync.Mutex

	// zeroTime is the time when we started tracing.
	zeroTime time.Time

	// now returns the current time.
	now func() time.Time
}

var _ model.Tracer = &Tracer{}

// NewTracer returns a Tracer with the passed start time.
func NewTracer(start time.Time) *Tracer {
	return &Tracer{
		zeroTime: start,
		now:      time.Now,
	}
}

// NewTracerWithClock is like [NewTracer] but uses now as clock.
func NewTracerWithClock(start time.Time, now func() time.Time) *Tracer {
	return &Tracer{
		zeroTime: start,
		now:      now,
	}
}

// TimeNow allows to manipulate time for deterministic tests.
func (t *Tracer) TimeNow() time.Time {
	return t.now()
}

// OnTransition is called for each transition in the state machine.
func (t *Tracer) OnTransition(ev model.TransitionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.At.IsZero() {
		ev.At = t.now()
	}
	t.events = append(t.events, newEvent(ev, t.zeroTime))
}

// Trace returns a copy of the recorded events.
func (t *Tracer) Trace() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// MarshalJSON implements json.Marshaler by emitting the array of events.
func (t *Tracer) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Trace())
}
