// Package vpntest provides utilities for control plane testing.
package vpntest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ooni/sscontrol/internal/engine"
)

// TestEvent is used to simulate engine events. The goal is to be able to
// have a compact representation of a sequence of events, their kind, their
// payload and the inter-arrival time.
type TestEvent struct {
	// Event is the engine event.
	Event engine.Event

	// IAT is the inter-arrival time until the next event is emitted.
	IAT time.Duration
}

var errBadTestEvent = errors.New("vpntest: bad test event")

// NewTestEventFromString parses a test event in the form
//
//	"[KIND] PAYLOAD +42ms"
//
// where KIND is status or error, PAYLOAD is decoded as JSON when possible
// (and kept as a string otherwise), and the inter-arrival time is optional.
func NewTestEventFromString(s string) (*TestEvent, error) {
	body, iatStr, hasIAT := cutLast(s, " +")

	head, payloadStr, _ := strings.Cut(strings.TrimSpace(body), " ")
	var kind engine.EventKind
	switch strings.Trim(head, "[]") {
	case "status":
		kind = engine.EventStatus
	case "error":
		kind = engine.EventError
	default:
		return nil, fmt.Errorf("%w: unknown kind in %q", errBadTestEvent, s)
	}

	var payload any
	payloadStr = strings.TrimSpace(payloadStr)
	if payloadStr != "" {
		if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
			payload = payloadStr
		}
	}

	te := &TestEvent{Event: engine.Event{Kind: kind, Payload: payload}}
	if hasIAT {
		iat, err := time.ParseDuration(iatStr)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse IAT: %s", errBadTestEvent, err.Error())
		}
		te.IAT = iat
	}
	return te, nil
}

// cutLast is like strings.Cut but splits around the last separator.
func cutLast(s, sep string) (string, string, bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+len(sep):], true
}
