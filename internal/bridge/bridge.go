// Package bridge turns the raw events of the tunnel engine into normalized
// status and error notifications, delivered in arrival order.
package bridge

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/ooni/sscontrol/internal/engine"
	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/platerrors"
	"github.com/ooni/sscontrol/internal/workers"
	"github.com/ooni/sscontrol/pkg/config"
)

// connectedLabel is the status label meaning connected, compared
// case-insensitively.
const connectedLabel = "connected"

// Handler consumes normalized events. The connection controller
// implements this interface.
type Handler interface {
	HandleStatus(connected bool)
	HandleError(err *platerrors.PlatformError)
}

// Normalize reports whether a status payload means "connected". That is the
// case for a number equal to connectedCode, a label equal to "connected"
// (ignoring case and surrounding spaces), the boolean true, or an object
// whose "connected", "status", "statusText" or "state" member satisfies one
// of the previous rules. Every other shape means not connected.
//
// Numbers may be of any integer kind, an integral float, a [json.Number],
// or a decimal string: some engine bridges stringify the OS status enum, so
// "3" counts like 3.
func Normalize(payload any, connectedCode int) bool {
	switch v := payload.(type) {
	case bool:
		return v
	case int, int8, int16, int32, int64:
		return reflect.ValueOf(v).Int() == int64(connectedCode)
	case uint, uint8, uint16, uint32, uint64, uintptr:
		return connectedCode >= 0 && reflect.ValueOf(v).Uint() == uint64(connectedCode)
	case float64:
		return isExactly(v, connectedCode)
	case float32:
		return isExactly(float64(v), connectedCode)
	case json.Number:
		n, err := v.Int64()
		return err == nil && n == int64(connectedCode)
	case string:
		return normalizeText(v, connectedCode)
	case []byte:
		return normalizeText(string(v), connectedCode)
	case map[string]any:
		return normalizeObject(v, connectedCode)
	default:
		return false
	}
}

func isExactly(f float64, code int) bool {
	return !math.IsNaN(f) && f == math.Trunc(f) && f == float64(code)
}

func normalizeText(s string, connectedCode int) bool {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, connectedLabel) {
		return true
	}
	n, err := strconv.Atoi(s)
	return err == nil && n == connectedCode
}

func normalizeObject(m map[string]any, connectedCode int) bool {
	if b, ok := m["connected"].(bool); ok {
		return b
	}
	for _, key := range []string{"status", "state"} {
		if v, ok := m[key]; ok && Normalize(v, connectedCode) {
			return true
		}
	}
	if s, ok := m["statusText"].(string); ok {
		return strings.EqualFold(strings.TrimSpace(s), connectedLabel)
	}
	return false
}

// Bridge pumps engine events into a [Handler] from a single goroutine, so
// the handler observes them in arrival order.
type Bridge struct {
	connectedCode  int
	events         <-chan engine.Event
	handler        Handler
	logger         model.Logger
	workersManager *workers.Manager
}

// New creates a [Bridge]. Call [Bridge.Start] to begin pumping.
func New(cfg *config.Config, events <-chan engine.Event, handler Handler) *Bridge {
	return &Bridge{
		connectedCode:  cfg.ConnectedStatusCode(),
		events:         events,
		handler:        handler,
		logger:         cfg.Logger(),
		workersManager: workers.NewManager(cfg.Logger()),
	}
}

// Start starts the event pump.
func (b *Bridge) Start() {
	b.workersManager.StartWorker("bridge: event pump", b.pump)
}

// Stop stops the event pump and waits for it to exit.
func (b *Bridge) Stop() {
	b.workersManager.StartShutdown()
	b.workersManager.WaitWorkersShutdown()
}

func (b *Bridge) pump(shouldShutdown <-chan any) {
	for {
		select {
		case <-shouldShutdown:
			return
		case ev, ok := <-b.events:
			if !ok {
				b.logger.Warn("bridge: engine events channel closed")
				return
			}
			b.Dispatch(ev)
		}
	}
}

// Dispatch normalizes a single event and hands it to the handler.
func (b *Bridge) Dispatch(ev engine.Event) {
	switch ev.Kind {
	case engine.EventStatus:
		connected := Normalize(ev.Payload, b.connectedCode)
		b.logger.Debugf("bridge: %s %v => connected=%v", ev.Kind, ev.Payload, connected)
		b.handler.HandleStatus(connected)
	case engine.EventError:
		pe := platerrors.FromBoundary(ev.Payload)
		b.logger.Debugf("bridge: %s => %s", ev.Kind, pe.Error())
		b.handler.HandleError(pe)
	default:
		b.logger.Warnf("bridge: ignoring event of unknown kind %d", int(ev.Kind))
	}
}
