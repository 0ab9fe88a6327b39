package vpntest

import (
	"context"
	"sync"
	"time"

	"github.com/ooni/sscontrol/internal/accesskey"
	"github.com/ooni/sscontrol/internal/engine"
	"github.com/ooni/sscontrol/internal/runtimex"
)

// Engine is a scriptable [engine.Engine]. Nil funcs succeed immediately;
// a nil StatusFunc reports status 0 (disconnected).
type Engine struct {
	// ConnectFunc is called by Connect.
	ConnectFunc func(ctx context.Context, key *accesskey.AccessKey) error

	// DisconnectFunc is called by Disconnect.
	DisconnectFunc func(ctx context.Context) error

	// StatusFunc is called by Status.
	StatusFunc func(ctx context.Context) (any, error)

	mu              sync.Mutex
	connectCalls    int
	disconnectCalls int
	statusCalls     int
	lastKey         *accesskey.AccessKey

	events    chan engine.Event
	closeOnce sync.Once
}

var _ engine.Engine = &Engine{}

// NewEngine returns an [Engine] with a buffered events channel.
func NewEngine() *Engine {
	return &Engine{
		events: make(chan engine.Event, 128),
	}
}

// Connect implements engine.Engine.
func (e *Engine) Connect(ctx context.Context, key *accesskey.AccessKey) error {
	e.mu.Lock()
	e.connectCalls++
	e.lastKey = key
	fx := e.ConnectFunc
	e.mu.Unlock()
	if fx == nil {
		return nil
	}
	return fx(ctx, key)
}

// Disconnect implements engine.Engine.
func (e *Engine) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	e.disconnectCalls++
	fx := e.DisconnectFunc
	e.mu.Unlock()
	if fx == nil {
		return nil
	}
	return fx(ctx)
}

// Status implements engine.Engine.
func (e *Engine) Status(ctx context.Context) (any, error) {
	e.mu.Lock()
	e.statusCalls++
	fx := e.StatusFunc
	e.mu.Unlock()
	if fx == nil {
		return 0, nil
	}
	return fx(ctx)
}

// Events implements engine.Engine.
func (e *Engine) Events() <-chan engine.Event {
	return e.events
}

// Emit sends an event to the consumer.
func (e *Engine) Emit(kind engine.EventKind, payload any) {
	e.events <- engine.Event{Kind: kind, Payload: payload}
}

// EmitSequence emits the events described by seq (see
// [NewTestEventFromString]), sleeping for each inter-arrival time.
func (e *Engine) EmitSequence(seq []string) {
	for _, s := range seq {
		te, err := NewTestEventFromString(s)
		runtimex.PanicOnError(err, "bad test event")
		e.events <- te.Event
		if te.IAT > 0 {
			time.Sleep(te.IAT)
		}
	}
}

// CloseEvents closes the events channel, as a vanishing engine would.
func (e *Engine) CloseEvents() {
	e.closeOnce.Do(func() {
		close(e.events)
	})
}

// ConnectCalls returns how many times Connect was called.
func (e *Engine) ConnectCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectCalls
}

// DisconnectCalls returns how many times Disconnect was called.
func (e *Engine) DisconnectCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnectCalls
}

// StatusCalls returns how many times Status was called.
func (e *Engine) StatusCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusCalls
}

// LastKey returns the key passed to the last Connect call.
func (e *Engine) LastKey() *accesskey.AccessKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastKey
}

// Gate blocks a fake engine call until released.
type Gate struct {
	entered chan struct{}
	release chan error
}

// NewGate creates a [Gate].
func NewGate() *Gate {
	return &Gate{
		entered: make(chan struct{}, 16),
		release: make(chan error, 1),
	}
}

// Wait records the entry and blocks until [Gate.Release] or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.entered <- struct{}{}
	select {
	case err := <-g.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entered returns a channel receiving a value each time a call enters.
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

// Release unblocks one waiting call, making it return err.
func (g *Gate) Release(err error) {
	g.release <- err
}
