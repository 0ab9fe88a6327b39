// Package wsengine drives a native tunnel engine helper over a websocket.
//
// The helper speaks a small JSON protocol. Requests are
//
//	{"id": 1, "method": "connect", "params": {"method": "...", "password": "...", "server": "...", "port": 8388}}
//
// and are answered by {"id": 1, "result": ...} or {"id": 1, "error": ...},
// where the error is either an envelope or any payload the native side
// produced. Asynchronous notifications use {"event": "vpn-status-changed",
// "payload": ...} and {"event": "vpnError", "payload": ...}.
package wsengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ooni/sscontrol/internal/accesskey"
	"github.com/ooni/sscontrol/internal/engine"
	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/platerrors"
	"github.com/ooni/sscontrol/internal/workers"
)

var (
	// ErrDial indicates we could not reach the engine helper.
	ErrDial = errors.New("wsengine: dial failed")

	// ErrClosed indicates the connection to the engine helper is gone.
	ErrClosed = errors.New("wsengine: connection closed")

	// ErrProtocol indicates a malformed message from the engine helper.
	ErrProtocol = errors.New("wsengine: protocol error")
)

// eventsBuffer is the capacity of the events channel. The reader blocks
// when it is full, so a consumer must keep draining [Client.Events].
const eventsBuffer = 64

// closeGracePeriod bounds the time spent sending the close frame.
const closeGracePeriod = time.Second

type request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// message is any frame received from the helper.
type message struct {
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Client implements [engine.Engine] on top of a websocket connection.
type Client struct {
	conn           *websocket.Conn
	logger         model.Logger
	workersManager *workers.Manager

	// writeMu serializes writes, as gorilla/websocket requires.
	writeMu sync.Mutex

	// mu guards nextID, pending and closed.
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan message
	closed  bool

	events    chan engine.Event
	closeOnce sync.Once
}

var _ engine.Engine = &Client{}

// Dial connects to the engine helper listening at url (ws:// or wss://).
func Dial(ctx context.Context, url string, logger model.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrDial, url, err.Error())
	}
	return New(conn, logger), nil
}

// New wraps an established websocket connection and starts reading from it.
func New(conn *websocket.Conn, logger model.Logger) *Client {
	c := &Client{
		conn:           conn,
		logger:         logger,
		workersManager: workers.NewManager(logger),
		pending:        map[uint64]chan message{},
		events:         make(chan engine.Event, eventsBuffer),
	}
	c.workersManager.StartWorker("wsengine: reader", c.readLoop)
	return c
}

// Connect implements engine.Engine.
func (c *Client) Connect(ctx context.Context, key *accesskey.AccessKey) error {
	_, err := c.call(ctx, "connect", key.EngineConfig())
	return err
}

// Disconnect implements engine.Engine.
func (c *Client) Disconnect(ctx context.Context) error {
	_, err := c.call(ctx, "disconnect", nil)
	return err
}

// Status implements engine.Engine. The result is the decoded JSON value.
func (c *Client) Status(ctx context.Context) (any, error) {
	raw, err := c.call(ctx, "status", nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: status: %s", ErrProtocol, err.Error())
	}
	return v, nil
}

// Events implements engine.Engine.
func (c *Client) Events() <-chan engine.Event {
	return c.events
}

// Close closes the connection and waits for the reader to exit. Pending
// calls fail with [ErrClosed].
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.workersManager.StartShutdown()
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.workersManager.WaitWorkersShutdown()
	})
	return err
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ch := make(chan message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	defer c.forget(id)

	c.logger.Debugf("wsengine: > %s #%d", method, id)
	if err := c.write(ctx, request{ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		c.logger.Debugf("wsengine: < %s #%d", method, id)
		if hasValue(msg.Error) {
			return nil, decodeError(msg.Error)
		}
		return msg.Result, nil
	}
}

func (c *Client) write(ctx context.Context, req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %s", ErrClosed, err.Error())
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("%w: %s", ErrClosed, err.Error())
	}
	return nil
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// readLoop is the only reader of the connection. It routes responses to the
// pending calls and events to the events channel, which it closes on exit.
func (c *Client) readLoop(shouldShutdown <-chan any) {
	defer func() {
		c.failPending()
		close(c.events)
	}()
	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-shouldShutdown:
			default:
				c.logger.Warnf("wsengine: read: %s", err.Error())
			}
			return
		}
		switch {
		case msg.Event != "":
			if !c.dispatchEvent(msg, shouldShutdown) {
				return
			}
		case msg.ID != nil:
			c.dispatchResponse(*msg.ID, msg)
		default:
			c.logger.Warn("wsengine: ignoring message with neither id nor event")
		}
	}
}

func (c *Client) dispatchEvent(msg message, shouldShutdown <-chan any) bool {
	kind, ok := engine.KindFromName(msg.Event)
	if !ok {
		c.logger.Warnf("wsengine: ignoring unknown event %q", msg.Event)
		return true
	}
	var payload any
	if hasValue(msg.Payload) {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			payload = string(msg.Payload)
		}
	}
	select {
	case c.events <- engine.Event{Kind: kind, Payload: payload}:
		return true
	case <-shouldShutdown:
		return false
	}
}

func (c *Client) dispatchResponse(id uint64, msg message) {
	c.mu.Lock()
	ch := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ch == nil {
		c.logger.Warnf("wsengine: response for unknown call #%d", id)
		return
	}
	ch <- msg
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func hasValue(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// decodeError turns the error member of a response into a PlatformError.
func decodeError(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return platerrors.FromBoundary(string(raw))
	}
	return platerrors.FromBoundary(v)
}
