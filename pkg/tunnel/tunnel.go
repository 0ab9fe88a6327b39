// Package tunnel contains the public tunnel API.
package tunnel

import (
	"context"
	"strings"
	"time"

	"github.com/ooni/sscontrol/internal/accesskey"
	"github.com/ooni/sscontrol/internal/bridge"
	"github.com/ooni/sscontrol/internal/engine"
	"github.com/ooni/sscontrol/internal/keysource"
	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/platerrors"
	"github.com/ooni/sscontrol/internal/session"
	"github.com/ooni/sscontrol/pkg/config"
)

// We're creating type aliases to expose the internal types on the public API.
type (
	AccessKey       = accesskey.AccessKey
	ConnectionState = model.ConnectionState
	Elapsed         = model.Elapsed
	Engine          = engine.Engine
	PlatformError   = platerrors.PlatformError
	Status          = model.Status
)

// Client drives a single tunnel session over an [Engine].
type Client struct {
	bridge  *bridge.Bridge
	logger  model.Logger
	manager *session.Manager
	timeout time.Duration
}

// Start creates a [Client] and starts consuming the engine events. Call
// [Client.Reconcile] to adopt a tunnel that is already up.
func Start(cfg *config.Config, eng Engine) *Client {
	manager := session.NewManager(cfg, eng)
	b := bridge.New(cfg, eng.Events(), manager)
	b.Start()
	return &Client{
		bridge:  b,
		logger:  cfg.Logger(),
		manager: manager,
		timeout: cfg.File().Engine.Timeout,
	}
}

// ParseAccessKey validates raw, ignoring surrounding whitespace.
func ParseAccessKey(raw string) (*AccessKey, error) {
	return accesskey.Parse(strings.TrimSpace(raw))
}

// ToEnvelope returns the JSON error envelope for err.
func ToEnvelope(err error) string {
	return platerrors.ToEnvelope(err)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Connect obtains the key from src and connects with it.
func (c *Client) Connect(ctx context.Context, src keysource.Source) error {
	key, err := src.AccessKey(ctx)
	if err != nil {
		c.logger.Warnf("tunnel: cannot obtain access key: %s", err.Error())
		return platerrors.FromBoundary(err)
	}
	return c.ConnectAccessKey(ctx, key)
}

// ConnectAccessKey connects with an already parsed key.
func (c *Client) ConnectAccessKey(ctx context.Context, key *AccessKey) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.manager.Connect(ctx, key)
}

// Disconnect stops the tunnel.
func (c *Client) Disconnect(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.manager.Disconnect(ctx)
}

// Reconcile aligns the state with the engine, e.g., after a restart.
func (c *Client) Reconcile(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.manager.Reconcile(ctx)
}

// State returns a snapshot of the connection state.
func (c *Client) State() ConnectionState {
	return c.manager.State()
}

// Subscribe registers fx for state changes.
func (c *Client) Subscribe(fx func(ConnectionState)) (cancel func()) {
	return c.manager.Subscribe(fx)
}

// SubscribeElapsed registers fx for elapsed time updates.
func (c *Client) SubscribeElapsed(fx func(Elapsed)) (cancel func()) {
	return c.manager.SubscribeElapsed(fx)
}

// Close stops event processing and the ticker. It does not disconnect.
func (c *Client) Close() {
	c.bridge.Stop()
	c.manager.Close()
}
