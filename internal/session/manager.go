// Package session implements the connection controller: the state machine
// driving a single tunnel session through Disconnected, Connecting,
// Connected, Disconnecting and Failed.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ooni/sscontrol/internal/accesskey"
	"github.com/ooni/sscontrol/internal/bridge"
	"github.com/ooni/sscontrol/internal/engine"
	"github.com/ooni/sscontrol/internal/metrics"
	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/optional"
	"github.com/ooni/sscontrol/internal/platerrors"
	"github.com/ooni/sscontrol/internal/runtimex"
	"github.com/ooni/sscontrol/internal/store"
	"github.com/ooni/sscontrol/internal/workers"
	"github.com/ooni/sscontrol/pkg/config"
)

// Manager is the connection controller. The zero value is invalid. Please,
// construct using [NewManager]. This struct is concurrency safe.
//
// Engine calls and storage I/O never run while mu is held. The in-flight
// flag is checked and set under mu, so at most one engine connect or
// disconnect call runs at any time.
type Manager struct {
	connectedCode int
	engine        engine.Engine
	logger        model.Logger
	metrics       *metrics.Recorder
	now           func() time.Time
	store         store.Store
	tickInterval  time.Duration
	tracer        model.Tracer

	mu                sync.Mutex
	attemptID         string
	closed            bool
	disconnectWaiters []chan error
	elapsed           model.Elapsed
	inFlight          bool
	lastError         *platerrors.PlatformError
	pendingDisconnect bool
	startedAt         optional.Value[time.Time]
	status            model.Status
	ticker            *workers.Manager

	// tickers tracks every ticker worker ever started.
	tickers sync.WaitGroup

	// persistWant is the value the store should hold; persistGen is bumped
	// on each change. Both are guarded by mu.
	persistWant optional.Value[time.Time]
	persistGen  uint64

	// storeMu serializes store writes; persistDone is guarded by it.
	storeMu     sync.Mutex
	persistDone uint64

	// queue holds pending notifications (guarded by mu); notifyMu is held
	// by the goroutine delivering them.
	queue       []notification
	notifyMu    sync.Mutex
	nextSubID   int
	stateSubs   []stateSubscriber
	elapsedSubs []elapsedSubscriber
}

// NewManager returns a [Manager] in the Disconnected state. Call
// [Manager.Reconcile] to adopt a tunnel that is already up.
func NewManager(cfg *config.Config, eng engine.Engine) *Manager {
	runtimex.Assert(eng != nil, "nil engine")
	return &Manager{
		connectedCode: cfg.ConnectedStatusCode(),
		engine:        eng,
		logger:        cfg.Logger(),
		metrics:       cfg.Metrics(),
		now:           cfg.Now,
		store:         cfg.Store(),
		tickInterval:  cfg.TickInterval(),
		tracer:        cfg.Tracer(),
		status:        model.StatusDisconnected,
		startedAt:     optional.None[time.Time](),
		persistWant:   optional.None[time.Time](),
	}
}

var _ bridge.Handler = &Manager{}

// errClosed is returned by operations on a closed manager.
func errClosed() *platerrors.PlatformError {
	return platerrors.New(platerrors.InternalError, "connection controller is closed")
}

// errInProgress is returned when an engine call is already running.
func errInProgress() *platerrors.PlatformError {
	return platerrors.New(platerrors.OperationInProgress, "another connect or disconnect operation is in progress")
}

// Connect starts the tunnel and blocks until the engine call returns. It
// fails with OperationInProgress, without changing state, while another
// engine call is running. Connecting while Connected is a no-op.
func (m *Manager) Connect(ctx context.Context, key *accesskey.AccessKey) error {
	if key == nil {
		return platerrors.New(platerrors.InvalidConfig, "missing access key")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errClosed()
	}
	if m.inFlight {
		m.metrics.Attempt("rejected")
		m.mu.Unlock()
		m.logger.Warn("session: connect rejected: operation in progress")
		return errInProgress()
	}
	if m.status == model.StatusConnected {
		m.mu.Unlock()
		m.logger.Debug("session: already connected")
		return nil
	}
	m.inFlight = true
	m.lastError = nil
	m.attemptID = uuid.NewString()
	m.logger.Infof("session: connecting to %s (attempt %s)", key.String(), m.attemptID)
	m.transitionLocked(model.StatusConnecting, "connect", nil)
	m.mu.Unlock()
	m.flush()

	err := m.engine.Connect(ctx, key)
	return m.finishConnect(ctx, err)
}

// finishConnect applies the outcome of the engine connect call.
func (m *Manager) finishConnect(ctx context.Context, err error) error {
	m.mu.Lock()
	deferred := m.pendingDisconnect
	waiters := m.disconnectWaiters
	m.pendingDisconnect = false
	m.disconnectWaiters = nil

	if err != nil {
		pe := platerrors.FromBoundary(err)
		m.inFlight = false
		m.setLastErrorLocked(pe)
		m.metrics.Attempt("failure")
		m.transitionLocked(model.StatusFailed, "connect_failed", pe)
		m.mu.Unlock()
		m.flush()
		notifyWaiters(waiters, nil)
		return pe
	}

	if m.status == model.StatusFailed {
		// an error event failed the attempt while the call was running:
		// the engine may have brought the tunnel up anyway.
		failure := m.lastError
		m.metrics.Attempt("failure")
		m.mu.Unlock()
		m.logger.Warn("session: tearing down tunnel of failed attempt")
		if derr := m.engine.Disconnect(context.WithoutCancel(ctx)); derr != nil {
			m.logger.Warnf("session: teardown: %s", platerrors.FromBoundary(derr).Error())
		}
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
		notifyWaiters(waiters, nil)
		if failure == nil {
			return platerrors.New(platerrors.InternalError, "connect attempt failed")
		}
		return failure
	}

	now := m.now()
	m.inFlight = false
	m.startedAt = optional.Some(now)
	m.setPersistLocked(optional.Some(now))
	m.metrics.Attempt("success")
	m.transitionLocked(model.StatusConnected, "connect_succeeded", nil)

	if !deferred {
		m.mu.Unlock()
		m.flush()
		m.syncStore(ctx)
		return nil
	}

	m.inFlight = true
	m.transitionLocked(model.StatusDisconnecting, "deferred_disconnect", nil)
	m.mu.Unlock()
	m.flush()
	m.syncStore(ctx)
	derr := m.runDisconnect(context.WithoutCancel(ctx))
	notifyWaiters(waiters, derr)
	return nil
}

func notifyWaiters(waiters []chan error, err error) {
	for _, ch := range waiters {
		ch <- err
	}
}

// Disconnect tears the tunnel down and blocks until the engine call
// returns. While Connecting, the request is deferred: the running connect
// completes and the disconnect is issued right after it. While Failed
// with a persisted start time (a failed disconnect left the tunnel up) the
// engine call is retried. Otherwise disconnecting while Disconnected or
// Failed is a no-op.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	trigger := "disconnect"
	switch {
	case m.status == model.StatusConnecting:
		ch := make(chan error, 1)
		m.pendingDisconnect = true
		m.disconnectWaiters = append(m.disconnectWaiters, ch)
		m.mu.Unlock()
		m.logger.Info("session: disconnect deferred until connect completes")
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return platerrors.FromBoundary(ctx.Err())
		}
	case m.inFlight:
		m.mu.Unlock()
		m.logger.Warn("session: disconnect rejected: operation in progress")
		return errInProgress()
	case m.status == model.StatusFailed && !m.persistWant.IsNone():
		m.logger.Info("session: retrying disconnect of a tunnel that may still be up")
		trigger = "disconnect_retry"
	case m.status != model.StatusConnected:
		status := m.status
		m.mu.Unlock()
		m.logger.Debugf("session: disconnect while %s: nothing to do", status)
		return nil
	}
	m.inFlight = true
	m.transitionLocked(model.StatusDisconnecting, trigger, nil)
	m.mu.Unlock()
	m.flush()
	return m.runDisconnect(ctx)
}

// runDisconnect calls the engine and applies the outcome. The caller must
// have set the in-flight flag.
func (m *Manager) runDisconnect(ctx context.Context) error {
	err := m.engine.Disconnect(ctx)

	m.mu.Lock()
	m.inFlight = false
	if err != nil {
		pe := platerrors.FromBoundary(err)
		m.setLastErrorLocked(pe)
		m.transitionLocked(model.StatusFailed, "disconnect_failed", pe)
		m.mu.Unlock()
		m.flush()
		return pe
	}
	m.setPersistLocked(optional.None[time.Time]())
	if m.status == model.StatusDisconnecting {
		m.transitionLocked(model.StatusDisconnected, "disconnect_succeeded", nil)
	}
	m.mu.Unlock()
	m.flush()
	m.syncStore(ctx)
	return nil
}

// HandleStatus processes a normalized status event. Only an unsolicited
// "not connected" while Connected changes state; while an engine call is
// running its result is authoritative.
func (m *Manager) HandleStatus(connected bool) {
	m.mu.Lock()
	if connected || m.status != model.StatusConnected {
		m.logger.Debugf("session: status event connected=%v ignored while %s", connected, m.status)
		m.mu.Unlock()
		return
	}
	m.logger.Warn("session: engine reported the tunnel down")
	m.setPersistLocked(optional.None[time.Time]())
	m.transitionLocked(model.StatusDisconnected, "engine_disconnected", nil)
	m.mu.Unlock()
	m.flush()
	m.syncStore(context.Background())
}

// HandleError processes a translated error event. It always updates the
// last error; it fails the running operation while Connecting or
// Disconnecting, and changes nothing else.
func (m *Manager) HandleError(pe *platerrors.PlatformError) {
	if pe == nil {
		pe = platerrors.FromBoundary(nil)
	}
	m.mu.Lock()
	m.setLastErrorLocked(pe)
	switch m.status {
	case model.StatusConnecting, model.StatusDisconnecting:
		m.transitionLocked(model.StatusFailed, "engine_error", pe)
	default:
		m.logger.Warnf("session: engine error while %s: %s", m.status, pe.Error())
	}
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) setLastErrorLocked(pe *platerrors.PlatformError) {
	m.lastError = pe
	m.metrics.Error(string(pe.Code))
}

// Reconcile aligns the controller with the engine at startup. It reads the
// persisted start time and queries the engine once. When the engine is
// connected the controller goes straight to Connected, keeping the
// persisted start time; otherwise a stale persisted value is removed. If
// the engine cannot be queried, a persisted start time alone restores
// Connected, and the classified engine error is returned.
func (m *Manager) Reconcile(ctx context.Context) error {
	persisted := m.readPersisted(ctx)
	status, serr := m.engine.Status(ctx)

	m.mu.Lock()
	if m.closed || m.inFlight || m.status != model.StatusDisconnected {
		m.mu.Unlock()
		m.logger.Debug("session: reconcile skipped: controller already active")
		return nil
	}

	var failure *platerrors.PlatformError
	switch {
	case serr != nil:
		failure = platerrors.FromBoundary(serr)
		m.logger.Warnf("session: cannot query engine status: %s", failure.Error())
		if t, ok := persisted.Get(); ok {
			m.startedAt = optional.Some(t)
			m.transitionLocked(model.StatusConnected, "restored", nil)
		}
	case bridge.Normalize(status, m.connectedCode):
		started := persisted.UnwrapOr(m.now())
		if persisted.IsNone() {
			m.setPersistLocked(optional.Some(started))
		}
		m.startedAt = optional.Some(started)
		m.transitionLocked(model.StatusConnected, "reconciled", nil)
	default:
		if !persisted.IsNone() {
			m.logger.Info("session: removing stale connection start time")
			m.setPersistLocked(optional.None[time.Time]())
		}
	}
	m.mu.Unlock()
	m.flush()
	m.syncStore(ctx)

	if failure != nil {
		return failure
	}
	return nil
}

// State returns a snapshot of the controller state.
func (m *Manager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Elapsed returns the current connection time, zero unless Connected.
func (m *Manager) Elapsed() model.Elapsed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsedLocked()
}

func (m *Manager) elapsedLocked() model.Elapsed {
	t, ok := m.startedAt.Get()
	if !ok || m.status != model.StatusConnected {
		return model.Elapsed{}
	}
	return model.NewElapsed(m.now().Sub(t))
}

func (m *Manager) snapshotLocked() model.ConnectionState {
	return model.ConnectionState{
		Status:            m.status,
		StartedAt:         m.startedAt,
		LastError:         m.lastError,
		OperationInFlight: m.inFlight,
		Elapsed:           m.elapsedLocked(),
	}
}

// transitionLocked moves to the given status, maintaining the invariants
// tied to Connected, and queues a notification.
func (m *Manager) transitionLocked(to model.Status, trigger string, pe *platerrors.PlatformError) {
	from := m.status
	if from == to {
		return
	}
	if from == model.StatusConnected {
		m.stopTickerLocked()
		if t, ok := m.startedAt.Get(); ok {
			m.metrics.SessionEnded(m.now().Sub(t))
		}
	}
	m.status = to
	if to == model.StatusConnected {
		runtimex.Assert(!m.startedAt.IsNone(), "entering connected without a start time")
		m.elapsed = m.elapsedLocked()
		m.startTickerLocked()
	} else {
		m.startedAt = optional.None[time.Time]()
		m.elapsed = model.Elapsed{}
	}

	m.metrics.Transition(from.String(), to.String())
	m.tracer.OnTransition(model.TransitionEvent{
		AttemptID: m.attemptID,
		From:      from,
		To:        to,
		Trigger:   trigger,
		At:        m.tracer.TimeNow(),
		Err:       pe,
	})
	m.logger.Infof("session: %s -> %s (%s)", from, to, trigger)
	m.queueLocked(notification{state: optional.Some(m.snapshotLocked())})
	if to == model.StatusConnected {
		// the first elapsed value is published right away, not on the first tick.
		m.queueLocked(notification{elapsed: optional.Some(m.elapsed)})
	}
}

// Close stops the elapsed-time ticker and waits for it. Further Connect
// calls fail. Close does not disconnect the tunnel.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.stopTickerLocked()
	m.mu.Unlock()
	m.tickers.Wait()
}
