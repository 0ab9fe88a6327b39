// Package workers contains code to manage the background goroutines of the
// control plane (elapsed-time tickers, event pumps).
package workers

import (
	"sync"

	"github.com/ooni/sscontrol/internal/model"
)

// Manager coordinates the lifecycles of a group of workers. The zero
// value is invalid; use [NewManager].
type Manager struct {
	// logger is the logger to use.
	logger model.Logger

	// shouldShutdown is closed to signal all workers to shut down.
	shouldShutdown chan any

	// shutdownOnce ensures we close shouldShutdown once.
	shutdownOnce sync.Once

	// wg tracks the running workers.
	wg *sync.WaitGroup
}

// NewManager creates a new manager.
func NewManager(logger model.Logger) *Manager {
	return &Manager{
		logger:         logger,
		shouldShutdown: make(chan any),
		shutdownOnce:   sync.Once{},
		wg:             &sync.WaitGroup{},
	}
}

// StartWorker starts fx in a background goroutine. The worker receives the
// channel that is closed when it should stop.
func (m *Manager) StartWorker(name string, fx func(shouldShutdown <-chan any)) {
	m.wg.Add(1)
	go func() {
		defer func() {
			m.logger.Debugf("%s: done", name)
			m.wg.Done()
		}()
		m.logger.Debugf("%s: started", name)
		fx(m.shouldShutdown)
	}()
}

// StartShutdown initiates the shutdown of all workers. It does not block.
func (m *Manager) StartShutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shouldShutdown)
	})
}

// ShouldShutdown returns the channel closed when workers should shut down.
func (m *Manager) ShouldShutdown() <-chan any {
	return m.shouldShutdown
}

// WaitWorkersShutdown blocks until all workers have shut down.
func (m *Manager) WaitWorkersShutdown() {
	m.wg.Wait()
}
