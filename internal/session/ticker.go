package session

import (
	"time"

	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/optional"
	"github.com/ooni/sscontrol/internal/workers"
)

// startTickerLocked starts a fresh ticker for the current Connected period.
func (m *Manager) startTickerLocked() {
	m.stopTickerLocked()
	wm := workers.NewManager(m.logger)
	m.ticker = wm
	interval := m.tickInterval
	m.tickers.Add(1)
	wm.StartWorker("session: elapsed ticker", func(shouldShutdown <-chan any) {
		defer m.tickers.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-shouldShutdown:
				return
			case <-t.C:
				m.tick(wm)
			}
		}
	})
}

// stopTickerLocked signals the current ticker to stop without waiting.
func (m *Manager) stopTickerLocked() {
	if m.ticker == nil {
		return
	}
	m.ticker.StartShutdown()
	m.ticker = nil
}

// tick recomputes the elapsed time. Ticks of a retired ticker are dropped.
func (m *Manager) tick(wm *workers.Manager) {
	m.mu.Lock()
	if m.ticker != wm || m.status != model.StatusConnected {
		m.mu.Unlock()
		return
	}
	m.elapsed = m.elapsedLocked()
	m.queueLocked(notification{elapsed: optional.Some(m.elapsed)})
	m.mu.Unlock()
	m.flush()
}
