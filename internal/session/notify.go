package session

import (
	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/optional"
)

// notification is either a state snapshot or an elapsed-time update.
type notification struct {
	state   optional.Value[model.ConnectionState]
	elapsed optional.Value[model.Elapsed]
}

type stateSubscriber struct {
	id int
	fx func(model.ConnectionState)
}

type elapsedSubscriber struct {
	id int
	fx func(model.Elapsed)
}

// Subscribe registers fx to receive a snapshot after every transition, in
// transition order, at most once per transition. Callbacks run outside the
// controller lock and may call back into the [Manager]; they should return
// quickly. The returned function cancels the subscription.
func (m *Manager) Subscribe(fx func(model.ConnectionState)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.stateSubs = append(m.stateSubs, stateSubscriber{id: id, fx: fx})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.stateSubs {
			if s.id == id {
				m.stateSubs = append(m.stateSubs[:i:i], m.stateSubs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeElapsed registers fx to receive the elapsed time when entering
// Connected and on every tick while Connected.
func (m *Manager) SubscribeElapsed(fx func(model.Elapsed)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.elapsedSubs = append(m.elapsedSubs, elapsedSubscriber{id: id, fx: fx})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.elapsedSubs {
			if s.id == id {
				m.elapsedSubs = append(m.elapsedSubs[:i:i], m.elapsedSubs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) queueLocked(n notification) {
	m.queue = append(m.queue, n)
}

// flush delivers the queued notifications in order. Only one goroutine
// delivers at a time; a goroutine that finds delivery in progress leaves
// its notifications to the current deliverer, which checks the queue again
// after releasing notifyMu. This also makes re-entrant calls from a
// callback safe.
func (m *Manager) flush() {
	for {
		if !m.notifyMu.TryLock() {
			return
		}
		m.drain()
		m.notifyMu.Unlock()

		m.mu.Lock()
		empty := len(m.queue) == 0
		m.mu.Unlock()
		if empty {
			return
		}
	}
}

// drain must be called with notifyMu held.
func (m *Manager) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		n := m.queue[0]
		m.queue = m.queue[1:]
		stateSubs := append([]stateSubscriber(nil), m.stateSubs...)
		elapsedSubs := append([]elapsedSubscriber(nil), m.elapsedSubs...)
		m.mu.Unlock()

		if st, ok := n.state.Get(); ok {
			for _, s := range stateSubs {
				s.fx(st)
			}
		}
		if el, ok := n.elapsed.Get(); ok {
			for _, s := range elapsedSubs {
				s.fx(el)
			}
		}
	}
}
