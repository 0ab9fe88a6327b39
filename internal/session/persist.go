package session

import (
	"context"
	"strconv"
	"time"

	"github.com/ooni/sscontrol/internal/optional"
)

// StartTimeKey is the store key holding the connection start time, as
// decimal unix milliseconds.
const StartTimeKey = "vpnConnectionStartTime"

// setPersistLocked records the value the store should hold. The write
// happens later, outside mu, in syncStore.
func (m *Manager) setPersistLocked(v optional.Value[time.Time]) {
	m.persistWant = v
	m.persistGen++
}

// syncStore writes the latest wanted value, if not written yet. Writers are
// serialized, so the store always converges to the last wanted value.
// Failures are logged and retried by the next sync.
func (m *Manager) syncStore(ctx context.Context) {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	m.mu.Lock()
	want, gen := m.persistWant, m.persistGen
	m.mu.Unlock()
	if gen == m.persistDone {
		return
	}

	ctx = context.WithoutCancel(ctx)
	var err error
	if t, ok := want.Get(); ok {
		err = m.store.Set(ctx, StartTimeKey, formatStartTime(t))
	} else {
		err = m.store.Remove(ctx, StartTimeKey)
	}
	if err != nil {
		m.logger.Warnf("session: cannot persist start time: %s", err.Error())
		return
	}
	m.persistDone = gen
}

// readPersisted returns the persisted start time. Unreadable or malformed
// values count as absent.
func (m *Manager) readPersisted(ctx context.Context) optional.Value[time.Time] {
	raw, found, err := m.store.Get(ctx, StartTimeKey)
	if err != nil {
		m.logger.Warnf("session: cannot read start time: %s", err.Error())
		return optional.None[time.Time]()
	}
	if !found {
		return optional.None[time.Time]()
	}
	t, err := parseStartTime(raw)
	if err != nil {
		m.logger.Warnf("session: ignoring malformed start time %q", raw)
		return optional.None[time.Time]()
	}
	return optional.Some(t)
}

func formatStartTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func parseStartTime(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
