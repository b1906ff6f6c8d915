// Package network tracks the candidate's connectivity and reports only
// online/offline edges.
package network

import (
	"context"
	"sync"
	"time"
)

// Change is a connectivity edge.
type Change struct {
	Online bool
	At     time.Time
}

// Monitor is an edge-triggered connectivity detector. Repeated signals for
// the current state are dropped.
type Monitor struct {
	now func() time.Time

	mu      sync.Mutex
	online  bool
	since   time.Time
	changes int
}

// NewMonitor creates a Monitor in the given initial state.
func NewMonitor(online bool, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	return &Monitor{now: now, online: online, since: now()}
}

// Signal records an observation and reports the edge, if any.
func (m *Monitor) Signal(online bool) (Change, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return Change{}, false
	}
	m.online = online
	m.since = m.now()
	m.changes++
	return Change{Online: online, At: m.since}, true
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Since returns when the current state began.
func (m *Monitor) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.since
}

// Changes returns the number of edges observed.
func (m *Monitor) Changes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changes
}

// Watch feeds signals into the monitor until ctx ends or the channel closes,
// calling onChange for each edge in order.
func (m *Monitor) Watch(ctx context.Context, signals <-chan bool, onChange func(Change)) {
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-signals:
			if !ok {
				return
			}
			if c, changed := m.Signal(online); changed && onChange != nil {
				onChange(c)
			}
		}
	}
}
