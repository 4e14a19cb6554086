// Package dispatch queues reconcile triggers raised by the API so the
// scheduler can run a pass without waiting for the next interval.
package dispatch

import "sync"

// Manager keeps pending deployment ids and subscribers to stream them.
type Manager struct {
	mu      sync.Mutex
	pending []string            // deployment ids in arrival order
	queued  map[string]struct{} // dedupe for pending
	subs    map[chan string]struct{}
}

func NewManager() *Manager {
	return &Manager{
		queued: make(map[string]struct{}),
		subs:   make(map[chan string]struct{}),
	}
}

// Notify enqueues a deployment id and wakes subscribers. An id already
// pending is not queued twice.
func (m *Manager) Notify(deploymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queued[deploymentID]; ok {
		return
	}
	m.queued[deploymentID] = struct{}{}
	m.pending = append(m.pending, deploymentID)
	for ch := range m.subs {
		select {
		case ch <- deploymentID:
		default:
			// slow subscriber; pending still holds it
		}
	}
}

// DrainPending returns and clears all pending ids.
func (m *Manager) DrainPending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	out := m.pending
	m.pending = nil
	m.queued = make(map[string]struct{})
	return out
}

// Subscribe returns a channel woken on every Notify. Caller must call the
// returned cancel func.
func (m *Manager) Subscribe() (<-chan string, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan string, 8)
	m.subs[ch] = struct{}{}
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}
}
