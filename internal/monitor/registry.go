package monitor

import (
	"sync"

	"signalrunner/internal/domain"
)

// entry is one monitored position together with the connector that can
// observe it. The mutex serialises poll-and-update for this position so
// state transitions are applied strictly in poll order even when positions
// are polled concurrently.
type entry struct {
	mu   sync.Mutex
	pos  domain.Position
	conn domain.ExchangeConnector

	failures         int  // consecutive reconciliation failures
	breakevenPending bool // first TP filled but no stop order in place yet
	cancelled        bool // cooperative removal flag, checked between cycles
}

// Registry is the explicit owned set of actively monitored positions, keyed
// by position ID. The executor inserts, the monitor loop removes on terminal
// states; both go through the registry lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Add inserts a position for monitoring. A position is only inserted once,
// post-creation; adding an existing ID is a no-op.
func (r *Registry) Add(pos domain.Position, conn domain.ExchangeConnector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[pos.ID]; ok {
		return
	}
	r.entries[pos.ID] = &entry{pos: pos, conn: conn}
}

// Remove deletes a position from the active set.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Cancel flags a position for cooperative removal. The monitor drops it at
// the start of the next poll cycle; an in-flight venue call for it is
// allowed to complete.
func (r *Registry) Cancel(id string) bool {
	r.mu.RLock()
	en, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	en.mu.Lock()
	en.cancelled = true
	en.mu.Unlock()
	return true
}

// Len returns the number of actively monitored positions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// snapshot returns the current entries for one poll cycle.
func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, en := range r.entries {
		out = append(out, en)
	}
	return out
}
