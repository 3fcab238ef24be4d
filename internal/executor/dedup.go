package executor

import (
	"fmt"
	"sync"
	"time"

	"signalrunner/internal/domain"
)

// Fingerprint derives the dedup key for a signal from the fields that make a
// trade distinct. Two messages describing the same trade (same symbol, side,
// entry and stop) within the TTL window execute only once, even when their
// IDs differ.
func Fingerprint(sig domain.Signal) string {
	return fmt.Sprintf("%s|%s|%.8f|%.8f", sig.Symbol, sig.Side, sig.Entry, sig.StopLoss)
}

// Dedup prevents the same trade from being executed more than once within a
// time-to-live window. Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given TTL window.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether the fingerprint was recorded within the TTL window,
// recording it if not.
func (d *Dedup) Seen(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if last, ok := d.seen[fingerprint]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[fingerprint] = now
	return false
}

// Cleanup drops expired entries. Called periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
