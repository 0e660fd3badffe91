package executor

import (
	"sync"
	"time"
)

// Dedup rejects a signal id seen again within the TTL. It is safe for
// concurrent use.
type Dedup struct {
	seen  map[string]time.Time // signal id -> first seen
	ttl   time.Duration
	clock func() time.Time
	mu    sync.Mutex
}

// NewDedup creates a Dedup with the given window.
func NewDedup(ttl time.Duration, clock func() time.Time) *Dedup {
	if clock == nil {
		clock = time.Now
	}
	return &Dedup{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		clock: clock,
	}
}

// IsDuplicate reports whether id was seen inside the window. Unseen or
// expired ids are recorded and reported as fresh.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	if seen, ok := d.seen[id]; ok && now.Sub(seen) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Forget drops id so a retry of the same signal is accepted.
func (d *Dedup) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}
