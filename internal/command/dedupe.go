package command

import (
	"sync"
	"time"
)

// Dedupe remembers keys for a ttl so redelivered messages can be dropped.
type Dedupe struct {
	mu    sync.Mutex
	items map[string]time.Time
	limit int
}

func NewDedupe() *Dedupe {
	return &Dedupe{items: make(map[string]time.Time), limit: 1024}
}

func (d *Dedupe) Seen(key string, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.items[key]; ok && now.Sub(ts) <= ttl {
		return true
	}
	d.items[key] = now
	if len(d.items) > d.limit {
		for k, ts := range d.items {
			if now.Sub(ts) > ttl {
				delete(d.items, k)
			}
		}
	}
	return false
}
