package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"time"
)

// Hash identifies a source message by its timestamp and text.
func Hash(timestamp int64, text string) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(timestamp, 10) + "|" + text))
	return hex.EncodeToString(sum[:])
}

// Dedup prevents the same source message from being handled more than once.
// It remembers at most capacity hashes, each for ttl. It is safe for
// concurrent use.
type Dedup struct {
	mu       sync.Mutex
	seen     map[string]time.Time // hash -> first seen
	order    []string             // insertion order for eviction
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// NewDedup creates a Dedup. Non-positive arguments fall back to 512 entries
// and 24h.
func NewDedup(capacity int, ttl time.Duration) *Dedup {
	if capacity <= 0 {
		capacity = 512
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Dedup{
		seen:     make(map[string]time.Time, capacity),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// IsDuplicate reports whether hash was seen within the TTL. An unseen hash is
// recorded and false is returned.
func (d *Dedup) IsDuplicate(hash string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[hash]; ok && now.Sub(at) < d.ttl {
		return true
	}
	if _, ok := d.seen[hash]; !ok {
		d.order = append(d.order, hash)
	}
	d.seen[hash] = now
	for len(d.order) > d.capacity {
		delete(d.seen, d.order[0])
		d.order = d.order[1:]
	}
	return false
}

// Len returns the number of remembered hashes.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Cleanup drops expired entries. Call it periodically.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	kept := d.order[:0]
	for _, h := range d.order {
		if now.Sub(d.seen[h]) >= d.ttl {
			delete(d.seen, h)
			continue
		}
		kept = append(kept, h)
	}
	d.order = kept
}
