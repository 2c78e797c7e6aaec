package oauth

import (
	"sync"
	"time"
)

// Blacklist holds revoked access-token jtis until their natural expiry.
// It is an in-memory map: revocation of access tokens is best-effort within
// a single process, refresh revocation is the durable mechanism.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time // jti -> exp
}

func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]time.Time)}
}

// Add registers a jti until exp. Entries already past exp are not stored.
func (b *Blacklist) Add(jti string, exp time.Time) {
	if !exp.After(time.Now()) {
		return
	}
	b.mu.Lock()
	b.entries[jti] = exp
	b.mu.Unlock()
}

// IsBlacklisted reports whether jti is revoked and not yet expired.
func (b *Blacklist) IsBlacklisted(jti string) bool {
	b.mu.RLock()
	exp, ok := b.entries[jti]
	b.mu.RUnlock()
	return ok && exp.After(time.Now())
}

// Sweep removes expired entries and returns how many were dropped.
// Called every 60 s by the job scheduler.
func (b *Blacklist) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for jti, exp := range b.entries {
		if !exp.After(now) {
			delete(b.entries, jti)
			removed++
		}
	}
	return removed
}
