// Package ratelimit bounds how many transfers one caller may submit within a
// sliding window.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Limiter keeps the recent request times of every key. Keys idle for a whole
// window expire from the cache.
type Limiter struct {
	mu     sync.Mutex // serializes read-modify-write of a key's window
	limit  int
	window time.Duration
	hits   *ttlcache.Cache[string, []time.Time]
	now    func() time.Time
}

// NewLimiter allows limit requests per key within window. A non-positive
// limit disables limiting.
func NewLimiter(limit int, window time.Duration) *Limiter {
	hits := ttlcache.New[string, []time.Time](
		ttlcache.WithTTL[string, []time.Time](window),
	)
	go hits.Start()
	return &Limiter{
		limit:  limit,
		window: window,
		hits:   hits,
		now:    time.Now,
	}
}

// Allow records a request for key and reports whether it is within the limit.
// Rejected requests are not recorded.
func (l *Limiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	var recent []time.Time
	if item := l.hits.Get(key); item != nil {
		for _, hit := range item.Value() {
			if hit.After(cutoff) {
				recent = append(recent, hit)
			}
		}
	}
	if len(recent) >= l.limit {
		l.hits.Set(key, recent, ttlcache.DefaultTTL)
		return false
	}
	l.hits.Set(key, append(recent, now), ttlcache.DefaultTTL)
	return true
}

func (l *Limiter) Stop() {
	l.hits.Stop()
}
