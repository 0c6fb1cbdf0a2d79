package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

// EntryCache caches ledger entries by digest. Entries never change after
// commit, so a cached value can only be stale by being evicted.
type EntryCache struct {
	entries *ttlcache.Cache[string, models.LedgerEntry]
}

// NewEntryCache starts a cache holding at most capacity entries for ttl each.
func NewEntryCache(ttl time.Duration, capacity uint64) *EntryCache {
	c := ttlcache.New[string, models.LedgerEntry](
		ttlcache.WithTTL[string, models.LedgerEntry](ttl),
		ttlcache.WithCapacity[string, models.LedgerEntry](capacity),
	)
	go c.Start() // expired item cleanup
	return &EntryCache{entries: c}
}

// GetOrLoad returns the cached entry for digest or calls load and caches a
// successful result. Errors are never cached.
func (ec *EntryCache) GetOrLoad(digest string, load func() (models.LedgerEntry, error)) (models.LedgerEntry, error) {
	if item := ec.entries.Get(digest); item != nil {
		return item.Value(), nil
	}
	entry, err := load()
	if err != nil {
		return models.LedgerEntry{}, err
	}
	ec.entries.Set(digest, entry, ttlcache.DefaultTTL)
	return entry, nil
}

func (ec *EntryCache) Len() int {
	return ec.entries.Len()
}

func (ec *EntryCache) Stop() {
	ec.entries.Stop()
}
