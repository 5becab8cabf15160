package engine

import (
	"context"
	"sync"
	"time"
)

// DefaultRuleCacheTTL is the rule cache entry lifetime when none is configured.
const DefaultRuleCacheTTL = time.Second

type cacheEntry struct {
	records []Record
	expires time.Time
}

// RuleCache memoizes enabled rules per event type for a short TTL. Entries are
// immutable and replaced wholesale on refresh, so readers never observe a partly
// refreshed list. Concurrent misses for the same event type may each query the
// store; the last write wins.
type RuleCache struct {
	store   RuleStore
	ttl     time.Duration
	entries sync.Map // event type -> *cacheEntry
	now     func() time.Time
	metrics Metrics
}

// NewRuleCache creates a rule cache in front of store. A non-positive ttl selects
// DefaultRuleCacheTTL.
func NewRuleCache(store RuleStore, ttl time.Duration, opts ...Option) *RuleCache {
	if ttl <= 0 {
		ttl = DefaultRuleCacheTTL
	}
	o := newOptions(opts)
	return &RuleCache{
		store:   store,
		ttl:     ttl,
		now:     o.now,
		metrics: o.metrics,
	}
}

// LoadRules returns the enabled rule records for eventType. A store error is
// returned and nothing is cached.
func (c *RuleCache) LoadRules(ctx context.Context, eventType string) ([]Record, error) {
	now := c.now()
	if v, ok := c.entries.Load(eventType); ok {
		entry := v.(*cacheEntry)
		if now.Before(entry.expires) {
			c.metrics.RecordRuleCacheLookup(true)
			return entry.records, nil
		}
	}
	c.metrics.RecordRuleCacheLookup(false)

	records, err := c.store.Filter(ctx, RuleQuery{EventType: eventType, Enabled: true})
	if err != nil {
		return nil, NewPersistenceError("failed to load rules for event type "+eventType, err)
	}

	c.entries.Store(eventType, &cacheEntry{records: records, expires: now.Add(c.ttl)})
	return records, nil
}

// Invalidate drops the entry for one event type.
func (c *RuleCache) Invalidate(eventType string) {
	c.entries.Delete(eventType)
}

// Purge drops every entry.
func (c *RuleCache) Purge() {
	c.entries.Clear()
}

// TTL returns the entry lifetime.
func (c *RuleCache) TTL() time.Duration {
	return c.ttl
}
