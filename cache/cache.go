// Package cache is the per-store identity map: at most one live instance per
// (entity type, key), so a record returned by a read is the same instance
// the application inserted or previously read.
//
// Entries are versioned by the hub sequence of the commit that last touched
// them. A read that started before a later commit never overwrites what that
// commit cached, and never resurrects what it deleted. Only commits replace
// a dirty instance; reads hand it back as the application left it.
package cache

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/livestore/entity"
	"github.com/maxpert/livestore/telemetry"
)

type entry struct {
	rec *entity.Record // nil for a tombstone
	seq uint64
}

// Cache is a bounded identity map safe for concurrent use
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[string, *entry]
	typeSeq map[string]uint64
}

// New creates a cache holding at most size records
func New(size int) (*Cache, error) {
	if size < 1 {
		return nil, fmt.Errorf("cache size must be >= 1, got %d", size)
	}
	entries, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{
		entries: entries,
		typeSeq: make(map[string]uint64),
	}, nil
}

// Put records rec as the canonical instance after a commit with sequence seq
func (c *Cache) Put(rec *entity.Record, seq uint64) {
	if rec == nil || rec.Key().IsNull() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := rec.CacheKey()
	if e, ok := c.entries.Peek(key); ok && e.seq > seq {
		return
	}
	c.entries.Add(key, &entry{rec: rec, seq: seq})
}

// Evict drops a deleted record, leaving a tombstone so older reads cannot
// bring it back
func (c *Cache) Evict(typeName string, key entity.Value, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := entity.CacheKey(typeName, key)
	if e, ok := c.entries.Peek(k); ok && e.seq > seq {
		return
	}
	c.entries.Add(k, &entry{seq: seq})
}

// InvalidateType drops every cached record of a type after a bulk write.
// Reads that started before seq are not cached for that type.
func (c *Cache) InvalidateType(typeName string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq > c.typeSeq[typeName] {
		c.typeSeq[typeName] = seq
	}

	prefix := typeName + ":"
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.entries.Remove(k)
		}
	}
}

// Canonical returns the single instance for rec's identity. readSeq is the
// hub sequence observed before the read started. A fresher cached instance
// wins over rec. An older one is refreshed in place with rec's values
// unless it carries unsaved edits, which are never overwritten by a read.
func (c *Cache) Canonical(rec *entity.Record, readSeq uint64) *entity.Record {
	if rec == nil || rec.Key().IsNull() {
		return rec
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	typeName := rec.Type().Name
	if c.typeSeq[typeName] > readSeq {
		return rec
	}

	key := rec.CacheKey()
	e, ok := c.entries.Get(key)
	switch {
	case !ok:
		telemetry.CacheMissesTotal.Inc()
		c.entries.Add(key, &entry{rec: rec, seq: readSeq})
		return rec
	case e.rec == nil:
		// Deleted by a commit newer than this read
		if e.seq > readSeq {
			return rec
		}
		telemetry.CacheMissesTotal.Inc()
		c.entries.Add(key, &entry{rec: rec, seq: readSeq})
		return rec
	case e.seq > readSeq:
		telemetry.CacheHitsTotal.Inc()
		return e.rec
	default:
		telemetry.CacheHitsTotal.Inc()
		if e.rec != rec {
			e.rec.Refresh(rec.Values())
		}
		e.seq = readSeq
		return e.rec
	}
}

// Get returns the cached instance for a type and key
func (c *Cache) Get(typeName string, key entity.Value) (*entity.Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(entity.CacheKey(typeName, key))
	if !ok || e.rec == nil {
		return nil, false
	}
	return e.rec, true
}

// Len returns the number of live (non-tombstone) records
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.entries.Values() {
		if e.rec != nil {
			n++
		}
	}
	return n
}

// Purge empties the cache. Type invalidation marks are kept.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}
