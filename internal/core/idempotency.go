package core

import (
	"container/list"
	"fmt"
	"sync"

	"MarketSync/internal/observability"
)

// DBIdempotencyChecker is the cold-tier lookup against the processed
// markers on the raw fact tables.
type DBIdempotencyChecker interface {
	IsProcessed(eventType string, chainEventID string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an in-memory
// LRU of recently processed (eventType, chainEventId) keys in front of
// the Postgres processed-marker lookup. Shared by all projection
// workers, so access is mutex-guarded.
type IdempotencyChecker struct {
	mu        sync.Mutex
	lru       *idempotencyLRU
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   metrics,
	}
}

// IsDuplicate checks whether the event has already been projected.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, chainEventID string) bool {
	key := compositeKey(eventType, chainEventID)

	ic.mu.Lock()
	hit := ic.lru.contains(key)
	ic.mu.Unlock()
	if hit {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, "lru").Inc()
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsProcessed(eventType, chainEventID)
		if err != nil {
			// Conservative on lookup failure: assume not a duplicate so a
			// DB hiccup cannot stall the stream. The processed marker and
			// the unique constraints still stop double application.
			return false
		}
		if isDup {
			ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, "postgres").Inc()
			ic.mu.Lock()
			ic.lru.add(key)
			ic.mu.Unlock()
			return true
		}
	}

	return false
}

// MarkProcessed records the key in the hot tier after the projection
// transaction committed.
func (ic *IdempotencyChecker) MarkProcessed(eventType string, chainEventID string) {
	ic.mu.Lock()
	ic.lru.add(compositeKey(eventType, chainEventID))
	ic.mu.Unlock()
}

// WarmFromKeys preloads composite keys (restart recovery) so recently
// processed events dedup without a DB round trip.
func (ic *IdempotencyChecker) WarmFromKeys(keys []string) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	for _, key := range keys {
		ic.lru.add(key)
	}
}

// Size returns the current LRU occupancy.
func (ic *IdempotencyChecker) Size() int {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.lru.size()
}

func compositeKey(eventType, chainEventID string) string {
	return fmt.Sprintf("%s:%s", eventType, chainEventID)
}

// --- LRU ---

type idempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List
}

type lruEntry struct {
	key string
}

func newIdempotencyLRU(capacity int) *idempotencyLRU {
	return &idempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

func (lru *idempotencyLRU) contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

func (lru *idempotencyLRU) add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		oldest := lru.lruList.Back()
		if oldest != nil {
			lru.lruList.Remove(oldest)
			delete(lru.cache, oldest.Value.(*lruEntry).key)
		}
	}
}

func (lru *idempotencyLRU) size() int {
	return lru.lruList.Len()
}
