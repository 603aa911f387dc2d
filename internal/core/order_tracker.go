package core

import "sync"

// OrderTracker keeps a high-water block number per partition. Block
// order is advisory for this engine: projection is idempotent and the
// aggregates are order-insensitive deltas, but odds depend on insertion
// order, so regressions are counted and logged for investigation rather
// than rejected.
type OrderTracker struct {
	mu        sync.Mutex
	highWater map[string]int64
}

func NewOrderTracker() *OrderTracker {
	return &OrderTracker{
		highWater: make(map[string]int64),
	}
}

// Observe records the block for a partition and reports whether it
// arrived below the partition's high-water mark.
func (ot *OrderTracker) Observe(partition string, block int64) (outOfOrder bool) {
	ot.mu.Lock()
	defer ot.mu.Unlock()

	current := ot.highWater[partition]
	if block < current {
		return true
	}
	ot.highWater[partition] = block
	return false
}

// HighWater returns the highest observed block for a partition.
func (ot *OrderTracker) HighWater(partition string) int64 {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	return ot.highWater[partition]
}
