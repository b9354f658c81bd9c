// Package pool implements the bounded transaction pool (C1): a fixed-capacity
// FIFO of pending transaction hashes with O(1) membership checks, feeding
// proposal packaging and drained on finalization.
package pool

import (
	"sync"

	"github.com/Klingon-tech/controller-core/internal/log"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// Pool is a fixed-capacity FIFO of pending transaction hashes.
type Pool struct {
	mu       sync.RWMutex
	capacity int
	order    []types.Hash
	set      map[types.Hash]struct{}
}

// New creates an empty pool with the given capacity.
func New(capacity int) *Pool {
	return &Pool{
		capacity: capacity,
		order:    make([]types.Hash, 0, capacity),
		set:      make(map[types.Hash]struct{}, capacity),
	}
}

// Enqueue adds h to the pool. It returns false without error if h is already
// present or the pool is full; duplicates and capacity pressure are routine,
// not exceptional.
func (p *Pool) Enqueue(h types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.set[h]; ok {
		return false
	}
	if len(p.order) >= p.capacity {
		return false
	}
	p.order = append(p.order, h)
	p.set[h] = struct{}{}
	return true
}

// Contains reports whether h is currently pending.
func (p *Pool) Contains(h types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.set[h]
	return ok
}

// Package returns up to limit pending hashes in FIFO order, without
// removing them; a proposal may be rejected and the hashes must remain
// eligible for the next attempt.
func (p *Pool) Package(limit int) []types.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := limit
	if n > len(p.order) {
		n = len(p.order)
	}
	out := make([]types.Hash, n)
	copy(out, p.order[:n])
	return out
}

// Update removes the given hashes from the pool, called once their
// transactions have been finalized.
func (p *Pool) Update(hashes []types.Hash) {
	if len(hashes) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	remove := make(map[types.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		remove[h] = struct{}{}
		delete(p.set, h)
	}

	kept := p.order[:0]
	for _, h := range p.order {
		if _, gone := remove[h]; !gone {
			kept = append(kept, h)
		}
	}
	p.order = kept
	log.Pool.Debug().Int("removed", len(hashes)).Int("remaining", len(p.order)).Msg("drained finalized transactions")
}

// Len reports the number of pending transaction hashes.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}
