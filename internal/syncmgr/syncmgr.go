// Package syncmgr implements SyncManager (C4): a pending set of
// remotely-advertised blocks keyed by height, and the bounded sync-range
// request computation that drives catch-up.
package syncmgr

import (
	"sync"

	"github.com/Klingon-tech/controller-core/internal/log"
	"github.com/Klingon-tech/controller-core/pkg/block"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// Entry pairs a pending block with the peer address it arrived from.
type Entry struct {
	Address types.Address
	Block   *block.CompactBlock
}

// SyncBlockRequest is the bounded range request sent to a peer to fill a
// gap between the local tip and the best known remote height.
type SyncBlockRequest struct {
	StartHeight uint64
	EndHeight   uint64
}

// SyncManager holds the pending block set.
type SyncManager struct {
	syncRangeInterval uint64

	mu   sync.RWMutex
	list map[uint64]Entry
}

// New constructs an empty SyncManager with the given sync range window.
func New(syncRangeInterval uint64) *SyncManager {
	return &SyncManager{
		syncRangeInterval: syncRangeInterval,
		list:              make(map[uint64]Entry),
	}
}

// InsertBlocks inserts only the heights not already pending, returning the
// number actually inserted.
func (sm *SyncManager) InsertBlocks(remoteAddr types.Address, blocks []*block.CompactBlock) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	inserted := 0
	for _, b := range blocks {
		height := b.Header.Height
		if _, ok := sm.list[height]; ok {
			continue
		}
		sm.list[height] = Entry{Address: remoteAddr, Block: b}
		inserted++
	}
	log.SyncMgr.Debug().Int("inserted", inserted).Msg("insert_blocks")
	return inserted
}

// PopBlock removes and returns the pending entry at height, if any.
func (sm *SyncManager) PopBlock(height uint64) (Entry, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	e, ok := sm.list[height]
	delete(sm.list, height)
	return e, ok
}

// RemoveBlocks discards pending entries at the given heights.
func (sm *SyncManager) RemoveBlocks(heights []uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, h := range heights {
		delete(sm.list, h)
	}
}

// Clear discards every pending entry.
func (sm *SyncManager) Clear() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.list = make(map[uint64]Entry)
}

// Len reports the number of pending entries.
func (sm *SyncManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.list)
}

// GetSyncBlockReq computes the bounded range request to fill the gap
// between currentHeight and the best known remote status.
func (sm *SyncManager) GetSyncBlockReq(currentHeight uint64, globalStatus types.ChainStatus) SyncBlockRequest {
	end := currentHeight + sm.syncRangeInterval
	if end > globalStatus.Height {
		end = globalStatus.Height
	}
	return SyncBlockRequest{StartHeight: currentHeight + 1, EndHeight: end}
}
