package syncmgr

import (
	"testing"

	"github.com/Klingon-tech/controller-core/pkg/block"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

func blockAt(height uint64) *block.CompactBlock {
	return block.NewCompactBlock(&block.Header{Height: height}, nil)
}

func TestInsertBlocks_SkipsExisting(t *testing.T) {
	sm := New(50)
	addr := types.Address{1}

	n := sm.InsertBlocks(addr, []*block.CompactBlock{blockAt(5), blockAt(6)})
	if n != 2 {
		t.Fatalf("InsertBlocks = %d, want 2", n)
	}

	n = sm.InsertBlocks(addr, []*block.CompactBlock{blockAt(6), blockAt(7)})
	if n != 1 {
		t.Fatalf("InsertBlocks (second call) = %d, want 1 (height 6 already pending)", n)
	}
	if sm.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", sm.Len())
	}
}

func TestPopBlock(t *testing.T) {
	sm := New(50)
	addr := types.Address{2}
	sm.InsertBlocks(addr, []*block.CompactBlock{blockAt(10)})

	e, ok := sm.PopBlock(10)
	if !ok {
		t.Fatal("PopBlock should find a pending entry at height 10")
	}
	if e.Address != addr {
		t.Errorf("PopBlock address = %v, want %v", e.Address, addr)
	}
	if _, ok := sm.PopBlock(10); ok {
		t.Fatal("PopBlock should not find the entry a second time")
	}
}

func TestRemoveBlocks(t *testing.T) {
	sm := New(50)
	addr := types.Address{3}
	sm.InsertBlocks(addr, []*block.CompactBlock{blockAt(1), blockAt(2), blockAt(3)})

	sm.RemoveBlocks([]uint64{1, 3})
	if sm.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", sm.Len())
	}
	if _, ok := sm.PopBlock(2); !ok {
		t.Fatal("height 2 should still be pending")
	}
}

func TestClear(t *testing.T) {
	sm := New(50)
	sm.InsertBlocks(types.Address{4}, []*block.CompactBlock{blockAt(1)})
	sm.Clear()
	if sm.Len() != 0 {
		t.Fatalf("Len() after Clear() = %d, want 0", sm.Len())
	}
}

func TestGetSyncBlockReq_BoundedByInterval(t *testing.T) {
	sm := New(50)
	req := sm.GetSyncBlockReq(100, types.ChainStatus{Height: 1000})
	if req.StartHeight != 101 || req.EndHeight != 150 {
		t.Fatalf("req = %+v, want start=101 end=150", req)
	}
}

func TestGetSyncBlockReq_BoundedByGlobalStatus(t *testing.T) {
	sm := New(50)
	req := sm.GetSyncBlockReq(100, types.ChainStatus{Height: 110})
	if req.StartHeight != 101 || req.EndHeight != 110 {
		t.Fatalf("req = %+v, want start=101 end=110", req)
	}
}
