package pool

import (
	"testing"

	"github.com/Klingon-tech/controller-core/pkg/types"
)

func hashOf(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestPool_Enqueue_RejectsDuplicate(t *testing.T) {
	p := New(10)
	h := hashOf(1)

	if !p.Enqueue(h) {
		t.Fatal("first enqueue should succeed")
	}
	if p.Enqueue(h) {
		t.Fatal("duplicate enqueue should be rejected")
	}
	if p.Len() != 1 {
		t.Errorf("Len() = %d, want 1", p.Len())
	}
}

func TestPool_Enqueue_RejectsWhenFull(t *testing.T) {
	p := New(2)
	p.Enqueue(hashOf(1))
	p.Enqueue(hashOf(2))

	if p.Enqueue(hashOf(3)) {
		t.Fatal("enqueue should be rejected once the pool is full")
	}
}

func TestPool_Contains(t *testing.T) {
	p := New(10)
	h := hashOf(1)
	if p.Contains(h) {
		t.Fatal("empty pool should not contain anything")
	}
	p.Enqueue(h)
	if !p.Contains(h) {
		t.Fatal("pool should contain an enqueued hash")
	}
}

func TestPool_Package_DoesNotRemove(t *testing.T) {
	p := New(10)
	p.Enqueue(hashOf(1))
	p.Enqueue(hashOf(2))
	p.Enqueue(hashOf(3))

	got := p.Package(2)
	if len(got) != 2 {
		t.Fatalf("Package(2) len = %d, want 2", len(got))
	}
	if got[0] != hashOf(1) || got[1] != hashOf(2) {
		t.Errorf("Package should preserve FIFO order, got %v", got)
	}
	if p.Len() != 3 {
		t.Errorf("Package should not remove entries, Len() = %d, want 3", p.Len())
	}
}

func TestPool_Package_LimitAboveLen(t *testing.T) {
	p := New(10)
	p.Enqueue(hashOf(1))

	got := p.Package(50)
	if len(got) != 1 {
		t.Fatalf("Package(50) len = %d, want 1", len(got))
	}
}

func TestPool_Update_DrainsFinalized(t *testing.T) {
	p := New(10)
	p.Enqueue(hashOf(1))
	p.Enqueue(hashOf(2))
	p.Enqueue(hashOf(3))

	p.Update([]types.Hash{hashOf(2)})

	if p.Contains(hashOf(2)) {
		t.Fatal("Update should remove the drained hash")
	}
	if !p.Contains(hashOf(1)) || !p.Contains(hashOf(3)) {
		t.Fatal("Update should leave the other hashes in place")
	}
	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}

	got := p.Package(10)
	if got[0] != hashOf(1) || got[1] != hashOf(3) {
		t.Errorf("Update should preserve relative order, got %v", got)
	}
}

func TestPool_Update_Empty(t *testing.T) {
	p := New(10)
	p.Enqueue(hashOf(1))
	p.Update(nil)
	if p.Len() != 1 {
		t.Errorf("Update(nil) should be a no-op, Len() = %d, want 1", p.Len())
	}
}
