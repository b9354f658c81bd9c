package nodemgr

import (
	"testing"
	"time"

	"github.com/Klingon-tech/controller-core/internal/errs"
	"github.com/Klingon-tech/controller-core/pkg/crypto"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

func addrOf(b byte) types.Address {
	var a types.Address
	a[0] = b
	return a
}

func TestSetNode_RejectsBanned(t *testing.T) {
	nm := New(5, 30*time.Second)
	addr := addrOf(1)
	nm.SetBanNode(addr)

	err := nm.SetNode(addr, types.ChainStatus{Height: 1})
	if !errs.Of(err, errs.BannedNode) {
		t.Fatalf("expected BannedNode, got %v", err)
	}
}

func TestSetNode_RejectsEarlyStatus(t *testing.T) {
	nm := New(5, 30*time.Second)
	addr := addrOf(1)

	if err := nm.SetNode(addr, types.ChainStatus{Height: 10}); err != nil {
		t.Fatalf("first SetNode: %v", err)
	}
	err := nm.SetNode(addr, types.ChainStatus{Height: 10})
	if !errs.Of(err, errs.EarlyStatus) {
		t.Fatalf("expected EarlyStatus for non-advancing height, got %v", err)
	}
}

func TestSetNode_AcceptsAdvancingHeight(t *testing.T) {
	nm := New(5, 30*time.Second)
	addr := addrOf(1)
	nm.SetNode(addr, types.ChainStatus{Height: 10})

	if err := nm.SetNode(addr, types.ChainStatus{Height: 11}); err != nil {
		t.Fatalf("SetNode should accept an advancing height: %v", err)
	}
}

func TestSetMisbehaviorNode_BlocksSetNodeUntilCooldown(t *testing.T) {
	nm := New(5, 30*time.Second)
	addr := addrOf(1)
	nm.SetNode(addr, types.ChainStatus{Height: 1})

	if err := nm.SetMisbehaviorNode(addr); err != nil {
		t.Fatalf("SetMisbehaviorNode: %v", err)
	}
	if nm.InNode(addr) {
		t.Fatal("a misbehaving node should be removed from the active set")
	}

	err := nm.SetNode(addr, types.ChainStatus{Height: 2})
	if !errs.Of(err, errs.MisbehaveNode) {
		t.Fatalf("expected MisbehaveNode before cooldown elapses, got %v", err)
	}
}

func TestSetMisbehaviorNode_CooldownElapsedAllowsReentry(t *testing.T) {
	nm := New(5, 1*time.Millisecond)
	addr := addrOf(1)
	nm.SetMisbehaviorNode(addr)

	time.Sleep(5 * time.Millisecond)
	if err := nm.SetNode(addr, types.ChainStatus{Height: 1}); err != nil {
		t.Fatalf("SetNode should succeed once the cooldown has elapsed: %v", err)
	}
	if nm.InMisbehaviorNode(addr) {
		t.Fatal("misbehavior record should be cleared on successful re-entry")
	}
}

func TestSetMisbehaviorNode_FreshRecordAfterClearStartsAtZero(t *testing.T) {
	nm := New(5, 1*time.Millisecond)
	addr := addrOf(1)
	nm.SetMisbehaviorNode(addr)
	time.Sleep(5 * time.Millisecond)
	nm.TryDeleteMisbehaviorNode(addr)
	nm.SetMisbehaviorNode(addr)

	nm.muMisbehavior.RLock()
	status := nm.misbehavior[addr]
	nm.muMisbehavior.RUnlock()
	if status.BanTimes != 0 {
		t.Fatalf("a fresh misbehavior record after clearing should start at ban_times 0, got %d", status.BanTimes)
	}
}

func TestSetBanNode_Persists(t *testing.T) {
	nm := New(5, 30*time.Second)
	addr := addrOf(1)
	nm.SetNode(addr, types.ChainStatus{Height: 1})
	nm.SetBanNode(addr)

	if !nm.InBanNode(addr) {
		t.Fatal("SetBanNode should record the ban")
	}
	if nm.InNode(addr) {
		t.Fatal("SetBanNode should remove the peer from the active set")
	}
}

func TestGrabNode_RespectsLimit(t *testing.T) {
	nm := New(2, 30*time.Second)
	for i := byte(1); i <= 5; i++ {
		nm.SetNode(addrOf(i), types.ChainStatus{Height: uint64(i)})
	}
	got := nm.GrabNode()
	if len(got) != 2 {
		t.Fatalf("GrabNode() len = %d, want 2", len(got))
	}
}

func TestPickNode_ReturnsHighest(t *testing.T) {
	nm := New(5, 30*time.Second)
	nm.SetNode(addrOf(1), types.ChainStatus{Height: 5})
	nm.SetNode(addrOf(2), types.ChainStatus{Height: 50})
	nm.SetNode(addrOf(3), types.ChainStatus{Height: 10})

	addr, status := nm.PickNode()
	if addr != addrOf(2) || status.Height != 50 {
		t.Fatalf("PickNode() = (%v, %d), want (%v, 50)", addr, status.Height, addrOf(2))
	}
}

func TestCheckAddressOrigin(t *testing.T) {
	nm := New(5, 30*time.Second)
	addr := addrOf(1)

	ok, err := nm.CheckAddressOrigin(addr, 7)
	if err != nil || ok {
		t.Fatalf("unbound address should report (false, nil), got (%v, %v)", ok, err)
	}

	nm.SetOrigin(addr, 7)
	ok, err = nm.CheckAddressOrigin(addr, 7)
	if err != nil || !ok {
		t.Fatalf("matching origin should report (true, nil), got (%v, %v)", ok, err)
	}

	_, err = nm.CheckAddressOrigin(addr, 8)
	if !errs.Of(err, errs.AddressOriginCheckError) {
		t.Fatalf("expected AddressOriginCheckError, got %v", err)
	}
}

func TestCheckChainStatus_RejectsVersionMismatch(t *testing.T) {
	own := types.ChainStatus{ChainID: types.ChainID{1}, Version: 2, Height: 10}
	remote := types.ChainStatus{ChainID: types.ChainID{1}, Version: 3, Height: 5, Address: addrOf(9)}

	err := CheckChainStatus(remote, own, func(uint64) (types.Hash, error) { return types.Hash{}, nil })
	if !errs.Of(err, errs.VersionOrIdCheckError) {
		t.Fatalf("expected VersionOrIdCheckError, got %v", err)
	}
}

func TestCheckChainStatus_VerifiesLocalHashWhenNotAhead(t *testing.T) {
	own := types.ChainStatus{ChainID: types.ChainID{1}, Version: 1, Height: 10}
	remoteHash := types.Hash{0xaa}
	remote := types.ChainStatus{ChainID: types.ChainID{1}, Version: 1, Height: 5, Hash: remoteHash, Address: addrOf(9)}

	err := CheckChainStatus(remote, own, func(h uint64) (types.Hash, error) {
		if h != 5 {
			t.Fatalf("blockHashAt called with height %d, want 5", h)
		}
		return remoteHash, nil
	})
	if err != nil {
		t.Fatalf("CheckChainStatus: %v", err)
	}

	err = CheckChainStatus(remote, own, func(uint64) (types.Hash, error) { return types.Hash{0xbb}, nil })
	if !errs.Of(err, errs.HashCheckError) {
		t.Fatalf("expected HashCheckError on mismatch, got %v", err)
	}
}

func TestCheckChainStatus_SkipsHashCheckWhenAhead(t *testing.T) {
	own := types.ChainStatus{ChainID: types.ChainID{1}, Version: 1, Height: 3}
	remote := types.ChainStatus{ChainID: types.ChainID{1}, Version: 1, Height: 10, Address: addrOf(9)}

	called := false
	err := CheckChainStatus(remote, own, func(uint64) (types.Hash, error) {
		called = true
		return types.Hash{}, nil
	})
	if err != nil {
		t.Fatalf("CheckChainStatus: %v", err)
	}
	if called {
		t.Fatal("blockHashAt should not be called when remote is ahead of own")
	}
}

func TestCheckChainStatusInit_VerifiesSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	status := types.ChainStatus{ChainID: types.ChainID{1}, Version: 1, Height: 10, Address: addrOf(9)}
	sigHash := crypto.Hash(status.SigningBytes())
	sig, err := key.Sign(sigHash[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	init := types.ChainStatusInit{Status: status, Signature: sig, PublicKey: key.PublicKey()}
	own := types.ChainStatus{ChainID: types.ChainID{1}, Version: 1, Height: 3}

	if err := CheckChainStatusInit(init, own, nil); err != nil {
		t.Fatalf("CheckChainStatusInit: %v", err)
	}

	init.Signature = []byte("garbage")
	if err := CheckChainStatusInit(init, own, nil); !errs.Of(err, errs.SigLenError) {
		t.Fatalf("expected SigLenError for a bad signature, got %v", err)
	}
}
