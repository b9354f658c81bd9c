// Package nodemgr implements NodeManager (C3): the peer registry, with
// three disjoint states (active, misbehaving, banned) and an
// origin-session binding used to authorize RPCs from a known transport
// session.
package nodemgr

import (
	"math/rand"
	"sync"
	"time"

	"github.com/Klingon-tech/controller-core/internal/errs"
	"github.com/Klingon-tech/controller-core/internal/log"
	"github.com/Klingon-tech/controller-core/pkg/crypto"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// MisbehaviorStatus tracks a peer's ban-time escalation and the clock at
// which its current cool-down began.
type MisbehaviorStatus struct {
	BanTimes  uint32
	StartTime time.Time
}

// free reports whether the cool-down for this status has elapsed. The
// cool-down doubles with every additional ban: base * 2^ban_times.
func (m MisbehaviorStatus) free(base time.Duration) bool {
	cooldown := base * time.Duration(uint64(1)<<m.BanTimes)
	return time.Since(m.StartTime) >= cooldown
}

// NodeManager holds the four independently-locked peer maps.
type NodeManager struct {
	grabNodeNum  int
	cooldownBase time.Duration

	muNodes sync.RWMutex
	nodes   map[types.Address]types.ChainStatus

	muMisbehavior sync.RWMutex
	misbehavior   map[types.Address]MisbehaviorStatus

	muBanned sync.RWMutex
	banned   map[types.Address]struct{}

	muOrigin sync.RWMutex
	origin   map[types.Address]uint64
}

// New constructs an empty NodeManager.
func New(grabNodeNum int, cooldownBase time.Duration) *NodeManager {
	return &NodeManager{
		grabNodeNum:  grabNodeNum,
		cooldownBase: cooldownBase,
		nodes:        make(map[types.Address]types.ChainStatus),
		misbehavior:  make(map[types.Address]MisbehaviorStatus),
		banned:       make(map[types.Address]struct{}),
		origin:       make(map[types.Address]uint64),
	}
}

// SetOrigin binds addr to a transport session id, returning the previous
// binding if any.
func (nm *NodeManager) SetOrigin(addr types.Address, sessionID uint64) (uint64, bool) {
	nm.muOrigin.Lock()
	defer nm.muOrigin.Unlock()
	prev, had := nm.origin[addr]
	nm.origin[addr] = sessionID
	return prev, had
}

// DeleteOrigin removes addr's session binding.
func (nm *NodeManager) DeleteOrigin(addr types.Address) {
	nm.muOrigin.Lock()
	defer nm.muOrigin.Unlock()
	delete(nm.origin, addr)
}

// GetOrigin returns addr's bound session id, if any.
func (nm *NodeManager) GetOrigin(addr types.Address) (uint64, bool) {
	nm.muOrigin.RLock()
	defer nm.muOrigin.RUnlock()
	id, ok := nm.origin[addr]
	return id, ok
}

// GetAddress returns the address bound to sessionID, if any.
func (nm *NodeManager) GetAddress(sessionID uint64) (types.Address, bool) {
	nm.muOrigin.RLock()
	defer nm.muOrigin.RUnlock()
	for addr, id := range nm.origin {
		if id == sessionID {
			return addr, true
		}
	}
	return types.Address{}, false
}

// InNode reports whether addr is an active, non-misbehaving, non-banned peer.
func (nm *NodeManager) InNode(addr types.Address) bool {
	nm.muNodes.RLock()
	defer nm.muNodes.RUnlock()
	_, ok := nm.nodes[addr]
	return ok
}

// DeleteNode removes addr from the active set, returning its last status.
func (nm *NodeManager) DeleteNode(addr types.Address) (types.ChainStatus, bool) {
	nm.muNodes.Lock()
	defer nm.muNodes.Unlock()
	status, ok := nm.nodes[addr]
	delete(nm.nodes, addr)
	return status, ok
}

// SetNode records a peer's chain status. It fails BannedNode if addr is
// banned; if addr is misbehaving, it succeeds only once the cool-down has
// elapsed (which clears the misbehavior record); it rejects a status whose
// height does not strictly advance the stored one.
func (nm *NodeManager) SetNode(addr types.Address, status types.ChainStatus) error {
	if nm.InBanNode(addr) {
		return errs.New(errs.BannedNode, "0x%x", addr)
	}
	if nm.InMisbehaviorNode(addr) {
		if !nm.TryDeleteMisbehaviorNode(addr) {
			return errs.New(errs.MisbehaveNode, "0x%x", addr)
		}
	}

	nm.muNodes.Lock()
	defer nm.muNodes.Unlock()
	existing, ok := nm.nodes[addr]
	if ok && existing.Height >= status.Height {
		return errs.New(errs.EarlyStatus, "height %d not after stored %d", status.Height, existing.Height)
	}
	log.NodeMgr.Info().Str("addr", addr.String()).Uint64("height", status.Height).Msg("update node")
	nm.nodes[addr] = status
	return nil
}

// GrabNode returns up to grabNodeNum uniformly shuffled active peers.
func (nm *NodeManager) GrabNode() []types.Address {
	nm.muNodes.RLock()
	addrs := make([]types.Address, 0, len(nm.nodes))
	for addr := range nm.nodes {
		addrs = append(addrs, addr)
	}
	nm.muNodes.RUnlock()

	rand.Shuffle(len(addrs), func(i, j int) { addrs[i], addrs[j] = addrs[j], addrs[i] })
	if len(addrs) > nm.grabNodeNum {
		addrs = addrs[:nm.grabNodeNum]
	}
	return addrs
}

// PickNode returns the active peer with the greatest reported height.
// Ties are broken arbitrarily by map iteration order.
func (nm *NodeManager) PickNode() (types.Address, types.ChainStatus) {
	nm.muNodes.RLock()
	defer nm.muNodes.RUnlock()

	var bestAddr types.Address
	var bestStatus types.ChainStatus
	for addr, status := range nm.nodes {
		if status.Height > bestStatus.Height {
			bestAddr = addr
			bestStatus = status
		}
	}
	return bestAddr, bestStatus
}

// InMisbehaviorNode reports whether addr currently has a misbehavior record.
func (nm *NodeManager) InMisbehaviorNode(addr types.Address) bool {
	nm.muMisbehavior.RLock()
	defer nm.muMisbehavior.RUnlock()
	_, ok := nm.misbehavior[addr]
	return ok
}

// TryDeleteMisbehaviorNode clears addr's misbehavior record iff its
// cool-down has elapsed, reporting whether it did so.
func (nm *NodeManager) TryDeleteMisbehaviorNode(addr types.Address) bool {
	nm.muMisbehavior.Lock()
	defer nm.muMisbehavior.Unlock()
	status, ok := nm.misbehavior[addr]
	if !ok || !status.free(nm.cooldownBase) {
		return false
	}
	delete(nm.misbehavior, addr)
	return true
}

// DeleteMisbehaviorNode unconditionally clears addr's misbehavior record.
func (nm *NodeManager) DeleteMisbehaviorNode(addr types.Address) {
	nm.muMisbehavior.Lock()
	defer nm.muMisbehavior.Unlock()
	delete(nm.misbehavior, addr)
}

// SetMisbehaviorNode records addr as misbehaving: it is dropped from the
// active set and its origin binding, then either gets a fresh record or
// has its ban-time escalated and its cool-down clock reset.
func (nm *NodeManager) SetMisbehaviorNode(addr types.Address) error {
	nm.DeleteOrigin(addr)
	if nm.InNode(addr) {
		nm.DeleteNode(addr)
	}
	if nm.InBanNode(addr) {
		return errs.New(errs.BannedNode, "0x%x", addr)
	}

	nm.muMisbehavior.Lock()
	defer nm.muMisbehavior.Unlock()
	existing, ok := nm.misbehavior[addr]
	if ok {
		nm.misbehavior[addr] = MisbehaviorStatus{BanTimes: existing.BanTimes + 1, StartTime: time.Now()}
	} else {
		nm.misbehavior[addr] = MisbehaviorStatus{StartTime: time.Now()}
	}
	log.NodeMgr.Warn().Str("addr", addr.String()).Msg("set misbehavior node")
	return nil
}

// InBanNode reports whether addr is banned.
func (nm *NodeManager) InBanNode(addr types.Address) bool {
	nm.muBanned.RLock()
	defer nm.muBanned.RUnlock()
	_, ok := nm.banned[addr]
	return ok
}

// DeleteBanNode unbans addr.
func (nm *NodeManager) DeleteBanNode(addr types.Address) {
	nm.muBanned.Lock()
	defer nm.muBanned.Unlock()
	delete(nm.banned, addr)
}

// SetBanNode bans addr, clearing its active and misbehavior records.
func (nm *NodeManager) SetBanNode(addr types.Address) {
	nm.DeleteOrigin(addr)
	if nm.InNode(addr) {
		nm.DeleteNode(addr)
	}
	if nm.InMisbehaviorNode(addr) {
		nm.DeleteMisbehaviorNode(addr)
	}

	nm.muBanned.Lock()
	defer nm.muBanned.Unlock()
	log.NodeMgr.Warn().Str("addr", addr.String()).Msg("set ban node")
	nm.banned[addr] = struct{}{}
}

// CheckAddressOrigin reports true iff addr's bound session matches
// sessionID, false if addr has no binding, and an error on mismatch.
func (nm *NodeManager) CheckAddressOrigin(addr types.Address, sessionID uint64) (bool, error) {
	recorded, ok := nm.GetOrigin(addr)
	if !ok {
		return false, nil
	}
	if recorded != sessionID {
		log.NodeMgr.Warn().Str("addr", addr.String()).Msg("check_address_origin mismatch")
		return false, errs.New(errs.AddressOriginCheckError, "0x%x", addr)
	}
	return true, nil
}

// BlockHashAt looks up the header hash of the local block at height.
type BlockHashAt func(height uint64) (types.Hash, error)

// CheckChainStatus validates a peer-reported status against own and, when
// the reported height is not ahead of own, cross-checks the hash at that
// height in local storage.
func CheckChainStatus(remote, own types.ChainStatus, blockHashAt BlockHashAt) error {
	if remote.Address.IsZero() {
		return errs.New(errs.VersionOrIdCheckError, "zero address")
	}
	if remote.ChainID != own.ChainID || remote.Version != own.Version {
		return errs.New(errs.VersionOrIdCheckError, "remote chain id/version mismatch")
	}
	if own.Height >= remote.Height {
		localHash, err := blockHashAt(remote.Height)
		if err != nil {
			return err
		}
		if localHash != remote.Hash {
			return errs.New(errs.HashCheckError, "height %d", remote.Height)
		}
	}
	return nil
}

// CheckChainStatusInit additionally verifies the attached signature before
// delegating to CheckChainStatus.
func CheckChainStatusInit(init types.ChainStatusInit, own types.ChainStatus, blockHashAt BlockHashAt) error {
	sigHash := crypto.Hash(init.Status.SigningBytes())
	if !crypto.VerifySignature(sigHash[:], init.Signature, init.PublicKey) {
		return errs.New(errs.SigLenError, "chain status signature")
	}
	return CheckChainStatus(init.Status, own, blockHashAt)
}
