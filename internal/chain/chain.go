// Package chain implements Chain (C5): the fork tree, proposal lifecycle,
// commit-and-finalize algorithm, and sync catchup. This is the core state
// machine the rest of the controller core exists to serve.
package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/controller-core/internal/errs"
	"github.com/Klingon-tech/controller-core/internal/log"
	"github.com/Klingon-tech/controller-core/pkg/block"
	"github.com/Klingon-tech/controller-core/pkg/tx"
	"github.com/Klingon-tech/controller-core/pkg/types"
	"github.com/Klingon-tech/controller-core/pkg/wire"
)

// forkEntry is one candidate block at a given height offset. Proof is nil
// until commit_block attaches it.
type forkEntry struct {
	Block *block.CompactBlock
	Proof []byte
}

// candidateBlock records the height/hash of the last locally-proposed block.
type candidateBlock struct {
	Height uint64
	Hash   types.Hash
}

// Config carries the tuning constants §6 and §11 call out.
type Config struct {
	Delay                 uint64
	PackageLimit          int
	ProposalRetryAttempts int
}

// Chain is the fork-tree state machine.
type Chain struct {
	cfg Config

	mu          sync.RWMutex
	blockNumber uint64
	blockHash   types.Hash

	forkTree  []map[types.Hash]*forkEntry
	mainChain []types.Hash
	// mainChainTxHash is the union of tx hashes across the main chain,
	// used to dedupe proposal packaging and prevent replays in-flight.
	mainChainTxHash map[types.Hash]struct{}
	candidate       *candidateBlock

	nodeAddress types.Address

	pool      Pool
	auth      Auth
	storage   Storage
	syncStore SyncStore
	executor  Executor
	consensus Consensus
	kms       KMS
}

// New constructs a Chain with a preallocated fork tree of length 2*delay+2.
func New(cfg Config, currentBlockNumber uint64, currentBlockHash types.Hash, nodeAddress types.Address,
	pool Pool, a Auth, storage Storage, syncStore SyncStore, executor Executor, consensus Consensus, kms KMS) (*Chain, error) {
	if pool == nil || a == nil || storage == nil || syncStore == nil || executor == nil || consensus == nil || kms == nil {
		return nil, fmt.Errorf("chain: all collaborators are required")
	}
	size := int(cfg.Delay)*2 + 2
	forkTree := make([]map[types.Hash]*forkEntry, size)
	for i := range forkTree {
		forkTree[i] = make(map[types.Hash]*forkEntry)
	}
	return &Chain{
		cfg:             cfg,
		blockNumber:     currentBlockNumber,
		blockHash:       currentBlockHash,
		forkTree:        forkTree,
		mainChainTxHash: make(map[types.Hash]struct{}),
		nodeAddress:     nodeAddress,
		pool:            pool,
		auth:            a,
		storage:         storage,
		syncStore:       syncStore,
		executor:        executor,
		consensus:       consensus,
		kms:             kms,
	}, nil
}

// Init finalizes the genesis block in place when starting from height 0.
func (c *Chain) Init(ctx context.Context, initBlockNumber uint64, genesis *block.CompactBlock) error {
	if initBlockNumber != 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	headerBytes := wire.MarshalHeader(genesis.Header)
	hash := c.kms.HashData(headerBytes)
	if err := c.finalizeBlockLocked(ctx, genesis, nil, hash, true); err != nil {
		return err
	}
	c.blockNumber = genesis.Header.Height
	c.blockHash = hash
	return nil
}

// BlockNumber returns the current finalized height.
func (c *Chain) BlockNumber() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockNumber
}

// BlockHash returns the current finalized tip hash.
func (c *Chain) BlockHash() types.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockHash
}

// GetBlockNumber returns the current finalized height, or the height of the
// tip of the in-flight main chain when pending is true.
func (c *Chain) GetBlockNumber(pending bool) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if pending {
		return c.blockNumber + uint64(len(c.mainChain))
	}
	return c.blockNumber
}

// GetProposal returns the serialized bytes of the last local candidate
// block, if one is still outstanding.
func (c *Chain) GetProposal() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.candidate == nil {
		return nil, false
	}
	level := int(c.candidate.Height - c.blockNumber - 1)
	if level < 0 || level >= len(c.forkTree) {
		return nil, false
	}
	entry, ok := c.forkTree[level][c.candidate.Hash]
	if !ok {
		return nil, false
	}
	return entry.Block.Marshal(), true
}

// GetBlockByNumber returns the finalized block at height, read back from
// the durable sync-directory bundle.
func (c *Chain) GetBlockByNumber(ctx context.Context, height uint64) (*block.CompactBlock, error) {
	bundle, ok, err := c.syncStore.ReadSyncBlock(height)
	if err != nil {
		return nil, errs.Wrap(errs.StoreError, err, "read sync block %d", height)
	}
	if !ok {
		return nil, errs.New(errs.NoBlock, "no block at height %d", height)
	}
	cb, _, err := block.UnmarshalWithRemainder(bundle)
	if err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "decode sync block %d", height)
	}
	return cb, nil
}

// AddProposal builds a local candidate block from the pool and inserts it
// into the fork tree at the appropriate level.
func (c *Chain) AddProposal() (*block.CompactBlock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var chosen []types.Hash
	for attempt := 0; attempt < c.cfg.ProposalRetryAttempts; attempt++ {
		raw := c.pool.Package(c.cfg.PackageLimit)
		if len(raw) == 0 {
			chosen = nil
			break
		}
		filtered := make([]types.Hash, 0, len(raw))
		for _, h := range raw {
			if _, dup := c.mainChainTxHash[h]; !dup {
				filtered = append(filtered, h)
			}
		}
		if len(filtered) > 0 {
			chosen = filtered
			break
		}
	}

	var txHashConcat []byte
	for _, h := range chosen {
		txHashConcat = append(txHashConcat, h[:]...)
	}
	transactionsRoot := c.kms.HashData(txHashConcat)

	var prevHash types.Hash
	if len(c.mainChain) > 0 {
		prevHash = c.mainChain[len(c.mainChain)-1]
	} else {
		prevHash = c.blockHash
	}

	header := &wire.Header{
		Version:          1,
		PrevHash:         prevHash,
		Timestamp:        uint64(time.Now().UnixMilli()),
		Height:           c.blockNumber + uint64(len(c.mainChain)) + 1,
		TransactionsRoot: transactionsRoot,
		Proposer:         c.nodeAddress,
	}
	headerBytes := wire.MarshalHeader(header)
	blockHash := c.kms.HashData(headerBytes)

	cb := block.NewCompactBlock(header, chosen)
	level := len(c.mainChain)
	if level >= len(c.forkTree) {
		return nil, errs.New(errs.NoForkTree, "fork tree exhausted at level %d", level)
	}
	if _, exists := c.forkTree[level][blockHash]; !exists {
		c.forkTree[level][blockHash] = &forkEntry{Block: cb}
	}
	c.candidate = &candidateBlock{Height: header.Height, Hash: blockHash}

	if err := c.syncStore.WriteProposal(blockHash, cb.Marshal()); err != nil {
		log.Chain.Warn().Err(err).Str("hash", blockHash.String()).Msg("write proposal failed")
	}
	return cb, nil
}

// AddRemoteProposal accepts a peer-proposed candidate block into the fork
// tree. It never overwrites an existing entry for the same hash.
func (c *Chain) AddRemoteProposal(cb *block.CompactBlock) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	height := cb.Header.Height
	if height <= c.blockNumber {
		return errs.New(errs.ProposalTooLow, "height %d <= current %d", height, c.blockNumber)
	}
	if height-c.blockNumber > uint64(len(c.forkTree)) {
		return errs.New(errs.ProposalTooHigh, "height %d exceeds fork tree span", height)
	}

	headerBytes := wire.MarshalHeader(cb.Header)
	hash := c.kms.HashData(headerBytes)
	level := int(height - c.blockNumber - 1)
	if _, exists := c.forkTree[level][hash]; !exists {
		c.forkTree[level][hash] = &forkEntry{Block: cb}
	}
	return nil
}

// CheckProposal validates a consensus-exchanged proposal against the fork
// tree and the executed state root of the appropriate ancestor. The bool
// result is true whenever the proposal is accepted (including the case
// where it is for an already-finalized height); a non-nil error always
// means false.
func (c *Chain) CheckProposal(ctx context.Context, height uint64, proposalBytes []byte) (bool, error) {
	if len(proposalBytes) < 64 {
		return false, errs.New(errs.HashLenError, "proposal too short: %d bytes", len(proposalBytes))
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if height <= c.blockNumber {
		return true, nil
	}
	if height > c.blockNumber+uint64(len(c.forkTree)) {
		return false, errs.New(errs.ProposalTooHigh, "height %d exceeds fork tree span", height)
	}

	var blockHash types.Hash
	copy(blockHash[:], proposalBytes[0:32])
	level := int(height - c.blockNumber - 1)
	entry, ok := c.forkTree[level][blockHash]
	if !ok {
		return false, errs.New(errs.NoCandidate, "no candidate at height %d hash %s", height, blockHash)
	}

	for _, txHash := range entry.Block.Body.TxHashes {
		if !c.pool.Contains(txHash) {
			return false, errs.New(errs.NoTransaction, "tx %s not in pool", txHash)
		}
	}

	expectedRoot, expectedProof, err := c.extractProposalInfoLocked(ctx, height)
	if err != nil {
		return false, err
	}

	var gotRoot types.Hash
	copy(gotRoot[:], proposalBytes[32:64])
	if gotRoot != expectedRoot {
		return false, errs.New(errs.HashCheckError, "pre_state_root mismatch")
	}
	gotProof := proposalBytes[64:]
	if string(gotProof) != string(expectedProof) {
		return false, errs.New(errs.HashCheckError, "pre_proof mismatch")
	}
	return true, nil
}

// CommitBlock attaches proof to the committed proposal, walks the fork
// tree back to a finalized ancestor, and switches the main chain if the
// resulting candidate chain is strictly longer.
func (c *Chain) CommitBlock(ctx context.Context, height uint64, proposalBytes, proof []byte) error {
	if len(proposalBytes) < 32 {
		return errs.New(errs.HashLenError, "proposal too short")
	}
	var bh types.Hash
	copy(bh[:], proposalBytes[0:32])

	c.mu.Lock()
	defer c.mu.Unlock()

	if height <= c.blockNumber || height > c.blockNumber+uint64(len(c.forkTree)) {
		return errs.New(errs.NoForkTree, "height %d out of fork tree range", height)
	}
	level := int(height - c.blockNumber - 1)
	leaf, ok := c.forkTree[level][bh]
	if !ok {
		return errs.New(errs.NoCandidate, "commit target not in fork tree")
	}
	leaf.Proof = proof

	candidateChain := []types.Hash{bh}
	txSet := make(map[types.Hash]struct{}, len(leaf.Block.Body.TxHashes))
	for _, h := range leaf.Block.Body.TxHashes {
		txSet[h] = struct{}{}
	}
	prevHash := leaf.Block.Header.PrevHash

	for k := 0; k < level; k++ {
		ancestorLevel := level - k - 1
		ancestor, ok := c.forkTree[ancestorLevel][prevHash]
		if !ok {
			return errs.New(errs.NoForkTree, "candidate chain interrupted at level %d", ancestorLevel)
		}
		if ancestor.Proof == nil {
			return errs.New(errs.NoProof, "candidate chain missing proof at level %d", ancestorLevel)
		}
		for _, h := range ancestor.Block.Body.TxHashes {
			if _, dup := txSet[h]; dup {
				return errs.New(errs.DupTransaction, "candidate chain has duplicate tx %s", h)
			}
		}
		candidateChain = append(candidateChain, prevHash)
		for _, h := range ancestor.Block.Body.TxHashes {
			txSet[h] = struct{}{}
		}
		prevHash = ancestor.Block.Header.PrevHash
	}

	if prevHash != c.blockHash {
		oldest := candidateChain[len(candidateChain)-1]
		delete(c.forkTree[0], oldest)
		c.syncStore.DeleteProposal(oldest)
		return errs.New(errs.BlockCheckError, "candidate chain does not fit finalized block")
	}

	if len(candidateChain) <= len(c.mainChain) {
		return nil
	}

	// reverse into ascending order
	for i, j := 0, len(candidateChain)-1; i < j; i, j = i+1, j-1 {
		candidateChain[i], candidateChain[j] = candidateChain[j], candidateChain[i]
	}
	c.mainChain = candidateChain
	c.mainChainTxHash = txSet
	c.candidate = nil
	log.Chain.Info().Int("main_chain_len", len(c.mainChain)).Msg("main chain switched")

	if uint64(len(c.mainChain)) > c.cfg.Delay {
		if err := c.finalizeWindowLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// finalizeWindowLocked peels off every block that has fallen outside the
// delay window and finalizes it in order. Caller holds the write lock.
func (c *Chain) finalizeWindowLocked(ctx context.Context) error {
	finalizedCount := len(c.mainChain) - int(c.cfg.Delay)
	var finalizedTxHashes []types.Hash

	for idx := 0; idx < finalizedCount; idx++ {
		bhash := c.mainChain[idx]
		entry, ok := c.forkTree[idx][bhash]
		if !ok {
			return errs.New(errs.NoBlock, "finalize: missing block at level %d", idx)
		}
		if err := c.finalizeBlockLocked(ctx, entry.Block, entry.Proof, bhash, false); err != nil {
			return err
		}
		finalizedTxHashes = append(finalizedTxHashes, entry.Block.Body.TxHashes...)
	}

	c.blockNumber += uint64(finalizedCount)
	c.blockHash = c.mainChain[finalizedCount-1]
	c.mainChain = append([]types.Hash(nil), c.mainChain[finalizedCount:]...)

	finalizedSet := make(map[types.Hash]struct{}, len(finalizedTxHashes))
	for _, h := range finalizedTxHashes {
		finalizedSet[h] = struct{}{}
	}
	for h := range c.mainChainTxHash {
		if _, gone := finalizedSet[h]; gone {
			delete(c.mainChainTxHash, h)
		}
	}

	for lvl := 0; lvl < finalizedCount; lvl++ {
		for h := range c.forkTree[lvl] {
			c.syncStore.DeleteProposal(h)
		}
	}
	c.forkTree = append(c.forkTree[finalizedCount:], newEmptyLevels(finalizedCount)...)
	c.candidate = nil
	return nil
}

func newEmptyLevels(n int) []map[types.Hash]*forkEntry {
	out := make([]map[types.Hash]*forkEntry, n)
	for i := range out {
		out[i] = make(map[types.Hash]*forkEntry)
	}
	return out
}

// finalizeBlockLocked implements the durability-ordered side effects of
// finalization. Caller holds the write lock.
func (c *Chain) finalizeBlockLocked(ctx context.Context, cb *block.CompactBlock, proof []byte, hash types.Hash, isSync bool) error {
	height := cb.Header.Height

	if err := c.storage.StoreData(ctx, RegionHeightToHash, heightKey(height), hash[:]); err != nil {
		return errs.Wrap(errs.StoreError, err, "store height->hash")
	}
	if err := c.storage.StoreData(ctx, RegionHashToHeight, hash[:], heightKey(height)); err != nil {
		return errs.Wrap(errs.StoreError, err, "store hash->height")
	}

	if !c.syncStore.HasSyncBlock(height) {
		bundle := append(cb.Marshal(), proof...)
		if err := c.syncStore.WriteSyncBlock(height, bundle); err != nil {
			return errs.Wrap(errs.StoreError, err, "write sync bundle")
		}
	}

	for idx, txHash := range cb.Body.TxHashes {
		raw, err := c.syncStore.MoveTxToFinalized(txHash)
		if err != nil {
			log.Chain.Warn().Err(err).Str("tx", txHash.String()).Msg("move finalized tx failed")
		} else if decoded, derr := tx.Decode(raw); derr == nil {
			if cfgTx, ok := decoded.(*tx.SystemConfigTx); ok {
				if c.auth.UpdateSystemConfig(cfgTx) {
					lockKey := lockIDKey(cfgTx.LockID)
					if serr := c.storage.StoreData(ctx, RegionGlobal, lockKey, cfgTx.Hash()[:]); serr != nil {
						log.Chain.Warn().Err(serr).Msg("store config lock record failed")
					}
					if cfgTx.LockID == tx.LockIDValidators || cfgTx.LockID == tx.LockIDBlockInterval {
						if rerr := c.consensus.Reconfigure(ctx, height, c.auth.SystemConfig()); rerr != nil {
							log.Chain.Warn().Err(rerr).Msg("consensus reconfigure failed")
						}
					}
				}
			}
		}
		if err := c.storage.StoreData(ctx, RegionTxToHeight, txHash[:], heightKey(height)); err != nil {
			log.Chain.Warn().Err(err).Msg("store tx->height failed")
		}
		if err := c.storage.StoreData(ctx, RegionTxToIndex, txHash[:], heightKey(uint64(idx))); err != nil {
			log.Chain.Warn().Err(err).Msg("store tx->index failed")
		}
	}

	stateRoot, err := c.executor.ExecBlock(ctx, height, cb.Marshal())
	if err != nil {
		log.Chain.Error().Err(err).Uint64("height", height).Msg("exec_block failed, substituting zero root")
		stateRoot = types.Hash{}
	}
	if err := c.storage.StoreData(ctx, RegionStateRoot, heightKey(height), stateRoot[:]); err != nil {
		return errs.Wrap(errs.StoreError, err, "store state root")
	}

	c.auth.InsertTxHash(height, cb.Body.TxHashes)
	c.pool.Update(cb.Body.TxHashes)

	if err := c.storage.StoreData(ctx, RegionGlobal, []byte{0}, heightKey(height)); err != nil {
		return errs.Wrap(errs.StoreError, err, "publish tip height")
	}
	if err := c.storage.StoreData(ctx, RegionGlobal, []byte{1}, hash[:]); err != nil {
		return errs.Wrap(errs.StoreError, err, "publish tip hash")
	}

	log.Chain.Debug().Uint64("height", height).Bool("sync", isSync).Msg("block finalized")
	return nil
}

// extractProposalInfoLocked recomputes the (pre_state_root, pre_proof) pair
// a proposal at height h must carry, drawn from the block at height
// h-delay-1. Caller holds at least the read lock.
func (c *Chain) extractProposalInfoLocked(ctx context.Context, h uint64) (types.Hash, []byte, error) {
	if h <= c.cfg.Delay {
		return types.Hash{}, nil, errs.New(errs.ProposalCheckError, "height %d too low for delay %d", h, c.cfg.Delay)
	}
	refHeight := h - c.cfg.Delay - 1

	stateRootBytes, err := c.storage.LoadData(ctx, RegionStateRoot, heightKey(refHeight))
	if err != nil {
		return types.Hash{}, nil, errs.Wrap(errs.StoreError, err, "state root at height %d", refHeight)
	}
	var stateRoot types.Hash
	copy(stateRoot[:], stateRootBytes)

	bundle, ok, err := c.syncStore.ReadSyncBlock(refHeight)
	if err != nil {
		return types.Hash{}, nil, errs.Wrap(errs.StoreError, err, "sync bundle at height %d", refHeight)
	}
	if !ok {
		return types.Hash{}, nil, errs.New(errs.NoProof, "no sync bundle at height %d", refHeight)
	}
	_, proof, err := block.UnmarshalWithRemainder(bundle)
	if err != nil {
		return types.Hash{}, nil, errs.Wrap(errs.DecodeError, err, "sync bundle at height %d", refHeight)
	}
	return stateRoot, proof, nil
}

// ProcSyncBlock catches the local chain up from the sync directory, one
// block at a time, until a height is missing or a consensus check fails.
// The Chain write lock is held for the whole catch-up loop, not just each
// iteration, so a live commit can never interleave with a sync in progress.
func (c *Chain) ProcSyncBlock(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		h := c.blockNumber + 1

		bundle, ok, err := c.syncStore.ReadSyncBlock(h)
		if err != nil {
			return errs.Wrap(errs.StoreError, err, "read sync bundle at height %d", h)
		}
		if !ok {
			log.Chain.Info().Uint64("height", c.blockNumber).Msg("sync break, no further blocks")
			return nil
		}

		cb, proof, err := block.UnmarshalWithRemainder(bundle)
		if err != nil {
			return errs.Wrap(errs.DecodeError, err, "decode sync bundle at height %d", h)
		}
		if cb.Header.Height != h {
			return errs.New(errs.ProposalCheckError, "sync block %d has height %d", h, cb.Header.Height)
		}
		if cb.Header.PrevHash != c.blockHash {
			return errs.New(errs.HashCheckError, "sync block %d has unexpected prevhash", h)
		}

		skip := false
		for _, txHash := range cb.Body.TxHashes {
			if !c.pool.Contains(txHash) {
				log.Chain.Warn().Uint64("height", h).Str("tx", txHash.String()).Msg("sync block tx missing from pool")
				skip = true
				break
			}
		}
		if skip {
			return nil
		}

		headerBytes := wire.MarshalHeader(cb.Header)
		blockHash := c.kms.HashData(headerBytes)

		preStateRoot, preProof, err := c.extractProposalInfoLocked(ctx, h)
		if err != nil {
			return err
		}
		proposal := make([]byte, 0, 64+len(preProof))
		proposal = append(proposal, blockHash[:]...)
		proposal = append(proposal, preStateRoot[:]...)
		proposal = append(proposal, preProof...)

		ok, err = c.consensus.CheckBlock(ctx, h, proposal, proof)
		if err != nil {
			return errs.Wrap(errs.ConsensusProposalCheckError, err, "check_block at height %d", h)
		}
		if !ok {
			return errs.New(errs.ConsensusProposalCheckError, "check_block rejected height %d", h)
		}

		if err := c.finalizeBlockLocked(ctx, cb, proof, blockHash, true); err != nil {
			return err
		}

		c.blockNumber = h
		c.blockHash = blockHash
		c.candidate = nil
		c.mainChain = nil
		c.mainChainTxHash = make(map[types.Hash]struct{})

		for _, lvl := range c.forkTree[:1] {
			for bh := range lvl {
				c.syncStore.DeleteProposal(bh)
			}
		}
		c.forkTree = append(c.forkTree[1:], newEmptyLevels(1)...)

		log.Chain.Info().Uint64("height", h).Msg("synced block")
	}
}

func heightKey(height uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)
	return b
}

func lockIDKey(lockID uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, lockID)
	return b
}
