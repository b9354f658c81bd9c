// Package controller implements Controller (C6): the facade wiring Pool,
// Authentication, Chain, NodeManager, and SyncManager together, and the
// filesystem dispatch loop that turns writes under the watched sync
// directories into the same calls an RPC client would make.
package controller

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/Klingon-tech/controller-core/internal/auth"
	"github.com/Klingon-tech/controller-core/internal/chain"
	"github.com/Klingon-tech/controller-core/internal/errs"
	"github.com/Klingon-tech/controller-core/internal/log"
	"github.com/Klingon-tech/controller-core/internal/nodemgr"
	"github.com/Klingon-tech/controller-core/internal/pool"
	"github.com/Klingon-tech/controller-core/internal/syncmgr"
	"github.com/Klingon-tech/controller-core/internal/watcher"
	"github.com/Klingon-tech/controller-core/pkg/block"
	"github.com/Klingon-tech/controller-core/pkg/tx"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// Storage is the subset of the region-scoped key/value adapter Controller
// reads directly, for RPCs Chain itself has no reason to serve.
type Storage interface {
	LoadData(ctx context.Context, region uint32, key []byte) ([]byte, error)
}

// Network is the peer-count/broadcast surface Controller exposes over RPC.
type Network interface {
	GetNetworkStatus() int
}

// Controller wires the core components together and drives the
// once-per-second sync directory dispatch loop.
type Controller struct {
	pool    *pool.Pool
	auth    *auth.Auth
	chain   *chain.Chain
	nodeMgr *nodemgr.NodeManager
	syncMgr *syncmgr.SyncManager
	net     Network
	storage Storage
	store   RawTxStore
	watcher *watcher.Watcher

	dispatchTick time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RawTxStore is the subset of syncstore.Store the dispatch loop and
// SendRawTransaction need for the pending-tx filesystem pub/sub.
type RawTxStore interface {
	HasRawTx(hash types.Hash) bool
	WriteRawTx(hash types.Hash, data []byte) error
	ReadRawTx(hash types.Hash) ([]byte, error)
	RemoveRawTx(filename string)
	ReadProposal(hash types.Hash) ([]byte, error)
	RemoveProposalFile(filename string)
}

// New wires a Controller over its already-constructed collaborators.
func New(p *pool.Pool, a *auth.Auth, c *chain.Chain, nm *nodemgr.NodeManager, sm *syncmgr.SyncManager,
	net Network, storage Storage, store RawTxStore, w *watcher.Watcher, dispatchTick time.Duration) *Controller {
	return &Controller{
		pool:         p,
		auth:         a,
		chain:        c,
		nodeMgr:      nm,
		syncMgr:      sm,
		net:          net,
		storage:      storage,
		store:        store,
		watcher:      w,
		dispatchTick: dispatchTick,
	}
}

// Init finalizes genesis (a no-op past height 0), seeds the first local
// proposal, clears Authentication's included-tx history, and starts the
// filesystem watch/dispatch loop.
func (ctl *Controller) Init(ctx context.Context, initBlockNumber uint64, genesis *block.CompactBlock) error {
	if err := ctl.chain.Init(ctx, initBlockNumber, genesis); err != nil {
		return err
	}
	if _, err := ctl.chain.AddProposal(); err != nil {
		log.Controller.Warn().Err(err).Msg("initial add_proposal failed")
	}
	ctl.auth.Init(initBlockNumber)

	runCtx, cancel := context.WithCancel(ctx)
	ctl.cancel = cancel

	ctl.wg.Add(1)
	go func() {
		defer ctl.wg.Done()
		ctl.watcher.Watch(runCtx)
	}()

	ctl.wg.Add(1)
	go func() {
		defer ctl.wg.Done()
		ctl.watcher.Run(runCtx, func(events []watcher.Event) { ctl.dispatch(runCtx, events) })
	}()

	return nil
}

// Stop cancels the watch/dispatch loop and waits for it to exit.
func (ctl *Controller) Stop() {
	if ctl.cancel != nil {
		ctl.cancel()
	}
	ctl.wg.Wait()
}

// dispatch handles one batch of filesystem events, exactly the three
// folders the watcher is configured over: pending transactions, candidate
// proposals, and durable sync blocks.
func (ctl *Controller) dispatch(ctx context.Context, events []watcher.Event) {
	for _, ev := range events {
		switch ev.Folder {
		case "txs":
			ctl.dispatchTx(ctx, ev.Filename)
		case "proposals":
			ctl.dispatchProposal(ctx, ev.Filename)
		case "blocks":
			ctl.dispatchSyncBlock(ctx, ev.Filename)
		default:
			log.Controller.Warn().Str("folder", ev.Folder).Msg("unexpected watch folder")
		}
	}
}

func (ctl *Controller) dispatchTx(ctx context.Context, filename string) {
	hashBytes, err := hex.DecodeString(filename)
	if err != nil || len(hashBytes) != types.HashSize {
		log.Controller.Warn().Str("file", filename).Msg("sync tx filename not a hash")
		ctl.store.RemoveRawTx(filename)
		return
	}
	var hash types.Hash
	copy(hash[:], hashBytes)

	raw, err := ctl.store.ReadRawTx(hash)
	if err != nil {
		log.Controller.Warn().Err(err).Msg("sync tx read failed")
		ctl.store.RemoveRawTx(filename)
		return
	}

	got, err := ctl.SendRawTransaction(ctx, raw)
	if err == nil {
		if got == hash {
			return
		}
		log.Controller.Warn().Str("got", got.String()).Str("want", hash.String()).Msg("sync tx hash mismatch")
	} else if errs.Of(err, errs.DupTransaction) {
		return
	} else {
		log.Controller.Warn().Err(err).Msg("add sync tx failed")
	}
	log.Controller.Warn().Str("file", filename).Msg("sync tx invalid")
	ctl.store.RemoveRawTx(filename)
}

func (ctl *Controller) dispatchProposal(ctx context.Context, filename string) {
	hashBytes, err := hex.DecodeString(filename)
	if err != nil || len(hashBytes) != types.HashSize {
		log.Controller.Warn().Str("file", filename).Msg("decode proposal filename failed")
		ctl.store.RemoveProposalFile(filename)
		return
	}
	var hash types.Hash
	copy(hash[:], hashBytes)

	data, err := ctl.store.ReadProposal(hash)
	if err != nil {
		log.Controller.Warn().Err(err).Msg("get_proposal failed")
		ctl.store.RemoveProposalFile(filename)
		return
	}
	cb, err := block.Unmarshal(data)
	if err != nil {
		log.Controller.Warn().Err(err).Msg("decode proposal block failed")
		ctl.store.RemoveProposalFile(filename)
		return
	}
	log.Controller.Info().Str("hash", hash.String()).Msg("add proposal")
	if err := ctl.chain.AddRemoteProposal(cb); err != nil {
		log.Controller.Warn().Err(err).Msg("add_remote_proposal failed")
		ctl.store.RemoveProposalFile(filename)
	}
}

func (ctl *Controller) dispatchSyncBlock(ctx context.Context, filename string) {
	if _, err := strconv.ParseUint(filename, 10, 64); err != nil {
		log.Controller.Warn().Str("file", filename).Msg("sync block filename invalid")
		return
	}
	if err := ctl.chain.ProcSyncBlock(ctx); err != nil {
		log.Controller.Warn().Err(err).Msg("proc_sync_block failed")
	}
}

// GetBlockNumber reports the finalized height, or the pending tip height
// (including in-flight candidates) when pending is true.
func (ctl *Controller) GetBlockNumber(pending bool) uint64 {
	return ctl.chain.GetBlockNumber(pending)
}

// SendRawTransaction decodes, validates, and enqueues a raw transaction,
// persisting it to the pending-tx filesystem store on first sight.
func (ctl *Controller) SendRawTransaction(ctx context.Context, raw []byte) (types.Hash, error) {
	decoded, err := tx.Decode(raw)
	if err != nil {
		return types.Hash{}, errs.Wrap(errs.DecodeError, err, "decode raw transaction")
	}

	currentHeight := ctl.chain.GetBlockNumber(false)
	var hash types.Hash
	switch t := decoded.(type) {
	case *tx.Transaction:
		hash, err = ctl.auth.CheckRawTx(t, currentHeight)
	case *tx.SystemConfigTx:
		hash, err = ctl.auth.CheckSystemConfigTx(t, currentHeight)
	default:
		return types.Hash{}, errs.New(errs.DecodeError, "unrecognized transaction shape")
	}
	if err != nil {
		return hash, err
	}

	if !ctl.store.HasRawTx(hash) {
		if werr := ctl.store.WriteRawTx(hash, raw); werr != nil {
			log.Controller.Warn().Err(werr).Msg("persist pending tx failed")
		}
	}
	if !ctl.pool.Enqueue(hash) {
		return hash, errs.New(errs.DupTransaction, "tx %s already pending", hash)
	}
	return hash, nil
}

// GetBlockByHash resolves a block hash to its height via storage region 8,
// then defers to GetBlockByNumber.
func (ctl *Controller) GetBlockByHash(ctx context.Context, hash types.Hash) (*block.CompactBlock, error) {
	heightBytes, err := ctl.storage.LoadData(ctx, chain.RegionHashToHeight, hash[:])
	if err != nil {
		return nil, errs.Wrap(errs.NoBlockHeight, err, "load height for hash %s", hash)
	}
	return ctl.chain.GetBlockByNumber(ctx, binary.BigEndian.Uint64(heightBytes))
}

// GetBlockByNumber reads back a finalized block.
func (ctl *Controller) GetBlockByNumber(ctx context.Context, height uint64) (*block.CompactBlock, error) {
	return ctl.chain.GetBlockByNumber(ctx, height)
}

// GetBlockHash resolves a finalized height to its block hash via storage
// region 4.
func (ctl *Controller) GetBlockHash(ctx context.Context, height uint64) (types.Hash, error) {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], height)
	hashBytes, err := ctl.storage.LoadData(ctx, chain.RegionHeightToHash, key[:])
	if err != nil {
		return types.Hash{}, errs.Wrap(errs.NoBlockHash, err, "load hash for height %d", height)
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return hash, nil
}

// GetTxBlockNumber resolves a finalized tx hash to the height it landed in,
// via storage region 7.
func (ctl *Controller) GetTxBlockNumber(ctx context.Context, txHash types.Hash) (uint64, error) {
	v, err := ctl.storage.LoadData(ctx, chain.RegionTxToHeight, txHash[:])
	if err != nil {
		return 0, errs.Wrap(errs.NoBlockHeight, err, "load block number for tx %s", txHash)
	}
	return binary.BigEndian.Uint64(v), nil
}

// GetTxIndex resolves a finalized tx hash to its index within its block,
// via storage region 9.
func (ctl *Controller) GetTxIndex(ctx context.Context, txHash types.Hash) (uint64, error) {
	v, err := ctl.storage.LoadData(ctx, chain.RegionTxToIndex, txHash[:])
	if err != nil {
		return 0, errs.Wrap(errs.NoBlockHeight, err, "load tx index for tx %s", txHash)
	}
	return binary.BigEndian.Uint64(v), nil
}

// GetPeerCount reports the number of connected network peers.
func (ctl *Controller) GetPeerCount() int {
	return ctl.net.GetNetworkStatus()
}

// GetSystemConfig returns the current system configuration.
func (ctl *Controller) GetSystemConfig() auth.SystemConfig {
	return ctl.auth.SystemConfig()
}

// ChainGetProposal returns the cached local candidate, triggering a fresh
// add_proposal and returning an error when none is outstanding (the caller
// is expected to retry).
func (ctl *Controller) ChainGetProposal() ([]byte, error) {
	if data, ok := ctl.chain.GetProposal(); ok {
		return data, nil
	}
	if _, err := ctl.chain.AddProposal(); err != nil {
		log.Controller.Warn().Err(err).Msg("add_proposal failed")
	}
	return nil, errs.New(errs.NoCandidate, "no proposal available yet")
}

// ChainCheckProposal validates a consensus-exchanged proposal.
func (ctl *Controller) ChainCheckProposal(ctx context.Context, height uint64, proposal []byte) (bool, error) {
	return ctl.chain.CheckProposal(ctx, height, proposal)
}

// ChainCommitBlock commits a proposal with its attached proof.
func (ctl *Controller) ChainCommitBlock(ctx context.Context, height uint64, proposal, proof []byte) error {
	return ctl.chain.CommitBlock(ctx, height, proposal, proof)
}

// ProcessNetworkMsg handles an inbound peer status announcement, validating
// it against the local chain tip before recording the peer in NodeManager.
func (ctl *Controller) ProcessNetworkMsg(init types.ChainStatusInit) error {
	own := types.ChainStatus{
		Version: ctl.auth.SystemConfig().Version,
		ChainID: ctl.auth.SystemConfig().ChainID,
		Height:  ctl.chain.GetBlockNumber(false),
		Hash:    ctl.chain.BlockHash(),
	}
	blockHashAt := func(height uint64) (types.Hash, error) {
		return ctl.GetBlockHash(context.Background(), height)
	}
	if err := nodemgr.CheckChainStatusInit(init, own, blockHashAt); err != nil {
		return err
	}
	return ctl.nodeMgr.SetNode(init.Status.Address, init.Status)
}
