package chain

import (
	"context"

	"github.com/Klingon-tech/controller-core/internal/auth"
	"github.com/Klingon-tech/controller-core/pkg/tx"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// Storage regions, per the external key/value namespace model.
const (
	RegionGlobal       uint32 = 0
	RegionHeader       uint32 = 2
	RegionBody         uint32 = 3
	RegionHeightToHash uint32 = 4
	RegionStateRoot    uint32 = 6
	RegionTxToHeight   uint32 = 7
	RegionHashToHeight uint32 = 8
	RegionTxToIndex    uint32 = 9
)

// Storage is the external key/value RPC Chain depends on for durable state
// other than proof bytes (those live in the sync directory bundle; see
// SyncStore).
type Storage interface {
	StoreData(ctx context.Context, region uint32, key, value []byte) error
	LoadData(ctx context.Context, region uint32, key []byte) ([]byte, error)
}

// SyncStore is the filesystem pub/sub Chain uses for proposal files and the
// durable sync-directory block+proof bundles.
type SyncStore interface {
	WriteProposal(hash types.Hash, data []byte) error
	DeleteProposal(hash types.Hash)
	HasSyncBlock(height uint64) bool
	WriteSyncBlock(height uint64, bundle []byte) error
	ReadSyncBlock(height uint64) ([]byte, bool, error)

	// MoveTxToFinalized moves a pending raw tx into the finalized folder,
	// returning its bytes.
	MoveTxToFinalized(hash types.Hash) ([]byte, error)
}

// KMS is the external hashing/signature service.
type KMS interface {
	HashData(data []byte) types.Hash
}

// Executor runs a finalized block against application state.
type Executor interface {
	ExecBlock(ctx context.Context, height uint64, body []byte) (types.Hash, error)
}

// Consensus is notified of config changes and asked to validate proposals.
type Consensus interface {
	Reconfigure(ctx context.Context, height uint64, cfg auth.SystemConfig) error
	CheckBlock(ctx context.Context, height uint64, proposal, proof []byte) (bool, error)
}

// Pool is the subset of the transaction pool Chain depends on.
type Pool interface {
	Enqueue(h types.Hash) bool
	Contains(h types.Hash) bool
	Package(limit int) []types.Hash
	Update(hashes []types.Hash)
	Len() int
}

// Auth is the subset of Authentication Chain depends on.
type Auth interface {
	InsertTxHash(height uint64, hashes []types.Hash)
	UpdateSystemConfig(cfgTx *tx.SystemConfigTx) bool
	SystemConfig() auth.SystemConfig
}
