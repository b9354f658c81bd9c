// Package auth implements Authentication (C2): raw transaction validation
// against the system-config state, and the system-config transaction
// pipeline that may trigger a consensus reconfiguration.
package auth

import (
	"sync"

	"github.com/Klingon-tech/controller-core/internal/errs"
	"github.com/Klingon-tech/controller-core/internal/log"
	"github.com/Klingon-tech/controller-core/pkg/tx"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// SystemConfig holds the chain-wide configuration Authentication enforces
// and mutates, plus a record of which config tx last touched each lock id.
type SystemConfig struct {
	ChainID        types.ChainID
	Version        uint32
	AdminAddresses []types.Address
	BlockInterval  uint64
	Validators     []types.Address
	EmergencyBrake bool

	// LockTxHash records the UTXO config tx hash that last mutated each
	// lock id, so finalize_block can persist it under storage region 0.
	LockTxHash map[uint32]types.Hash
}

func newSystemConfig(chainID types.ChainID, version uint32, validators []types.Address, blockInterval uint64) SystemConfig {
	return SystemConfig{
		ChainID:       chainID,
		Version:       version,
		Validators:    append([]types.Address(nil), validators...),
		BlockInterval: blockInterval,
		LockTxHash:    make(map[uint32]types.Hash),
	}
}

// Auth is Authentication's component state.
type Auth struct {
	mu     sync.RWMutex
	config SystemConfig

	// validUntilWindow bounds how far past currentHeight a tx's
	// valid_until_block may sit: CheckRawTx/CheckSystemConfigTx require
	// current < valid_until_block <= current+validUntilWindow. It also
	// doubles as the eviction horizon for included, since once currentHeight
	// passes a finalized tx's valid_until_block by more than this window the
	// lower-bound check alone already rejects any replay of it.
	validUntilWindow uint64

	// included maps a finalized tx hash to the height it was finalized at;
	// entries older than validUntilWindow are evicted lazily.
	included map[types.Hash]uint64
}

// New constructs Authentication with its starting system config.
func New(chainID types.ChainID, version uint32, validators []types.Address, blockInterval, validUntilWindow uint64) *Auth {
	return &Auth{
		config:           newSystemConfig(chainID, version, validators, blockInterval),
		validUntilWindow: validUntilWindow,
		included:         make(map[types.Hash]uint64),
	}
}

// Init clears the included-tx replay history on startup. It does not load
// the system config or the replay history from storage: Authentication has
// no storage handle, the config stays as constructed, and LockTxHash changes
// only through UpdateSystemConfig or ApplyStoredLock.
func (a *Auth) Init(initBlockNumber uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.included = make(map[types.Hash]uint64)
	log.Auth.Info().Uint64("init_block_number", initBlockNumber).Msg("authentication initialized")
}

// ApplyStoredLock seeds a lock id's last-known config tx hash. Init does not
// call it.
func (a *Auth) ApplyStoredLock(lockID uint32, hash types.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config.LockTxHash[lockID] = hash
}

// SystemConfig returns a copy of the current system config.
func (a *Auth) SystemConfig() SystemConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cfg := a.config
	cfg.Validators = append([]types.Address(nil), a.config.Validators...)
	cfg.AdminAddresses = append([]types.Address(nil), a.config.AdminAddresses...)
	cfg.LockTxHash = make(map[uint32]types.Hash, len(a.config.LockTxHash))
	for k, v := range a.config.LockTxHash {
		cfg.LockTxHash[k] = v
	}
	return cfg
}

// CheckRawTx validates a pending transaction against the current system
// config and replay history, at the given current chain height. It returns
// the transaction's hash on success.
func (a *Auth) CheckRawTx(t *tx.Transaction, currentHeight uint64) (types.Hash, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	h := t.Hash()

	if t.ChainID != a.config.ChainID {
		return h, errs.New(errs.VersionOrIdCheckError, "chain id mismatch")
	}
	if t.Version != a.config.Version {
		return h, errs.New(errs.VersionOrIdCheckError, "version mismatch")
	}
	if err := a.checkValidUntilBlock(t.ValidUntilBlock, currentHeight); err != nil {
		return h, err
	}
	if !t.VerifyInputs() {
		return h, errs.New(errs.HashCheckError, "signature or sender mismatch")
	}
	if _, seen := a.included[h]; seen {
		return h, errs.New(errs.DupTransaction, "tx %s already finalized", h)
	}
	return h, nil
}

// CheckSystemConfigTx validates a pending system-config transaction the same
// way CheckRawTx validates an ordinary transfer, substituting Verify for
// VerifyInputs since a config tx carries a single signature rather than a
// per-input one.
func (a *Auth) CheckSystemConfigTx(t *tx.SystemConfigTx, currentHeight uint64) (types.Hash, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	h := t.Hash()

	if t.ChainID != a.config.ChainID {
		return h, errs.New(errs.VersionOrIdCheckError, "chain id mismatch")
	}
	if t.Version != a.config.Version {
		return h, errs.New(errs.VersionOrIdCheckError, "version mismatch")
	}
	if err := a.checkValidUntilBlock(t.ValidUntilBlock, currentHeight); err != nil {
		return h, err
	}
	if !t.Verify() {
		return h, errs.New(errs.HashCheckError, "signature or sender mismatch")
	}
	if _, seen := a.included[h]; seen {
		return h, errs.New(errs.DupTransaction, "tx %s already finalized", h)
	}
	return h, nil
}

// checkValidUntilBlock enforces current < valid_until_block <= current+window.
func (a *Auth) checkValidUntilBlock(validUntilBlock, currentHeight uint64) error {
	if validUntilBlock <= currentHeight {
		return errs.New(errs.DupTransaction, "valid_until_block %d not after current height %d", validUntilBlock, currentHeight)
	}
	if validUntilBlock > currentHeight+a.validUntilWindow {
		return errs.New(errs.InvalidValidUntilBlock, "valid_until_block %d exceeds window %d+%d", validUntilBlock, currentHeight, a.validUntilWindow)
	}
	return nil
}

// UpdateSystemConfig applies a UTXO-style config transaction keyed by lock
// id. It returns true iff the config actually changed.
func (a *Auth) UpdateSystemConfig(cfgTx *tx.SystemConfigTx) bool {
	if !cfgTx.Verify() {
		log.Auth.Warn().Msg("rejected system config tx: bad signature")
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	changed := false
	switch cfgTx.LockID {
	case tx.LockIDValidators:
		validators := decodeAddressList(cfgTx.Payload)
		if !addressSliceEqual(validators, a.config.Validators) {
			a.config.Validators = validators
			changed = true
		}
	case tx.LockIDBlockInterval:
		interval := decodeUint64(cfgTx.Payload)
		if interval != a.config.BlockInterval {
			a.config.BlockInterval = interval
			changed = true
		}
	case tx.LockIDEmergencyBrake:
		brake := len(cfgTx.Payload) > 0 && cfgTx.Payload[0] != 0
		if brake != a.config.EmergencyBrake {
			a.config.EmergencyBrake = brake
			changed = true
		}
	default:
		log.Auth.Warn().Uint32("lock_id", cfgTx.LockID).Msg("unrecognized lock id")
		return false
	}

	if changed {
		a.config.LockTxHash[cfgTx.LockID] = cfgTx.Hash()
	}
	return changed
}

// InsertTxHash remembers that hashes were finalized at height, for future
// CheckRawTx replay rejection, and evicts anything older than the replay
// window.
func (a *Auth) InsertTxHash(height uint64, hashes []types.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, h := range hashes {
		a.included[h] = height
	}
	if a.validUntilWindow == 0 || height <= a.validUntilWindow {
		return
	}
	cutoff := height - a.validUntilWindow
	for h, at := range a.included {
		if at < cutoff {
			delete(a.included, h)
		}
	}
}

func decodeAddressList(payload []byte) []types.Address {
	n := len(payload) / types.AddressSize
	out := make([]types.Address, 0, n)
	for i := 0; i < n; i++ {
		var addr types.Address
		copy(addr[:], payload[i*types.AddressSize:(i+1)*types.AddressSize])
		out = append(out, addr)
	}
	return out
}

func decodeUint64(payload []byte) uint64 {
	var v uint64
	for _, b := range payload {
		v = v<<8 | uint64(b)
	}
	return v
}

func addressSliceEqual(a, b []types.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
