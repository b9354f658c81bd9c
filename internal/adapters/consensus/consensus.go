// Package consensus provides the block-agreement adapter Chain consults
// before committing a block and notifies whenever validators or the block
// interval change. The controller core's job ends at fork-tree bookkeeping
// and delayed finality; the actual agreement protocol (BFT voting, PoS
// attestation, or a single-sequencer rubber stamp) is deployment-specific.
//
// No library in the surrounding stack ships a pluggable consensus engine
// with this exact shape, so the always-accept stand-in here is implemented
// directly against the standard library: a deployment replaces it with a
// real BFT/PoS client without the core caring which one.
package consensus

import (
	"context"

	"github.com/Klingon-tech/controller-core/internal/auth"
	"github.com/Klingon-tech/controller-core/internal/log"
)

// Adapter implements internal/chain.Consensus by accepting every block and
// logging reconfiguration notices.
type Adapter struct{}

// New creates a consensus adapter.
func New() *Adapter {
	return &Adapter{}
}

// Reconfigure records that the validator set or block interval changed.
func (a *Adapter) Reconfigure(ctx context.Context, height uint64, cfg auth.SystemConfig) error {
	log.Consensus.Info().
		Uint64("height", height).
		Uint64("block_interval", cfg.BlockInterval).
		Int("validators", len(cfg.Validators)).
		Msg("system config reconfigured")
	return nil
}

// CheckBlock always accepts. A real deployment replaces this with a call
// into its agreement protocol.
func (a *Adapter) CheckBlock(ctx context.Context, height uint64, proposal, proof []byte) (bool, error) {
	return true, nil
}
