// Package executor provides the block-execution adapter the chain state
// machine calls after a block finalizes. The controller core itself is
// concerned with ordering and finality, not application semantics, so this
// adapter stands in for whatever deterministic state-transition function a
// deployment plugs in: it hashes the block body into a state root rather
// than interpreting it.
//
// No library in the surrounding stack provides a pluggable, embeddable VM or
// state-transition engine; the deterministic stand-in here is implemented
// directly against the standard library rather than against a third-party
// dependency, since adopting one would mean picking an arbitrary execution
// model the rest of the core has no opinion about.
package executor

import (
	"context"
	"encoding/binary"

	"github.com/Klingon-tech/controller-core/pkg/crypto"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// Adapter implements internal/chain.Executor.
type Adapter struct{}

// New creates an executor adapter.
func New() *Adapter {
	return &Adapter{}
}

// ExecBlock derives a state root deterministically from height and body.
// A real deployment replaces this with an application-specific state
// transition function; the controller core only needs the result to be
// deterministic and reproducible across nodes.
func (a *Adapter) ExecBlock(ctx context.Context, height uint64, body []byte) (types.Hash, error) {
	var heightBytes [8]byte
	binary.BigEndian.PutUint64(heightBytes[:], height)
	return crypto.Hash(append(heightBytes[:], body...)), nil
}
