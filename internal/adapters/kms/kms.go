// Package kms adapts the core's crypto primitives behind the RPC-shaped KMS
// interface the chain state machine and node manager depend on: hashing and
// signature verification are treated as an external service, not a
// core-internal helper.
package kms

import (
	"github.com/Klingon-tech/controller-core/pkg/crypto"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// Adapter implements internal/chain.KMS. internal/nodemgr does not use it:
// NodeManager verifies status signatures with pkg/crypto directly.
type Adapter struct{}

// New creates a KMS adapter.
func New() *Adapter {
	return &Adapter{}
}

// HashData returns the blake3 digest of data.
func (a *Adapter) HashData(data []byte) types.Hash {
	return crypto.Hash(data)
}

// CheckSig verifies a Schnorr signature over hash against publicKey.
func (a *Adapter) CheckSig(hash, signature, publicKey []byte) bool {
	return crypto.VerifySignature(hash, signature, publicKey)
}
