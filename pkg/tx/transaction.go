// Package tx defines the transaction shapes the pool and authentication
// pipeline operate on: a minimal UTXO-shaped transfer and a distinguished
// system-config transaction that Authentication treats specially.
package tx

import (
	"encoding/binary"

	"github.com/Klingon-tech/controller-core/pkg/crypto"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// OutPoint identifies a previously created output by its creating
// transaction's hash and its index within that transaction's outputs.
type OutPoint struct {
	TxHash types.Hash
	Index  uint32
}

// TxInput spends an OutPoint; Signature and PubKey authorize the spend.
type TxInput struct {
	PrevOut   OutPoint
	Signature []byte
	PubKey    []byte
}

// TxOutput locks a value behind a script.
type TxOutput struct {
	Value  uint64
	Script []byte
}

// Transaction is the ordinary UTXO-shaped transfer fed into the Pool.
type Transaction struct {
	ChainID         types.ChainID
	Version         uint32
	Inputs          []TxInput
	Outputs         []TxOutput
	ValidUntilBlock uint64
	Sender          types.Address
}

// SigningBytes returns the canonical encoding each input's signature is
// computed over: every field except the per-input signature and pubkey.
func (t *Transaction) SigningBytes() []byte {
	var buf []byte
	buf = append(buf, t.ChainID[:]...)
	buf = appendUint32(buf, t.Version)
	buf = appendUint32(buf, uint32(len(t.Inputs)))
	for _, in := range t.Inputs {
		buf = append(buf, in.PrevOut.TxHash[:]...)
		buf = appendUint32(buf, in.PrevOut.Index)
	}
	buf = appendUint32(buf, uint32(len(t.Outputs)))
	for _, out := range t.Outputs {
		buf = appendUint64(buf, out.Value)
		buf = appendUint32(buf, uint32(len(out.Script)))
		buf = append(buf, out.Script...)
	}
	buf = appendUint64(buf, t.ValidUntilBlock)
	buf = append(buf, t.Sender[:]...)
	return buf
}

// Marshal encodes the full transaction, signatures included, for hashing
// and for storage under the content-addressed tx store.
func (t *Transaction) Marshal() []byte {
	buf := t.SigningBytes()
	for _, in := range t.Inputs {
		buf = appendUint32(buf, uint32(len(in.Signature)))
		buf = append(buf, in.Signature...)
		buf = appendUint32(buf, uint32(len(in.PubKey)))
		buf = append(buf, in.PubKey...)
	}
	return buf
}

// Hash returns the content address of the transaction.
func (t *Transaction) Hash() types.Hash {
	return crypto.Hash(t.Marshal())
}

// VerifyInputs checks that every input's signature validates against the
// transaction's signing bytes and the declared sender's public key.
func (t *Transaction) VerifyInputs() bool {
	if len(t.Inputs) == 0 {
		return false
	}
	sigHash := crypto.Hash(t.SigningBytes())
	for _, in := range t.Inputs {
		if !crypto.VerifySignature(sigHash[:], in.Signature, in.PubKey) {
			return false
		}
		if crypto.AddressFromPubKey(in.PubKey) != t.Sender {
			return false
		}
	}
	return true
}

// System-config lock ids recognized by Authentication.
const (
	LockIDValidators     uint32 = 1
	LockIDBlockInterval  uint32 = 2
	LockIDEmergencyBrake uint32 = 3
)

// SystemConfigTx is the distinguished shape Authentication.update_system_config
// inspects: a lock id plus an opaque payload instead of ordinary outputs.
type SystemConfigTx struct {
	ChainID         types.ChainID
	Version         uint32
	LockID          uint32
	Payload         []byte
	ValidUntilBlock uint64
	Sender          types.Address
	Signature       []byte
	PubKey          []byte
}

// SigningBytes returns the bytes a SystemConfigTx's signature covers.
func (t *SystemConfigTx) SigningBytes() []byte {
	var buf []byte
	buf = append(buf, t.ChainID[:]...)
	buf = appendUint32(buf, t.Version)
	buf = appendUint32(buf, t.LockID)
	buf = appendUint32(buf, uint32(len(t.Payload)))
	buf = append(buf, t.Payload...)
	buf = appendUint64(buf, t.ValidUntilBlock)
	buf = append(buf, t.Sender[:]...)
	return buf
}

// Marshal encodes the full system-config transaction, signature included.
func (t *SystemConfigTx) Marshal() []byte {
	buf := t.SigningBytes()
	buf = appendUint32(buf, uint32(len(t.Signature)))
	buf = append(buf, t.Signature...)
	buf = appendUint32(buf, uint32(len(t.PubKey)))
	buf = append(buf, t.PubKey...)
	return buf
}

// Hash returns the content address of the system-config transaction.
func (t *SystemConfigTx) Hash() types.Hash {
	return crypto.Hash(t.Marshal())
}

// Verify checks the attached signature against the signing bytes and sender.
func (t *SystemConfigTx) Verify() bool {
	sigHash := crypto.Hash(t.SigningBytes())
	if !crypto.VerifySignature(sigHash[:], t.Signature, t.PubKey) {
		return false
	}
	return crypto.AddressFromPubKey(t.PubKey) == t.Sender
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
