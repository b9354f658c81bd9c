package tx

import (
	"encoding/binary"

	"github.com/Klingon-tech/controller-core/internal/errs"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// Envelope tags distinguish the two raw-tx shapes the txs/ directory can
// hold, so finalize_block can tell a UTXO system-config tx from an
// ordinary transfer without guessing at the byte layout.
const (
	envelopeTransaction  byte = 1
	envelopeSystemConfig byte = 2
)

// Encode wraps t in a tagged envelope suitable for writing under txs/.
func Encode(t *Transaction) []byte {
	return append([]byte{envelopeTransaction}, t.Marshal()...)
}

// EncodeSystemConfig wraps cfgTx in a tagged envelope.
func EncodeSystemConfig(cfgTx *SystemConfigTx) []byte {
	return append([]byte{envelopeSystemConfig}, cfgTx.Marshal()...)
}

// Decode inspects the envelope tag and returns either a *Transaction or a
// *SystemConfigTx.
func Decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, errs.New(errs.NoTransaction, "empty envelope")
	}
	switch data[0] {
	case envelopeTransaction:
		return decodeTransaction(data[1:])
	case envelopeSystemConfig:
		return decodeSystemConfigTx(data[1:])
	default:
		return nil, errs.New(errs.DecodeError, "unrecognized tx envelope tag %d", data[0])
	}
}

func decodeTransaction(data []byte) (*Transaction, error) {
	t := &Transaction{}
	r := newReader(data)

	if err := r.readChainID(&t.ChainID); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "chain_id")
	}
	var err error
	if t.Version, err = r.readUint32(); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "version")
	}
	inputCount, err := r.readUint32()
	if err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "input count")
	}
	t.Inputs = make([]TxInput, inputCount)
	for i := range t.Inputs {
		if err := r.readHash(&t.Inputs[i].PrevOut.TxHash); err != nil {
			return nil, errs.Wrap(errs.DecodeError, err, "input %d prevout hash", i)
		}
		if t.Inputs[i].PrevOut.Index, err = r.readUint32(); err != nil {
			return nil, errs.Wrap(errs.DecodeError, err, "input %d prevout index", i)
		}
	}
	outputCount, err := r.readUint32()
	if err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "output count")
	}
	t.Outputs = make([]TxOutput, outputCount)
	for i := range t.Outputs {
		if t.Outputs[i].Value, err = r.readUint64(); err != nil {
			return nil, errs.Wrap(errs.DecodeError, err, "output %d value", i)
		}
		if t.Outputs[i].Script, err = r.readBytes32(); err != nil {
			return nil, errs.Wrap(errs.DecodeError, err, "output %d script", i)
		}
	}
	if t.ValidUntilBlock, err = r.readUint64(); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "valid_until_block")
	}
	if err := r.readAddress(&t.Sender); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "sender")
	}
	for i := range t.Inputs {
		if t.Inputs[i].Signature, err = r.readBytes32(); err != nil {
			return nil, errs.Wrap(errs.DecodeError, err, "input %d signature", i)
		}
		if t.Inputs[i].PubKey, err = r.readBytes32(); err != nil {
			return nil, errs.Wrap(errs.DecodeError, err, "input %d pubkey", i)
		}
	}
	return t, nil
}

func decodeSystemConfigTx(data []byte) (*SystemConfigTx, error) {
	t := &SystemConfigTx{}
	r := newReader(data)

	if err := r.readChainID(&t.ChainID); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "chain_id")
	}
	var err error
	if t.Version, err = r.readUint32(); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "version")
	}
	if t.LockID, err = r.readUint32(); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "lock_id")
	}
	if t.Payload, err = r.readBytes32(); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "payload")
	}
	if t.ValidUntilBlock, err = r.readUint64(); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "valid_until_block")
	}
	if err := r.readAddress(&t.Sender); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "sender")
	}
	if t.Signature, err = r.readBytes32(); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "signature")
	}
	if t.PubKey, err = r.readBytes32(); err != nil {
		return nil, errs.Wrap(errs.DecodeError, err, "pubkey")
	}
	return t, nil
}

// reader is a minimal bounds-checked cursor over a fixed-width encoding.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) readUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, errs.New(errs.DecodeError, "truncated uint32")
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) readUint64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, errs.New(errs.DecodeError, "truncated uint64")
	}
	v := binary.BigEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *reader) readHash(h *types.Hash) error {
	if r.pos+types.HashSize > len(r.data) {
		return errs.New(errs.DecodeError, "truncated hash")
	}
	copy(h[:], r.data[r.pos:r.pos+types.HashSize])
	r.pos += types.HashSize
	return nil
}

func (r *reader) readChainID(c *types.ChainID) error {
	if r.pos+types.HashSize > len(r.data) {
		return errs.New(errs.DecodeError, "truncated chain id")
	}
	copy(c[:], r.data[r.pos:r.pos+types.HashSize])
	r.pos += types.HashSize
	return nil
}

func (r *reader) readAddress(a *types.Address) error {
	if r.pos+types.AddressSize > len(r.data) {
		return errs.New(errs.DecodeError, "truncated address")
	}
	copy(a[:], r.data[r.pos:r.pos+types.AddressSize])
	r.pos += types.AddressSize
	return nil
}

// readBytes32 reads a uint32-length-prefixed byte slice.
func (r *reader) readBytes32() ([]byte, error) {
	n, err := r.readUint32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.data) {
		return nil, errs.New(errs.DecodeError, "truncated bytes (len %d)", n)
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}
