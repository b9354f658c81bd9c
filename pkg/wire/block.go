// Package wire implements the canonical protobuf-compatible encoding used for
// block headers and bodies on the wire and in the sync directory bundle.
//
// It hand-encodes a small, fixed schema using protowire's length-delimited
// and varint primitives rather than relying on generated protobuf code, so
// any field number this code doesn't recognize is captured verbatim and
// re-emitted on the next encode instead of being silently dropped.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Klingon-tech/controller-core/pkg/types"
)

// Header field numbers.
const (
	fieldHeaderVersion          = 1
	fieldHeaderPrevHash         = 2
	fieldHeaderTimestamp        = 3
	fieldHeaderHeight           = 4
	fieldHeaderTransactionsRoot = 5
	fieldHeaderProposer         = 6
)

// Body field numbers.
const fieldBodyTxHash = 1

// Header is the canonical, compact block header.
type Header struct {
	Version          uint32
	PrevHash         types.Hash
	Timestamp        uint64
	Height           uint64
	TransactionsRoot types.Hash
	Proposer         types.Address

	// unknown preserves any field this decoder doesn't recognize, in the
	// exact tag+value bytes it was read as, so re-encoding round-trips them.
	unknown []byte
}

// Body is the ordered list of transaction hashes included in a block.
type Body struct {
	TxHashes []types.Hash

	unknown []byte
}

// MarshalHeader encodes h into canonical wire bytes.
func MarshalHeader(h *Header) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldHeaderVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(h.Version))
	b = protowire.AppendTag(b, fieldHeaderPrevHash, protowire.BytesType)
	b = protowire.AppendBytes(b, h.PrevHash[:])
	b = protowire.AppendTag(b, fieldHeaderTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, h.Timestamp)
	b = protowire.AppendTag(b, fieldHeaderHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, h.Height)
	b = protowire.AppendTag(b, fieldHeaderTransactionsRoot, protowire.BytesType)
	b = protowire.AppendBytes(b, h.TransactionsRoot[:])
	b = protowire.AppendTag(b, fieldHeaderProposer, protowire.BytesType)
	b = protowire.AppendBytes(b, h.Proposer[:])
	b = append(b, h.unknown...)
	return b
}

// UnmarshalHeader decodes canonical wire bytes into a Header. Unrecognized
// field numbers are preserved in raw form and re-emitted by MarshalHeader.
func UnmarshalHeader(data []byte) (*Header, error) {
	h := &Header{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldHeaderVersion:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: consume version: %w", protowire.ParseError(n))
			}
			h.Version = uint32(v)
			data = data[n:]
		case fieldHeaderPrevHash:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: consume prevhash: %w", protowire.ParseError(n))
			}
			if len(v) != types.HashSize {
				return nil, fmt.Errorf("wire: prevhash must be %d bytes, got %d", types.HashSize, len(v))
			}
			copy(h.PrevHash[:], v)
			data = data[n:]
		case fieldHeaderTimestamp:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: consume timestamp: %w", protowire.ParseError(n))
			}
			h.Timestamp = v
			data = data[n:]
		case fieldHeaderHeight:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: consume height: %w", protowire.ParseError(n))
			}
			h.Height = v
			data = data[n:]
		case fieldHeaderTransactionsRoot:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: consume transactions_root: %w", protowire.ParseError(n))
			}
			if len(v) != types.HashSize {
				return nil, fmt.Errorf("wire: transactions_root must be %d bytes, got %d", types.HashSize, len(v))
			}
			copy(h.TransactionsRoot[:], v)
			data = data[n:]
		case fieldHeaderProposer:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: consume proposer: %w", protowire.ParseError(n))
			}
			if len(v) != types.AddressSize {
				return nil, fmt.Errorf("wire: proposer must be %d bytes, got %d", types.AddressSize, len(v))
			}
			copy(h.Proposer[:], v)
			data = data[n:]
		default:
			start := len(data)
			fv := protowire.ConsumeFieldValue(num, typ, data)
			if fv < 0 {
				return nil, fmt.Errorf("wire: consume unknown field %d: %w", num, protowire.ParseError(fv))
			}
			raw := data[:fv]
			data = data[fv:]
			tag := protowire.AppendTag(nil, num, typ)
			h.unknown = append(h.unknown, tag...)
			h.unknown = append(h.unknown, raw...)
			_ = start
		}
	}
	return h, nil
}

// MarshalBody encodes b into canonical wire bytes.
func MarshalBody(b *Body) []byte {
	var out []byte
	for _, h := range b.TxHashes {
		out = protowire.AppendTag(out, fieldBodyTxHash, protowire.BytesType)
		out = protowire.AppendBytes(out, h[:])
	}
	out = append(out, b.unknown...)
	return out
}

// UnmarshalBody decodes canonical wire bytes into a Body.
func UnmarshalBody(data []byte) (*Body, error) {
	b := &Body{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: consume tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldBodyTxHash:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: consume tx_hash: %w", protowire.ParseError(n))
			}
			if len(v) != types.HashSize {
				return nil, fmt.Errorf("wire: tx_hash must be %d bytes, got %d", types.HashSize, len(v))
			}
			var h types.Hash
			copy(h[:], v)
			b.TxHashes = append(b.TxHashes, h)
			data = data[n:]
		default:
			fv := protowire.ConsumeFieldValue(num, typ, data)
			if fv < 0 {
				return nil, fmt.Errorf("wire: consume unknown field %d: %w", num, protowire.ParseError(fv))
			}
			raw := data[:fv]
			data = data[fv:]
			tag := protowire.AppendTag(nil, num, typ)
			b.unknown = append(b.unknown, tag...)
			b.unknown = append(b.unknown, raw...)
		}
	}
	return b, nil
}
