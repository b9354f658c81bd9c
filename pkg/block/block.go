// Package block defines the compact block type exchanged between the
// controller core and its consensus/executor/storage collaborators.
package block

import (
	"encoding/binary"

	"github.com/Klingon-tech/controller-core/internal/errs"
	"github.com/Klingon-tech/controller-core/pkg/types"
	"github.com/Klingon-tech/controller-core/pkg/wire"
)

// Header mirrors wire.Header; re-exported so callers outside pkg/wire don't
// need to import the codec package just to read a field.
type Header = wire.Header

// Body mirrors wire.Body.
type Body = wire.Body

// CompactBlock is a block with its body kept to just the tx hash list; full
// transaction bytes live in the content-addressed tx store.
type CompactBlock struct {
	Version uint32
	Header  *Header
	Body    *Body
}

// NewCompactBlock builds a CompactBlock from a header and an ordered list of
// transaction hashes.
func NewCompactBlock(header *Header, txHashes []types.Hash) *CompactBlock {
	return &CompactBlock{
		Version: header.Version,
		Header:  header,
		Body:    &Body{TxHashes: txHashes},
	}
}

// Marshal encodes the block as header-bytes-length-prefixed header || body,
// matching the sync directory bundle layout (header || body || proof is
// assembled one level up, in the chain package).
func (b *CompactBlock) Marshal() []byte {
	hb := wire.MarshalHeader(b.Header)
	bb := wire.MarshalBody(b.Body)

	lenBuf := make([]byte, binary.MaxVarintLen64)
	out := make([]byte, 0, 16+len(hb)+len(bb))

	n := binary.PutUvarint(lenBuf, uint64(len(hb)))
	out = append(out, lenBuf[:n]...)
	out = append(out, hb...)

	n = binary.PutUvarint(lenBuf, uint64(len(bb)))
	out = append(out, lenBuf[:n]...)
	out = append(out, bb...)
	return out
}

// Unmarshal decodes a CompactBlock previously produced by Marshal. A missing
// or truncated header/body is an explicit error, never a silently empty one.
func Unmarshal(data []byte) (*CompactBlock, error) {
	hLen, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, errs.New(errs.NoneBlockHeader, "truncated length prefix")
	}
	data = data[n:]
	if uint64(len(data)) < hLen {
		return nil, errs.New(errs.NoneBlockHeader, "truncated header")
	}
	hBytes := data[:hLen]
	data = data[hLen:]

	header, err := wire.UnmarshalHeader(hBytes)
	if err != nil {
		return nil, errs.Wrap(errs.NoneBlockHeader, err, "decode header")
	}

	bLen, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, errs.New(errs.NoneBlockBody, "truncated length prefix")
	}
	data = data[n:]
	if uint64(len(data)) < bLen {
		return nil, errs.New(errs.NoneBlockBody, "truncated body")
	}
	bBytes := data[:bLen]

	body, err := wire.UnmarshalBody(bBytes)
	if err != nil {
		return nil, errs.Wrap(errs.NoneBlockBody, err, "decode body")
	}

	return &CompactBlock{Version: header.Version, Header: header, Body: body}, nil
}

// UnmarshalWithRemainder decodes a CompactBlock from the front of data and
// returns whatever bytes follow it, for formats that append extra data
// after a marshaled block (the sync directory's header||body||proof
// bundle).
func UnmarshalWithRemainder(data []byte) (*CompactBlock, []byte, error) {
	hLen, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, errs.New(errs.NoneBlockHeader, "truncated length prefix")
	}
	data = data[n:]
	if uint64(len(data)) < hLen {
		return nil, nil, errs.New(errs.NoneBlockHeader, "truncated header")
	}
	hBytes := data[:hLen]
	data = data[hLen:]

	header, err := wire.UnmarshalHeader(hBytes)
	if err != nil {
		return nil, nil, errs.Wrap(errs.NoneBlockHeader, err, "decode header")
	}

	bLen, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, errs.New(errs.NoneBlockBody, "truncated length prefix")
	}
	data = data[n:]
	if uint64(len(data)) < bLen {
		return nil, nil, errs.New(errs.NoneBlockBody, "truncated body")
	}
	bBytes := data[:bLen]
	remainder := data[bLen:]

	body, err := wire.UnmarshalBody(bBytes)
	if err != nil {
		return nil, nil, errs.Wrap(errs.NoneBlockBody, err, "decode body")
	}

	return &CompactBlock{Version: header.Version, Header: header, Body: body}, remainder, nil
}
