package wire

import (
	"bytes"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Klingon-tech/controller-core/pkg/types"
)

func TestHeader_MarshalUnmarshal_RoundTrip(t *testing.T) {
	h := &Header{
		Version:          3,
		PrevHash:         types.Hash{1, 2, 3},
		Timestamp:        9999,
		Height:           42,
		TransactionsRoot: types.Hash{4, 5, 6},
		Proposer:         types.Address{7, 8, 9},
	}

	data := MarshalHeader(h)
	got, err := UnmarshalHeader(data)
	if err != nil {
		t.Fatalf("UnmarshalHeader: %v", err)
	}
	if *got != *h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestHeader_UnknownFieldRoundTrip(t *testing.T) {
	h := &Header{Version: 1, Height: 10}
	data := MarshalHeader(h)

	// Append a field number this decoder doesn't recognize.
	data = protowire.AppendTag(data, 99, protowire.VarintType)
	data = protowire.AppendVarint(data, 777)

	decoded, err := UnmarshalHeader(data)
	if err != nil {
		t.Fatalf("UnmarshalHeader: %v", err)
	}
	reEncoded := MarshalHeader(decoded)
	if !bytes.Contains(reEncoded, data[len(MarshalHeader(h)):]) {
		t.Error("unknown field bytes should be preserved on re-encode")
	}
}

func TestHeader_RejectsWrongHashLength(t *testing.T) {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldHeaderPrevHash, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte{1, 2, 3})

	if _, err := UnmarshalHeader(buf); err == nil {
		t.Fatal("UnmarshalHeader should reject a short prevhash")
	}
}

func TestBody_MarshalUnmarshal_RoundTrip(t *testing.T) {
	b := &Body{TxHashes: []types.Hash{{1}, {2}, {3}}}
	data := MarshalBody(b)

	got, err := UnmarshalBody(data)
	if err != nil {
		t.Fatalf("UnmarshalBody: %v", err)
	}
	if len(got.TxHashes) != len(b.TxHashes) {
		t.Fatalf("TxHashes len = %d, want %d", len(got.TxHashes), len(b.TxHashes))
	}
	for i := range b.TxHashes {
		if got.TxHashes[i] != b.TxHashes[i] {
			t.Errorf("TxHashes[%d] mismatch", i)
		}
	}
}

func TestBody_Empty(t *testing.T) {
	b := &Body{}
	data := MarshalBody(b)
	got, err := UnmarshalBody(data)
	if err != nil {
		t.Fatalf("UnmarshalBody: %v", err)
	}
	if len(got.TxHashes) != 0 {
		t.Errorf("expected no tx hashes, got %d", len(got.TxHashes))
	}
}
