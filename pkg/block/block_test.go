package block

import (
	"testing"

	"github.com/Klingon-tech/controller-core/internal/errs"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

func sampleHeader() *Header {
	return &Header{
		Version:          1,
		PrevHash:         types.Hash{1},
		Timestamp:        1234,
		Height:           7,
		TransactionsRoot: types.Hash{2},
		Proposer:         types.Address{3},
	}
}

func TestCompactBlock_MarshalUnmarshal_RoundTrip(t *testing.T) {
	header := sampleHeader()
	hashes := []types.Hash{{0xaa}, {0xbb}}
	cb := NewCompactBlock(header, hashes)

	data := cb.Marshal()
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Version != cb.Version {
		t.Errorf("Version = %d, want %d", got.Version, cb.Version)
	}
	if got.Header.Height != header.Height {
		t.Errorf("Height = %d, want %d", got.Header.Height, header.Height)
	}
	if len(got.Body.TxHashes) != len(hashes) {
		t.Fatalf("TxHashes len = %d, want %d", len(got.Body.TxHashes), len(hashes))
	}
	for i, h := range hashes {
		if got.Body.TxHashes[i] != h {
			t.Errorf("TxHashes[%d] = %x, want %x", i, got.Body.TxHashes[i], h)
		}
	}
}

func TestCompactBlock_Marshal_EmptyBody(t *testing.T) {
	header := sampleHeader()
	cb := NewCompactBlock(header, nil)

	got, err := Unmarshal(cb.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Body.TxHashes) != 0 {
		t.Errorf("TxHashes should be empty, got %d entries", len(got.Body.TxHashes))
	}
}

func TestUnmarshal_TruncatedHeaderLength(t *testing.T) {
	_, err := Unmarshal(nil)
	if err == nil {
		t.Fatal("Unmarshal should reject empty input")
	}
	if !errs.Of(err, errs.NoneBlockHeader) {
		t.Errorf("expected NoneBlockHeader, got %v", err)
	}
}

func TestUnmarshal_TruncatedHeaderBody(t *testing.T) {
	header := sampleHeader()
	cb := NewCompactBlock(header, nil)
	data := cb.Marshal()

	// Cut the buffer mid-header so the length prefix overruns the data.
	truncated := data[:2]
	_, err := Unmarshal(truncated)
	if err == nil {
		t.Fatal("Unmarshal should reject a truncated header")
	}
	if !errs.Of(err, errs.NoneBlockHeader) {
		t.Errorf("expected NoneBlockHeader, got %v", err)
	}
}

func TestUnmarshal_TruncatedBody(t *testing.T) {
	header := sampleHeader()
	cb := NewCompactBlock(header, []types.Hash{{0xaa}})
	data := cb.Marshal()

	_, err := Unmarshal(data[:len(data)-1])
	if err == nil {
		t.Fatal("Unmarshal should reject a truncated body")
	}
	if !errs.Of(err, errs.NoneBlockBody) {
		t.Errorf("expected NoneBlockBody, got %v", err)
	}
}
