package tx

import (
	"testing"

	"github.com/Klingon-tech/controller-core/pkg/crypto"
)

func signedConfigTxForEnvelope(t *testing.T) *SystemConfigTx {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cfgTx := &SystemConfigTx{
		Version:         1,
		LockID:          LockIDValidators,
		Payload:         []byte("validator-set"),
		ValidUntilBlock: 400,
		Sender:          crypto.AddressFromPubKey(key.PublicKey()),
	}
	sigHash := crypto.Hash(cfgTx.SigningBytes())
	sig, err := key.Sign(sigHash[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	cfgTx.Signature = sig
	cfgTx.PubKey = key.PublicKey()
	return cfgTx
}

func TestEncodeDecode_Transaction_RoundTrip(t *testing.T) {
	txn, _ := signedTransaction(t)
	data := Encode(txn)

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*Transaction)
	if !ok {
		t.Fatalf("Decode returned %T, want *Transaction", decoded)
	}
	if got.Hash() != txn.Hash() {
		t.Error("decoded transaction should hash the same as the original")
	}
	if !got.VerifyInputs() {
		t.Error("decoded transaction should still verify")
	}
}

func TestEncodeDecode_SystemConfigTx_RoundTrip(t *testing.T) {
	cfgTx := signedConfigTxForEnvelope(t)
	data := EncodeSystemConfig(cfgTx)

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(*SystemConfigTx)
	if !ok {
		t.Fatalf("Decode returned %T, want *SystemConfigTx", decoded)
	}
	if !got.Verify() {
		t.Error("decoded system config tx should still verify")
	}
}

func TestDecode_RejectsUnknownTag(t *testing.T) {
	if _, err := Decode([]byte{0xff, 1, 2, 3}); err == nil {
		t.Fatal("Decode should reject an unrecognized envelope tag")
	}
}

func TestDecode_RejectsEmpty(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("Decode should reject an empty envelope")
	}
}
