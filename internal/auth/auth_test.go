package auth

import (
	"testing"

	"github.com/Klingon-tech/controller-core/internal/errs"
	"github.com/Klingon-tech/controller-core/pkg/crypto"
	"github.com/Klingon-tech/controller-core/pkg/tx"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

func newSignedTx(t *testing.T, chainID types.ChainID, version uint32, validUntil, current uint64) *tx.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	txn := &tx.Transaction{
		ChainID:         chainID,
		Version:         version,
		Inputs:          []tx.TxInput{{PrevOut: tx.OutPoint{TxHash: types.Hash{1}, Index: 0}}},
		Outputs:         []tx.TxOutput{{Value: 10, Script: []byte("x")}},
		ValidUntilBlock: validUntil,
		Sender:          crypto.AddressFromPubKey(key.PublicKey()),
	}
	sigHash := crypto.Hash(txn.SigningBytes())
	sig, err := key.Sign(sigHash[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	txn.Inputs[0].Signature = sig
	txn.Inputs[0].PubKey = key.PublicKey()
	_ = current
	return txn
}

func TestCheckRawTx_Accepts(t *testing.T) {
	chainID := types.ChainID{9}
	a := New(chainID, 1, nil, 3000, 100)

	txn := newSignedTx(t, chainID, 1, 50, 10)
	if _, err := a.CheckRawTx(txn, 10); err != nil {
		t.Fatalf("CheckRawTx should accept a well-formed tx: %v", err)
	}
}

func TestCheckRawTx_RejectsChainIDMismatch(t *testing.T) {
	a := New(types.ChainID{9}, 1, nil, 3000, 100)
	txn := newSignedTx(t, types.ChainID{8}, 1, 500, 10)

	if _, err := a.CheckRawTx(txn, 10); err == nil {
		t.Fatal("CheckRawTx should reject a chain id mismatch")
	}
}

func TestCheckRawTx_RejectsStaleValidUntilBlock(t *testing.T) {
	chainID := types.ChainID{9}
	a := New(chainID, 1, nil, 3000, 100)
	txn := newSignedTx(t, chainID, 1, 5, 10)

	if _, err := a.CheckRawTx(txn, 10); err == nil {
		t.Fatal("CheckRawTx should reject a valid_until_block at or before current height")
	}
}

func TestCheckRawTx_RejectsReplay(t *testing.T) {
	chainID := types.ChainID{9}
	a := New(chainID, 1, nil, 3000, 100)
	txn := newSignedTx(t, chainID, 1, 50, 10)

	h, err := a.CheckRawTx(txn, 10)
	if err != nil {
		t.Fatalf("CheckRawTx: %v", err)
	}
	a.InsertTxHash(11, []types.Hash{h})

	if _, err := a.CheckRawTx(txn, 10); err == nil {
		t.Fatal("CheckRawTx should reject a tx already recorded as finalized")
	}
}

func TestCheckRawTx_RejectsValidUntilBeyondWindow(t *testing.T) {
	chainID := types.ChainID{9}
	a := New(chainID, 1, nil, 3000, 100)
	txn := newSignedTx(t, chainID, 1, 500, 10)

	_, err := a.CheckRawTx(txn, 10)
	if err == nil {
		t.Fatal("CheckRawTx should reject a valid_until_block beyond current+window")
	}
	if !errs.Of(err, errs.InvalidValidUntilBlock) {
		t.Fatalf("expected InvalidValidUntilBlock kind, got %v", err)
	}
}

func TestCheckSystemConfigTx_RejectsValidUntilBeyondWindow(t *testing.T) {
	chainID := types.ChainID{9}
	a := New(chainID, 1, nil, 3000, 100)
	cfgTx := signedConfigTxValidUntil(t, chainID, tx.LockIDValidators, types.Address{7}.Bytes(), 100000)

	_, err := a.CheckSystemConfigTx(cfgTx, 10)
	if err == nil {
		t.Fatal("CheckSystemConfigTx should reject a valid_until_block beyond current+window")
	}
	if !errs.Of(err, errs.InvalidValidUntilBlock) {
		t.Fatalf("expected InvalidValidUntilBlock kind, got %v", err)
	}
}

func TestInsertTxHash_EvictsOutsideReplayWindow(t *testing.T) {
	a := New(types.ChainID{1}, 1, nil, 3000, 10)
	h := types.Hash{1}
	a.InsertTxHash(5, []types.Hash{h})
	a.InsertTxHash(20, nil)

	a.mu.RLock()
	_, stillTracked := a.included[h]
	a.mu.RUnlock()
	if stillTracked {
		t.Fatal("InsertTxHash should evict entries older than the replay window")
	}
}

func signedConfigTx(t *testing.T, lockID uint32, payload []byte) *tx.SystemConfigTx {
	t.Helper()
	return signedConfigTxValidUntil(t, types.ChainID{}, lockID, payload, 1000)
}

func signedConfigTxValidUntil(t *testing.T, chainID types.ChainID, lockID uint32, payload []byte, validUntil uint64) *tx.SystemConfigTx {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cfgTx := &tx.SystemConfigTx{
		ChainID:         chainID,
		Version:         1,
		LockID:          lockID,
		Payload:         payload,
		ValidUntilBlock: validUntil,
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

func TestUpdateSystemConfig_ValidatorsChanged(t *testing.T) {
	a := New(types.ChainID{1}, 1, nil, 3000, 100)
	newValidator := types.Address{7}
	cfgTx := signedConfigTx(t, tx.LockIDValidators, newValidator[:])

	if !a.UpdateSystemConfig(cfgTx) {
		t.Fatal("UpdateSystemConfig should report a change for a new validator set")
	}
	cfg := a.SystemConfig()
	if len(cfg.Validators) != 1 || cfg.Validators[0] != newValidator {
		t.Fatalf("Validators = %v, want [%v]", cfg.Validators, newValidator)
	}
	if cfg.LockTxHash[tx.LockIDValidators] != cfgTx.Hash() {
		t.Error("LockTxHash should record the applied config tx hash")
	}
}

func TestUpdateSystemConfig_NoChangeReturnsFalse(t *testing.T) {
	a := New(types.ChainID{1}, 1, nil, 3000, 100)
	cfgTx := signedConfigTx(t, tx.LockIDBlockInterval, []byte{0, 0, 0, 0, 0, 0, 0x0f, 0xa0})
	if !a.UpdateSystemConfig(cfgTx) {
		t.Fatal("first application should change the block interval")
	}

	cfgTx2 := signedConfigTx(t, tx.LockIDBlockInterval, []byte{0, 0, 0, 0, 0, 0, 0x0f, 0xa0})
	if a.UpdateSystemConfig(cfgTx2) {
		t.Fatal("re-applying the same value should report no change")
	}
}

func TestUpdateSystemConfig_RejectsBadSignature(t *testing.T) {
	a := New(types.ChainID{1}, 1, nil, 3000, 100)
	cfgTx := signedConfigTx(t, tx.LockIDValidators, types.Address{1}.Bytes())
	cfgTx.Payload = []byte("tampered-after-signing")

	if a.UpdateSystemConfig(cfgTx) {
		t.Fatal("UpdateSystemConfig should reject a tx whose signature no longer matches")
	}
}

func TestUpdateSystemConfig_UnrecognizedLockID(t *testing.T) {
	a := New(types.ChainID{1}, 1, nil, 3000, 100)
	cfgTx := signedConfigTx(t, 999, []byte("x"))

	if a.UpdateSystemConfig(cfgTx) {
		t.Fatal("UpdateSystemConfig should reject an unrecognized lock id")
	}
}
