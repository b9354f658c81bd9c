// Package syncstore implements the filesystem pub/sub the controller core
// shares with its network daemon: raw transactions, proposals, and the
// durable sync-directory block+proof bundles each live under their own
// directory, named by content address.
package syncstore

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Klingon-tech/controller-core/internal/errs"
	"github.com/Klingon-tech/controller-core/pkg/types"
)

// Store implements internal/chain.SyncStore (plus the raw-tx helpers
// Controller needs) against four sibling directories on disk.
type Store struct {
	txsDir          string
	txsFinalizedDir string
	proposalsDir    string
	blocksDir       string
}

// New creates a Store rooted at the four configured directories, creating
// them if they don't already exist.
func New(txsDir, txsFinalizedDir, proposalsDir, blocksDir string) (*Store, error) {
	s := &Store{
		txsDir:          txsDir,
		txsFinalizedDir: txsFinalizedDir,
		proposalsDir:    proposalsDir,
		blocksDir:       blocksDir,
	}
	for _, dir := range []string{txsDir, txsFinalizedDir, proposalsDir, blocksDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("syncstore: create %s: %w", dir, err)
		}
	}
	return s, nil
}

func hashFilename(h types.Hash) string {
	return hex.EncodeToString(h[:])
}

func heightFilename(height uint64) string {
	return strconv.FormatUint(height, 10)
}

// HasRawTx reports whether a raw tx file exists under txs/.
func (s *Store) HasRawTx(hash types.Hash) bool {
	_, err := os.Stat(filepath.Join(s.txsDir, hashFilename(hash)))
	return err == nil
}

// WriteRawTx writes a pending raw tx under txs/.
func (s *Store) WriteRawTx(hash types.Hash, data []byte) error {
	return os.WriteFile(filepath.Join(s.txsDir, hashFilename(hash)), data, 0o644)
}

// ReadRawTx reads a pending raw tx from txs/.
func (s *Store) ReadRawTx(hash types.Hash) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.txsDir, hashFilename(hash)))
	if err != nil {
		return nil, errs.Wrap(errs.NoTransaction, err, "read tx %s", hash)
	}
	return data, nil
}

// RemoveRawTx deletes a pending raw tx file, e.g. after it fails validation.
func (s *Store) RemoveRawTx(filename string) {
	_ = os.Remove(filepath.Join(s.txsDir, filename))
}

// MoveTxToFinalized moves a pending raw tx into txs-finalized/ and returns
// its bytes, satisfying internal/chain.SyncStore.
func (s *Store) MoveTxToFinalized(hash types.Hash) ([]byte, error) {
	name := hashFilename(hash)
	src := filepath.Join(s.txsDir, name)
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, errs.Wrap(errs.NoTransaction, err, "read tx %s for finalize", hash)
	}
	dst := filepath.Join(s.txsFinalizedDir, name)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return nil, errs.Wrap(errs.StoreError, err, "write finalized tx %s", hash)
	}
	_ = os.Remove(src)
	return data, nil
}

// WriteProposal writes a serialized candidate block under proposals/.
func (s *Store) WriteProposal(hash types.Hash, data []byte) error {
	return os.WriteFile(filepath.Join(s.proposalsDir, hashFilename(hash)), data, 0o644)
}

// ReadProposal reads a serialized candidate block from proposals/.
func (s *Store) ReadProposal(hash types.Hash) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.proposalsDir, hashFilename(hash)))
	if err != nil {
		return nil, errs.Wrap(errs.NoneProposal, err, "read proposal %s", hash)
	}
	return data, nil
}

// DeleteProposal removes a proposal file, ignoring a missing file.
func (s *Store) DeleteProposal(hash types.Hash) {
	_ = os.Remove(filepath.Join(s.proposalsDir, hashFilename(hash)))
}

// RemoveProposalFile deletes a proposal file by its raw event filename
// (used when the filename fails to decode as a hash).
func (s *Store) RemoveProposalFile(filename string) {
	_ = os.Remove(filepath.Join(s.proposalsDir, filename))
}

// HasSyncBlock reports whether a durable block+proof bundle exists for
// height.
func (s *Store) HasSyncBlock(height uint64) bool {
	_, err := os.Stat(filepath.Join(s.blocksDir, heightFilename(height)))
	return err == nil
}

// WriteSyncBlock writes a (header||body||proof) bundle under blocks/.
func (s *Store) WriteSyncBlock(height uint64, bundle []byte) error {
	return os.WriteFile(filepath.Join(s.blocksDir, heightFilename(height)), bundle, 0o644)
}

// ReadSyncBlock reads the bundle for height, reporting its absence instead
// of treating it as an error.
func (s *Store) ReadSyncBlock(height uint64) ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.blocksDir, heightFilename(height)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errs.Wrap(errs.StoreError, err, "read sync block %d", height)
	}
	return data, true, nil
}
