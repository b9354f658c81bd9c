// Package storage generalizes the flat badger-backed key/value DB into the
// region-scoped interface the chain state machine expects: each of the
// external storage regions (globals, headers, bodies, height/hash indexes,
// state roots, tx indexes) is a separate logical namespace multiplexed onto
// one physical database by a one-byte region prefix.
package storage

import (
	"context"

	"github.com/Klingon-tech/controller-core/internal/errs"
	"github.com/Klingon-tech/controller-core/internal/storage"
)

// Adapter implements internal/chain.Storage over a storage.DB.
type Adapter struct {
	db storage.DB
}

// New wraps db behind the region-scoped interface.
func New(db storage.DB) *Adapter {
	return &Adapter{db: db}
}

func regionKey(region uint32, key []byte) []byte {
	out := make([]byte, 0, 1+len(key))
	out = append(out, byte(region))
	out = append(out, key...)
	return out
}

// StoreData writes value under (region, key).
func (a *Adapter) StoreData(ctx context.Context, region uint32, key, value []byte) error {
	if err := a.db.Put(regionKey(region, key), value); err != nil {
		return errs.Wrap(errs.StoreError, err, "put region %d", region)
	}
	return nil
}

// LoadData reads the value stored under (region, key).
func (a *Adapter) LoadData(ctx context.Context, region uint32, key []byte) ([]byte, error) {
	v, err := a.db.Get(regionKey(region, key))
	if err != nil {
		return nil, errs.Wrap(errs.StoreError, err, "get region %d", region)
	}
	return v, nil
}
