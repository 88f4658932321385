// Package badger backs kv.DB with BadgerDB, an embedded LSM-tree key-value
// store. It is the concrete B-tree/pdfile substrate the planner's cursors
// read through.
package badger

import (
	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/ristretto"
	"github.com/lumidb/lumidb/kv"
)

type badgerKV struct {
	db    *badger.DB
	cache *ristretto.Cache
}

// Open creates a BadgerDB-backed kv.DB at storagePath. An empty storagePath
// runs the store fully in memory, which is how tests construct isolated
// instances.
func Open(storagePath string) (kv.DB, error) {
	opts := badger.DefaultOptions(storagePath)
	if storagePath == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1_000_000,
		MaxCost:     1 << 26,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &badgerKV{db: db, cache: cache}, nil
}

func (b *badgerKV) Tx(isUpdate bool, fn func(kv.Tx) error) error {
	if isUpdate {
		return b.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTx{txn: txn})
		})
	}
	return b.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

func (b *badgerKV) Batch() kv.Batch {
	return &badgerBatch{batch: b.db.NewWriteBatch()}
}

func (b *badgerKV) Close() error {
	b.cache.Close()
	return b.db.Close()
}
