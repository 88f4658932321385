package badger

import (
	"github.com/dgraph-io/badger/v3"
	"github.com/lumidb/lumidb/kv"
)

type badgerTx struct {
	txn *badger.Txn
}

func (b *badgerTx) Get(key []byte) ([]byte, error) {
	item, err := b.txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *badgerTx) Set(key, value []byte) error {
	return b.txn.Set(key, value)
}

func (b *badgerTx) Delete(key []byte) error {
	return b.txn.Delete(key)
}

func (b *badgerTx) NewIterator(opts kv.IterOpts) kv.Iterator {
	bopts := badger.DefaultIteratorOptions
	bopts.PrefetchValues = true
	bopts.Prefix = opts.Prefix
	bopts.Reverse = opts.Reverse
	iter := b.txn.NewIterator(bopts)
	seek := opts.Seek
	if seek == nil {
		seek = opts.Prefix
	}
	iter.Seek(seek)
	return &badgerIterator{iter: iter, opts: opts}
}
