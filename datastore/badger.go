// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package datastore

import (
	"fmt"
	"os"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/dgraph-io/badger/v4"
)

var (
	_ database.Database = &BadgerDB{}
	_ database.Batch    = &badgerBatch{}
)

// BadgerDB is a database kept on disk by badger. Reads are served from an
// in-memory copy loaded on open; every write goes to both.
type BadgerDB struct {
	*memdb.Database

	db *badger.DB
}

// OpenBadger opens the badger database in [dir], or an in-memory one when
// [dir] is empty.
func OpenBadger(dir string) (*BadgerDB, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	mem := memdb.New()
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := mem.Put(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load badger database: %w", err)
	}
	logger.Debug("badger database loaded", "dir", dir)
	return &BadgerDB{Database: mem, db: db}, nil
}

func (b *BadgerDB) Put(key, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return err
	}
	return b.Database.Put(key, value)
}

func (b *BadgerDB) Delete(key []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}
	return b.Database.Delete(key)
}

func (b *BadgerDB) NewBatch() database.Batch {
	return &badgerBatch{Batch: b.Database.NewBatch(), db: b}
}

func (b *BadgerDB) Close() error {
	if err := b.db.Close(); err != nil {
		return err
	}
	return b.Database.Close()
}

// badgerBatch buffers writes in memory and replays them through the badger
// database on Write.
type badgerBatch struct {
	database.Batch

	db *BadgerDB
}

func (b *badgerBatch) Write() error {
	return b.Batch.Replay(b.db)
}
