// Package db wraps an ordered on-disk key-value store. A single logical
// transaction accumulates all writes since the last Commit; reads and
// cursors observe the uncommitted state, so callers never see a partially
// applied block.
package db

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// DB is an ordered key-value store with one open transaction at a time.
// Contract violations (inserting over an existing key with mustNotExist,
// deleting a missing key with mustExist) signal database corruption or a
// programming error and panic rather than return.
type DB struct {
	ldb *leveldb.DB
	tx  *leveldb.Transaction
}

// Options returns the leveldb options the store is opened with.
func Options() *opt.Options {
	return &opt.Options{
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10),
	}
}

// Open opens the store in the given directory, creating it if needed and
// attempting recovery if it is corrupted.
func Open(path string, storeName string) (*DB, error) {
	dbPath := filepath.Join(path, storeName)

	ldb, err := leveldb.OpenFile(dbPath, Options())

	// If the database is corrupted, attempt to recover.
	if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
		log.Warnf("LevelDB corruption detected for path %s: %s", dbPath, err)
		ldb, err = leveldb.RecoverFile(dbPath, Options())
		if err != nil {
			return nil, errors.WithStack(err)
		}
		log.Warnf("LevelDB recovered from corruption for path %s", dbPath)
	}

	// If the database cannot be opened for any other reason, return the
	// error as-is.
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &DB{ldb: ldb}, nil
}

// Close discards the open transaction, if any, and closes the store.
func (d *DB) Close() error {
	if d.tx != nil {
		d.tx.Discard()
		d.tx = nil
	}
	return errors.WithStack(d.ldb.Close())
}

func (d *DB) transaction() *leveldb.Transaction {
	if d.tx == nil {
		tx, err := d.ldb.OpenTransaction()
		if err != nil {
			panic(errors.Wrap(err, "db: failed to open transaction"))
		}
		d.tx = tx
	}
	return d.tx
}

// Get returns the value stored under key. The second return value reports
// whether the key exists.
func (d *DB) Get(key []byte) ([]byte, bool) {
	value, err := d.transaction().Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		panic(errors.Wrapf(err, "db: failed to get key %x", key))
	}
	return value, true
}

// Has reports whether key exists.
func (d *DB) Has(key []byte) bool {
	has, err := d.transaction().Has(key, nil)
	if err != nil {
		panic(errors.Wrapf(err, "db: failed to check key %x", key))
	}
	return has
}

// Put stores value under key. With mustNotExist set, an already existing
// key is an integrity violation.
func (d *DB) Put(key, value []byte, mustNotExist bool) {
	tx := d.transaction()
	if mustNotExist && d.Has(key) {
		panic(errors.Errorf("db: key %x already exists", key))
	}
	if err := tx.Put(key, value, nil); err != nil {
		panic(errors.Wrapf(err, "db: failed to put key %x", key))
	}
}

// Del removes key. With mustExist set, a missing key is an integrity
// violation.
func (d *DB) Del(key []byte, mustExist bool) {
	tx := d.transaction()
	if mustExist && !d.Has(key) {
		panic(errors.Errorf("db: key %x does not exist", key))
	}
	if err := tx.Delete(key, nil); err != nil {
		panic(errors.Wrapf(err, "db: failed to delete key %x", key))
	}
}

// Commit atomically flushes every write since the previous Commit.
func (d *DB) Commit() error {
	if d.tx == nil {
		return nil
	}
	err := d.tx.Commit()
	d.tx = nil
	return errors.WithStack(err)
}
