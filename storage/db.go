package storage

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// ErrReadOnly is returned when a write is attempted through a read-only view.
var ErrReadOnly = errors.New("storage: read-only view")

// KV is the key-value surface shared by databases, transactions and views.
type KV interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	// Iterate walks every key with the supplied prefix in ascending order
	// until fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
}

// Tx is an all-or-nothing batch of writes. Nothing written through a Tx is
// visible to other readers until Commit succeeds.
type Tx interface {
	KV
	Commit() error
	Discard()
}

// View is a consistent read-only snapshot of the database.
type View interface {
	KV
	Release()
}

// Database is a generic interface for a key-value store.
// This allows the marketplace to use any database backend (in-memory or persistent).
type Database interface {
	Begin() (Tx, error)
	View() (View, error)
	Close() error
}

// LevelDB is a persistent key-value store using LevelDB. The same type backs
// the in-memory database used in tests.
type LevelDB struct {
	db *leveldb.DB
}

// NewMemDB returns a LevelDB instance backed by memory storage.
func NewMemDB() *LevelDB {
	db, err := leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	if err != nil {
		// memory storage cannot fail to open
		panic(fmt.Sprintf("storage: open memory db: %v", err))
	}
	return &LevelDB{db: db}
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// Begin opens a write transaction. LevelDB allows a single open transaction
// at a time; callers serialise access.
func (ldb *LevelDB) Begin() (Tx, error) {
	tx, err := ldb.db.OpenTransaction()
	if err != nil {
		return nil, fmt.Errorf("storage: open transaction: %w", err)
	}
	return &levelTx{tx: tx}, nil
}

// View returns a read-only snapshot of the current committed state.
func (ldb *LevelDB) View() (View, error) {
	snap, err := ldb.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("storage: snapshot: %w", err)
	}
	return &levelView{snap: snap}, nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

type levelTx struct {
	tx *leveldb.Transaction
}

func (t *levelTx) Get(key []byte) ([]byte, error) {
	value, err := t.tx.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (t *levelTx) Has(key []byte) (bool, error) { return t.tx.Has(key, nil) }

func (t *levelTx) Put(key []byte, value []byte) error { return t.tx.Put(key, value, nil) }

func (t *levelTx) Delete(key []byte) error { return t.tx.Delete(key, nil) }

func (t *levelTx) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter := t.tx.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if !fn(append([]byte(nil), iter.Key()...), append([]byte(nil), iter.Value()...)) {
			break
		}
	}
	return iter.Error()
}

func (t *levelTx) Commit() error { return t.tx.Commit() }

func (t *levelTx) Discard() { t.tx.Discard() }

type levelView struct {
	snap *leveldb.Snapshot
}

func (v *levelView) Get(key []byte) ([]byte, error) {
	value, err := v.snap.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (v *levelView) Has(key []byte) (bool, error) { return v.snap.Has(key, nil) }

func (v *levelView) Put([]byte, []byte) error { return ErrReadOnly }

func (v *levelView) Delete([]byte) error { return ErrReadOnly }

func (v *levelView) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter := v.snap.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if !fn(append([]byte(nil), iter.Key()...), append([]byte(nil), iter.Value()...)) {
			break
		}
	}
	return iter.Error()
}

func (v *levelView) Release() { v.snap.Release() }
