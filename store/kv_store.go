package store

import (
	"bytes"

	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"
	"github.com/tendermint/tm-db/memdb"

	"aclrelay/types"
)

var entryPrefix = []byte("acl/")

// Store is the persistent rule store boundary. The resolver gate is the only
// writer; the RPC layer reads through it for the administrative surface.
type Store interface {
	// Get returns the entry for key, or nil if none exists.
	Get(key types.EntryKey) (*types.Entry, error)

	// Put writes the entry, overwriting any previous permission and version
	// for the same key.
	Put(entry types.Entry) error

	// List returns every stored entry in key order.
	List() ([]types.Entry, error)

	Close() error
}

// NewKVStore opens a leveldb-backed store under dir.
func NewKVStore(name, dir string, logger log.Logger) (Store, error) {
	db, err := leveldb.NewDB(name, dir)
	if err != nil {
		return nil, err
	}
	return NewKVStoreWithDB(db, logger), nil
}

// NewKVStoreWithDB wraps an existing tm-db handle. Used by tests with a
// MemDB backend.
func NewKVStoreWithDB(db tmdb.DB, logger log.Logger) Store {
	return &kvStore{db: db, logger: logger}
}

// NewMemStore returns an in-memory store for tests.
func NewMemStore() Store {
	return NewKVStoreWithDB(memdb.NewDB(), log.NewNopLogger())
}

type kvStore struct {
	db     tmdb.DB
	logger log.Logger
}

func (kv *kvStore) Get(key types.EntryKey) (*types.Entry, error) {
	raw, err := kv.db.Get(entryKey(key))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var entry types.Entry
	if err := tmjson.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (kv *kvStore) Put(entry types.Entry) error {
	raw, err := tmjson.Marshal(entry)
	if err != nil {
		return err
	}
	return kv.db.SetSync(entryKey(entry.Key()), raw)
}

func (kv *kvStore) List() ([]types.Entry, error) {
	itr, err := kv.db.Iterator(entryPrefix, prefixEnd(entryPrefix))
	if err != nil {
		return nil, err
	}
	defer itr.Close()

	var entries []types.Entry
	for ; itr.Valid(); itr.Next() {
		var entry types.Entry
		if err := tmjson.Unmarshal(itr.Value(), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, itr.Error()
}

func (kv *kvStore) Close() error {
	return kv.db.Close()
}

func entryKey(key types.EntryKey) []byte {
	buf := new(bytes.Buffer)
	buf.Write(entryPrefix)
	buf.Write(key.StoreKey())
	return buf.Bytes()
}

// prefixEnd returns the smallest key greater than every key with the given
// prefix, for iterator bounds.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
