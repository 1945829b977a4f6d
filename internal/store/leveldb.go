package store

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

const statePrefix = "wind:"

// LevelDBState persists the key-value record in a goleveldb database.
// Writes are synced so a token or trigger timestamp survives a crash.
type LevelDBState struct {
	db *leveldb.DB
}

// OpenLevelDBState opens (or creates) the database at path.
func OpenLevelDBState(path string) (*LevelDBState, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open state db %s: %w", path, err)
	}
	return &LevelDBState{db: db}, nil
}

// NewLevelDBStateWithStorage opens a database over an arbitrary goleveldb
// storage, e.g. storage.NewMemStorage().
func NewLevelDBStateWithStorage(stor storage.Storage) (*LevelDBState, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open state db: %w", err)
	}
	return &LevelDBState{db: db}, nil
}

func (s *LevelDBState) Get(key string) (string, bool, error) {
	b, err := s.db.Get([]byte(statePrefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %q: %w", key, err)
	}
	return string(b), true, nil
}

func (s *LevelDBState) Put(key, value string) error {
	if err := s.db.Put([]byte(statePrefix+key), []byte(value), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}
	return nil
}

func (s *LevelDBState) Delete(key string) error {
	if err := s.db.Delete([]byte(statePrefix+key), &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

// Close releases the database.
func (s *LevelDBState) Close() error {
	return s.db.Close()
}
