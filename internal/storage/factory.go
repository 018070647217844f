package storage

import (
	"fmt"
	"os"
)

const (
	KindMemory  = "memory"
	KindSQLite  = "sqlite"
	KindLevelDB = "leveldb"
)

// DefaultStoreKind honours UCBMARL_STORE and falls back to memory.
func DefaultStoreKind() string {
	if kind := os.Getenv("UCBMARL_STORE"); kind != "" {
		return kind
	}
	return KindMemory
}

func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		return newSQLiteStore(path)
	case KindLevelDB:
		return NewLevelDBStore(path), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
