package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"ucbmarl/internal/model"
)

// LevelDB key prefix scheme, "|" separated:
//
//	a|<run>|<agent>  → AgentSnapshot JSON
//	r|<run>          → RunRecord JSON
//	w|<run>          → []EpisodeReward JSON
const (
	prefixAgent  = "a|"
	prefixRun    = "r|"
	prefixReward = "w|"
)

type LevelDBStore struct {
	path string

	mu sync.RWMutex
	db *leveldb.DB
}

func NewLevelDBStore(path string) *LevelDBStore {
	return &LevelDBStore{path: path}
}

func (s *LevelDBStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("leveldb path is required")
	}
	if s.db != nil {
		return nil
	}
	db, err := leveldb.OpenFile(s.path, nil)
	if err != nil {
		return fmt.Errorf("open leveldb %s: %w", s.path, err)
	}
	s.db = db
	return nil
}

func (s *LevelDBStore) Reset(_ context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	iter := db.NewIterator(nil, nil)
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}
	return db.Write(batch, nil)
}

func (s *LevelDBStore) SaveAgent(_ context.Context, snapshot model.AgentSnapshot) error {
	payload, err := EncodeAgent(snapshot)
	if err != nil {
		return err
	}
	return s.put(agentDBKey(snapshot.RunID, snapshot.Name), payload)
}

func (s *LevelDBStore) GetAgent(_ context.Context, runID, name string) (model.AgentSnapshot, bool, error) {
	payload, ok, err := s.get(agentDBKey(runID, name))
	if err != nil || !ok {
		return model.AgentSnapshot{}, false, err
	}
	snapshot, err := DecodeAgent(payload)
	if err != nil {
		return model.AgentSnapshot{}, false, fmt.Errorf("decode agent %s/%s: %w", runID, name, err)
	}
	return snapshot, true, nil
}

func (s *LevelDBStore) ListAgents(_ context.Context, runID string) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	prefix := prefixAgent + runID + "|"
	iter := db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	names := make([]string, 0)
	for iter.Next() {
		names = append(names, strings.TrimPrefix(string(iter.Key()), prefix))
	}
	return names, iter.Error()
}

func (s *LevelDBStore) SaveRun(_ context.Context, run model.RunRecord) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return s.put(prefixRun+run.ID, payload)
}

func (s *LevelDBStore) GetRun(_ context.Context, runID string) (model.RunRecord, bool, error) {
	payload, ok, err := s.get(prefixRun + runID)
	if err != nil || !ok {
		return model.RunRecord{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, true, nil
}

func (s *LevelDBStore) SaveRewardHistory(_ context.Context, runID string, history []model.EpisodeReward) error {
	payload, err := EncodeRewardHistory(history)
	if err != nil {
		return err
	}
	return s.put(prefixReward+runID, payload)
}

func (s *LevelDBStore) GetRewardHistory(_ context.Context, runID string) ([]model.EpisodeReward, bool, error) {
	payload, ok, err := s.get(prefixReward + runID)
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := DecodeRewardHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode reward history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *LevelDBStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *LevelDBStore) put(key string, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.Put([]byte(key), payload, nil)
}

func (s *LevelDBStore) get(key string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	payload, err := db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *LevelDBStore) getDB() (*leveldb.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func agentDBKey(runID, name string) string {
	return prefixAgent + runID + "|" + name
}
