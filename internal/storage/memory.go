package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"ucbmarl/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type agentKey struct {
	runID string
	name  string
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	agents      map[agentKey]model.AgentSnapshot
	runs        map[string]model.RunRecord
	rewards     map[string][]model.EpisodeReward
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.reset()
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
	return nil
}

func (s *MemoryStore) reset() {
	s.initialized = true
	s.agents = make(map[agentKey]model.AgentSnapshot)
	s.runs = make(map[string]model.RunRecord)
	s.rewards = make(map[string][]model.EpisodeReward)
}

func (s *MemoryStore) SaveAgent(_ context.Context, snapshot model.AgentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.agents[agentKey{snapshot.RunID, snapshot.Name}] = cloneSnapshot(snapshot)
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, runID, name string) (model.AgentSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.agents[agentKey{runID, name}]
	if !ok {
		return model.AgentSnapshot{}, false, nil
	}
	return cloneSnapshot(snapshot), true, nil
}

func (s *MemoryStore) ListAgents(_ context.Context, runID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0)
	for key := range s.agents {
		if key.runID == runID {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	run.Agents = append([]string(nil), run.Agents...)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	run.Agents = append([]string(nil), run.Agents...)
	return run, true, nil
}

func (s *MemoryStore) SaveRewardHistory(_ context.Context, runID string, history []model.EpisodeReward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.rewards[runID] = cloneRewards(history)
	return nil
}

func (s *MemoryStore) GetRewardHistory(_ context.Context, runID string) ([]model.EpisodeReward, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.rewards[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneRewards(history), true, nil
}
