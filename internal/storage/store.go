package storage

import (
	"context"

	"ucbmarl/internal/model"
)

// Store defines persistence operations for trained agents and run records.
type Store interface {
	Init(ctx context.Context) error
	SaveAgent(ctx context.Context, snapshot model.AgentSnapshot) error
	GetAgent(ctx context.Context, runID, name string) (model.AgentSnapshot, bool, error)
	ListAgents(ctx context.Context, runID string) ([]string, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error)
	SaveRewardHistory(ctx context.Context, runID string, history []model.EpisodeReward) error
	GetRewardHistory(ctx context.Context, runID string) ([]model.EpisodeReward, bool, error)
}

// Resetter is implemented by stores that can drop all persisted data.
type Resetter interface {
	Reset(ctx context.Context) error
}
