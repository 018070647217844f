package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ucbmarl/internal/marl"
	"ucbmarl/internal/model"
	"ucbmarl/internal/scape"
	"ucbmarl/internal/storage"
)

type Config struct {
	Store    storage.Store
	Registry *scape.Registry
	Logger   *slog.Logger
}

// RunRequest describes one training run against a registered scape.
type RunRequest struct {
	RunID          string
	Scape          string
	Agents         int
	GridSize       int
	LocalRatio     float64
	Topology       string
	Adjacency      [][]int
	GammaHop       int
	ConnectionSlow bool
	Episodes       int
	Horizon        int
	C              float64
	Delta          float64
	Seed           int64
	Workers        int
	PerPairMerge   bool
	Trials         int

	EvaluationInterval int
	EvaluationEpisodes int

	OnEpisode func(model.EpisodeReward)
}

type RunResult struct {
	Record     model.RunRecord
	Training   []model.EpisodeReward
	Evaluation []model.EpisodeReward
	BonusMeans map[string][]float64
}

type PlayRequest struct {
	RunID    string
	Episodes int
	Seed     int64
}

type PlayResult struct {
	RunID    string             `json:"run_id"`
	Episodes int                `json:"episodes"`
	Mean     float64            `json:"mean"`
	PerAgent map[string]float64 `json:"per_agent"`
}

// Polis owns the store and the scape registry and runs training jobs.
type Polis struct {
	store    storage.Store
	registry *scape.Registry
	logger   *slog.Logger

	mu      sync.RWMutex
	started bool
	active  map[string]struct{}
}

func NewPolis(cfg Config) *Polis {
	registry := cfg.Registry
	if registry == nil {
		registry = scape.DefaultRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Polis{
		store:    cfg.Store,
		registry: registry,
		logger:   logger,
		active:   make(map[string]struct{}),
	}
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

// Reset drops all persisted data when the store supports it and
// reinitializes the polis.
func (p *Polis) Reset(ctx context.Context) error {
	p.Stop()
	if resetter, ok := p.store.(storage.Resetter); ok {
		if err := p.store.Init(ctx); err != nil {
			return err
		}
		if err := resetter.Reset(ctx); err != nil {
			return err
		}
	}
	return p.Init(ctx)
}

func (p *Polis) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = false
	p.active = make(map[string]struct{})
}

func (p *Polis) Store() storage.Store { return p.store }

func (p *Polis) RegisterScape(name string, factory scape.Factory) error {
	if !p.Started() {
		return fmt.Errorf("polis is not initialized")
	}
	return p.registry.Register(name, factory)
}

func (p *Polis) Scapes() []string {
	return p.registry.Names()
}

// DescribeScapes builds every registered scape with the given agent count
// and grid size and summarizes it.
func (p *Polis) DescribeScapes(agents, gridSize int) ([]scape.Summary, error) {
	if agents <= 0 {
		agents = 1
	}
	names := p.Scapes()
	out := make([]scape.Summary, 0, len(names))
	for _, name := range names {
		sc, err := p.registry.New(name, scape.Params{Agents: agents, Size: gridSize})
		if err != nil {
			return nil, fmt.Errorf("describe scape %s: %w", name, err)
		}
		out = append(out, scape.Describe(sc))
	}
	return out, nil
}

func (p *Polis) RunTraining(ctx context.Context, req RunRequest) (RunResult, error) {
	if !p.Started() {
		return RunResult{}, fmt.Errorf("polis is not initialized")
	}
	if req.Scape == "" {
		req.Scape = scape.GridSpreadName
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if err := p.registerRun(runID); err != nil {
		return RunResult{}, err
	}
	defer p.unregisterRun(runID)

	sc, err := p.registry.New(req.Scape, scape.Params{
		Agents:     req.Agents,
		Size:       req.GridSize,
		Cycles:     req.Horizon,
		LocalRatio: req.LocalRatio,
	})
	if err != nil {
		return RunResult{}, err
	}

	trainer := NewTrainer(p.logger)
	training, err := trainer.Run(ctx, TrainingConfig{
		RunID:              runID,
		Scape:              sc,
		Topology:           req.Topology,
		Adjacency:          req.Adjacency,
		GammaHop:           req.GammaHop,
		ConnectionSlow:     req.ConnectionSlow,
		Episodes:           req.Episodes,
		Horizon:            req.Horizon,
		C:                  req.C,
		Delta:              req.Delta,
		Seed:               req.Seed,
		Workers:            req.Workers,
		PerPairMerge:       req.PerPairMerge,
		Trials:             req.Trials,
		EvaluationInterval: req.EvaluationInterval,
		EvaluationEpisodes: req.EvaluationEpisodes,
		OnEpisode:          req.OnEpisode,
	})
	if err != nil {
		return RunResult{}, err
	}

	names := make([]string, 0, len(training.Agents))
	for _, agent := range training.Agents {
		snapshot := agent.Snapshot()
		snapshot.RunID = runID
		if err := p.store.SaveAgent(ctx, snapshot); err != nil {
			return RunResult{}, fmt.Errorf("save agent %s: %w", agent.Name(), err)
		}
		names = append(names, agent.Name())
	}

	cfg := training.Agents[0].Config()
	record := model.RunRecord{
		ID:           runID,
		Scape:        sc.Name(),
		Topology:     topologyLabel(req),
		Agents:       names,
		Episodes:     cfg.Episodes,
		Horizon:      cfg.Horizon,
		StateSpace:   cfg.StateSpace,
		GammaHop:     req.GammaHop,
		Slow:         req.ConnectionSlow,
		GridSize:     req.GridSize,
		LocalRatio:   req.LocalRatio,
		PerPairMerge: req.PerPairMerge,
		Trials:       training.Trials,
		Seed:         req.Seed,
		C:            cfg.C,
		Delta:        cfg.Delta,
		FinalReward:  training.FinalReward,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := p.store.SaveRun(ctx, record); err != nil {
		return RunResult{}, fmt.Errorf("save run %s: %w", runID, err)
	}
	history := append(append([]model.EpisodeReward(nil), training.Training...), training.Evaluation...)
	if err := p.store.SaveRewardHistory(ctx, runID, history); err != nil {
		return RunResult{}, fmt.Errorf("save reward history %s: %w", runID, err)
	}

	p.logger.Info("[polis] run persisted", "run_id", runID, "agents", len(names), "final_reward", record.FinalReward)
	return RunResult{
		Record:     record,
		Training:   training.Training,
		Evaluation: training.Evaluation,
		BonusMeans: training.BonusMeans(),
	}, nil
}

// LoadAgents restores every persisted agent of a run.
func (p *Polis) LoadAgents(ctx context.Context, runID string) (model.RunRecord, []*marl.Agent, error) {
	record, ok, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, nil, err
	}
	if !ok {
		return model.RunRecord{}, nil, fmt.Errorf("run not found: %s", runID)
	}
	agents := make([]*marl.Agent, 0, len(record.Agents))
	for i, name := range record.Agents {
		snapshot, ok, err := p.store.GetAgent(ctx, runID, name)
		if err != nil {
			return model.RunRecord{}, nil, err
		}
		if !ok {
			return model.RunRecord{}, nil, fmt.Errorf("agent not found: %s/%s", runID, name)
		}
		agent, err := marl.NewAgent(marl.Config{
			Name:         name,
			Peers:        record.Agents,
			Horizon:      record.Horizon,
			Episodes:     record.Episodes,
			Agents:       len(record.Agents),
			GammaHop:     record.GammaHop,
			Actions:      snapshot.Actions,
			StateSpace:   record.StateSpace,
			C:            record.C,
			Delta:        record.Delta,
			Seed:         AgentSeed(lastTrialSeed(record), i),
			PerPairMerge: record.PerPairMerge,
		})
		if err != nil {
			return model.RunRecord{}, nil, err
		}
		if err := agent.Restore(snapshot); err != nil {
			return model.RunRecord{}, nil, fmt.Errorf("restore agent %s: %w", name, err)
		}
		agents = append(agents, agent)
	}
	return record, agents, nil
}

// Play restores a trained run and evaluates its greedy joint policy.
func (p *Polis) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	if !p.Started() {
		return PlayResult{}, fmt.Errorf("polis is not initialized")
	}
	record, agents, err := p.LoadAgents(ctx, req.RunID)
	if err != nil {
		return PlayResult{}, err
	}
	sc, err := p.registry.New(record.Scape, scape.Params{
		Agents:     len(record.Agents),
		Size:       record.GridSize,
		Cycles:     record.Horizon,
		LocalRatio: record.LocalRatio,
	})
	if err != nil {
		return PlayResult{}, err
	}
	episodes := req.Episodes
	if episodes <= 0 {
		episodes = 1
	}
	perAgent, err := Evaluate(ctx, sc, agents, record.Horizon, episodes, req.Seed)
	if err != nil {
		return PlayResult{}, err
	}
	point := episodeReward(0, perAgent, true)
	return PlayResult{RunID: record.ID, Episodes: episodes, Mean: point.Mean, PerAgent: point.PerAgent}, nil
}

// ActiveRuns lists the runs currently training.
func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.active))
	for id := range p.active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Polis) registerRun(runID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.active[runID]; exists {
		return fmt.Errorf("run already active: %s", runID)
	}
	p.active[runID] = struct{}{}
	return nil
}

func (p *Polis) unregisterRun(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, runID)
}

// lastTrialSeed is the base seed of the trial whose agents were persisted.
func lastTrialSeed(record model.RunRecord) int64 {
	if record.Trials <= 1 {
		return record.Seed
	}
	return TrialSeed(record.Seed, record.Trials-1)
}

func topologyLabel(req RunRequest) string {
	if req.Adjacency != nil {
		return "custom"
	}
	if req.Topology == "" {
		return "full"
	}
	return req.Topology
}
