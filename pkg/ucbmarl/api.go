// Package ucbmarl is the public entry point for training and inspecting
// decentralized UCB multi-agent learners.
package ucbmarl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"ucbmarl/internal/model"
	"ucbmarl/internal/platform"
	"ucbmarl/internal/stats"
	"ucbmarl/internal/storage"
	"ucbmarl/internal/topology"
)

const (
	defaultArtifactsDir = "artifacts"
	defaultExportsDir   = "exports"
	defaultDBPath       = "ucbmarl.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store  storage.Store
	polis  *platform.Polis
	logger *slog.Logger

	artifactsDir string
	exportsDir   string
}

type RunRequest struct {
	RunID              string
	Scape              string
	Agents             int
	GridSize           int
	LocalRatio         float64
	Topology           string
	Adjacency          [][]int
	GammaHop           int
	ConnectionSlow     bool
	Episodes           int
	Horizon            int
	C                  float64
	Delta              float64
	Seed               int64
	Workers            int
	PerPairMerge       bool
	Trials             int
	EvaluationInterval int
	EvaluationEpisodes int
	OnEpisode          func(model.EpisodeReward)
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Training     []model.EpisodeReward
	Evaluation   []model.EpisodeReward
	FinalReward  float64
	Summary      stats.SeriesSummary
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Scape        string
	Topology     string
	Agents       int
	Episodes     int
	Horizon      int
	Seed         int64
	FinalReward  float64
}

type RewardsRequest struct {
	RunID      string
	Latest     bool
	Limit      int
	Evaluation bool
	// FromArtifacts reads the CSV series of the run directory instead of
	// the store.
	FromArtifacts bool
}

type RewardsSummary struct {
	RunID   string
	Points  []model.EpisodeReward
	Summary stats.SeriesSummary
}

type AgentRequest struct {
	RunID  string
	Latest bool
	Name   string
}

// PlayRequest replays a run greedily. Zero Episodes falls back to the run's
// evaluation episodes when its artifacts are available.
type PlayRequest struct {
	RunID    string
	Latest   bool
	Episodes int
	Seed     int64
}

type PlayResult struct {
	RunID    string             `json:"run_id"`
	Episodes int                `json:"episodes"`
	Mean     float64            `json:"mean"`
	PerAgent map[string]float64 `json:"per_agent"`
}

type ScapesRequest struct {
	Agents   int
	GridSize int
}

type ScapeItem struct {
	Name       string `json:"name"`
	Agents     int    `json:"agents"`
	StateSpace int    `json:"state_space"`
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

func (c *Client) Reset(ctx context.Context) error {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return err
	}
	return p.Reset(ctx)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	workers := req.Workers
	if workers <= 0 {
		workers = 1
	}
	result, err := p.RunTraining(ctx, platform.RunRequest{
		RunID:              req.RunID,
		Scape:              req.Scape,
		Agents:             req.Agents,
		GridSize:           req.GridSize,
		LocalRatio:         req.LocalRatio,
		Topology:           req.Topology,
		Adjacency:          req.Adjacency,
		GammaHop:           req.GammaHop,
		ConnectionSlow:     req.ConnectionSlow,
		Episodes:           req.Episodes,
		Horizon:            req.Horizon,
		C:                  req.C,
		Delta:              req.Delta,
		Seed:               req.Seed,
		Workers:            workers,
		PerPairMerge:       req.PerPairMerge,
		Trials:             req.Trials,
		EvaluationInterval: req.EvaluationInterval,
		EvaluationEpisodes: req.EvaluationEpisodes,
		OnEpisode:          req.OnEpisode,
	})
	if err != nil {
		return RunSummary{}, err
	}

	record := result.Record
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:              record.ID,
			Scape:              record.Scape,
			Topology:           record.Topology,
			Agents:             len(record.Agents),
			Episodes:           record.Episodes,
			Horizon:            record.Horizon,
			GammaHop:           record.GammaHop,
			ConnectionSlow:     record.Slow,
			GridSize:           record.GridSize,
			LocalRatio:         record.LocalRatio,
			C:                  record.C,
			Delta:              record.Delta,
			Seed:               record.Seed,
			Workers:            workers,
			PerPairMerge:       record.PerPairMerge,
			Trials:             record.Trials,
			EvaluationInterval: req.EvaluationInterval,
			EvaluationEpisodes: req.EvaluationEpisodes,
		},
		Training:    result.Training,
		Evaluation:  result.Evaluation,
		FinalReward: record.FinalReward,
		BonusMeans:  result.BonusMeans,
	})
	if err != nil {
		return RunSummary{}, fmt.Errorf("write artifacts: %w", err)
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:        record.ID,
		Scape:        record.Scape,
		Topology:     record.Topology,
		Agents:       len(record.Agents),
		Episodes:     record.Episodes,
		Horizon:      record.Horizon,
		Seed:         record.Seed,
		Workers:      workers,
		FinalReward:  record.FinalReward,
		CreatedAtUTC: record.CreatedAtUTC,
	}); err != nil {
		return RunSummary{}, fmt.Errorf("append run index: %w", err)
	}

	return RunSummary{
		RunID:        record.ID,
		ArtifactsDir: runDir,
		Training:     result.Training,
		Evaluation:   result.Evaluation,
		FinalReward:  record.FinalReward,
		Summary:      stats.Summarize(stats.MeanSeries(result.Training)),
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Scape:        e.Scape,
			Topology:     e.Topology,
			Agents:       e.Agents,
			Episodes:     e.Episodes,
			Horizon:      e.Horizon,
			Seed:         e.Seed,
			FinalReward:  e.FinalReward,
		})
	}
	return out, nil
}

// Rewards returns the reward history of a run, limited to the last Limit
// points when Limit is positive.
func (c *Client) Rewards(ctx context.Context, req RewardsRequest) (RewardsSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return RewardsSummary{}, err
	}
	history, err := c.rewardHistory(ctx, runID, req)
	if err != nil {
		return RewardsSummary{}, err
	}
	points := make([]model.EpisodeReward, 0, len(history))
	for _, point := range history {
		if point.Evaluation == req.Evaluation {
			points = append(points, point)
		}
	}
	if req.Limit > 0 && len(points) > req.Limit {
		points = points[len(points)-req.Limit:]
	}
	return RewardsSummary{
		RunID:   runID,
		Points:  points,
		Summary: stats.Summarize(stats.MeanSeries(points)),
	}, nil
}

func (c *Client) rewardHistory(ctx context.Context, runID string, req RewardsRequest) ([]model.EpisodeReward, error) {
	if req.FromArtifacts {
		series, ok, err := stats.ReadRewardSeries(c.artifactsDir, runID, req.Evaluation)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("reward series not found in artifacts for run %s", runID)
		}
		for i := range series {
			series[i].Evaluation = req.Evaluation
		}
		return series, nil
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return nil, err
	}
	history, ok, err := p.Store().GetRewardHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("reward history not found for run %s", runID)
	}
	return history, nil
}

func (c *Client) Agent(ctx context.Context, req AgentRequest) (model.AgentSnapshot, error) {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return model.AgentSnapshot{}, err
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return model.AgentSnapshot{}, err
	}
	if req.Name == "" {
		return model.AgentSnapshot{}, errors.New("agent name is required")
	}
	snapshot, ok, err := p.Store().GetAgent(ctx, runID, req.Name)
	if err != nil {
		return model.AgentSnapshot{}, err
	}
	if !ok {
		return model.AgentSnapshot{}, fmt.Errorf("agent not found: %s/%s", runID, req.Name)
	}
	return snapshot, nil
}

// AgentNames lists the agents persisted for a run.
func (c *Client) AgentNames(ctx context.Context, runID string, latest bool) ([]string, error) {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return nil, err
	}
	resolved, err := c.resolveRunID(runID, latest)
	if err != nil {
		return nil, err
	}
	return p.Store().ListAgents(ctx, resolved)
}

func (c *Client) Play(ctx context.Context, req PlayRequest) (PlayResult, error) {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return PlayResult{}, err
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return PlayResult{}, err
	}
	episodes := req.Episodes
	if episodes <= 0 {
		cfg, ok, err := stats.ReadRunConfig(c.artifactsDir, runID)
		if err != nil {
			return PlayResult{}, fmt.Errorf("read run config: %w", err)
		}
		if ok {
			episodes = cfg.EvaluationEpisodes
		}
	}
	played, err := p.Play(ctx, platform.PlayRequest{RunID: runID, Episodes: episodes, Seed: req.Seed})
	if err != nil {
		return PlayResult{}, err
	}
	return PlayResult{
		RunID:    played.RunID,
		Episodes: played.Episodes,
		Mean:     played.Mean,
		PerAgent: played.PerAgent,
	}, nil
}

// Scapes describes every registered scape as built with the given size.
func (c *Client) Scapes(ctx context.Context, req ScapesRequest) ([]ScapeItem, error) {
	p, err := c.ensurePolis(ctx)
	if err != nil {
		return nil, err
	}
	summaries, err := p.DescribeScapes(req.Agents, req.GridSize)
	if err != nil {
		return nil, err
	}
	out := make([]ScapeItem, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, ScapeItem{Name: s.Name, Agents: s.Agents, StateSpace: s.StateSpace})
	}
	return out, nil
}

// Graphs lists the named communication topologies.
func (c *Client) Graphs() []string {
	return topology.Graphs()
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id or latest is required")
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	if c.polis != nil {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{Store: c.store, Logger: c.logger})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}
