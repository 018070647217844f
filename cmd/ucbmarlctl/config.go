package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"ucbmarl/pkg/ucbmarl"
)

type runFlags struct {
	runID         *string
	scape         *string
	agents        *int
	gridSize      *int
	localRatio    *float64
	topology      *string
	gammaHop      *int
	slow          *bool
	episodes      *int
	horizon       *int
	c             *float64
	delta         *float64
	seed          *int64
	workers       *int
	perPairMerge  *bool
	trials        *int
	evalInterval  *int
	evalEpisodes  *int
	adjacencyPath *string
}

func addRunFlags(fs *flag.FlagSet) runFlags {
	return runFlags{
		runID:         fs.String("run-id", "", "explicit run id (optional)"),
		scape:         fs.String("scape", "grid-spread", "scape name"),
		agents:        fs.Int("agents", 3, "agent count"),
		gridSize:      fs.Int("grid-size", 4, "grid side length"),
		localRatio:    fs.Float64("local-ratio", 0.5, "weight of the local collision penalty in [0,1]"),
		topology:      fs.String("topology", "full", "communication graph: none|line|ring|star|full"),
		gammaHop:      fs.Int("gamma-hop", 1, "max hop distance for message sharing"),
		slow:          fs.Bool("slow", false, "delay messages by their hop distance"),
		episodes:      fs.Int("episodes", 100, "training episodes"),
		horizon:       fs.Int("horizon", 10, "steps per episode"),
		c:             fs.Float64("c", 0, "bonus scale (0 uses the default)"),
		delta:         fs.Float64("delta", 0, "failure probability (0 uses the default)"),
		seed:          fs.Int64("seed", 1, "rng seed"),
		workers:       fs.Int("workers", 4, "worker count"),
		perPairMerge:  fs.Bool("per-pair-merge", false, "keep each merged sample's own action"),
		trials:        fs.Int("trials", 1, "independent trials averaged into the reward series"),
		evalInterval:  fs.Int("eval-interval", 0, "greedy evaluation every N episodes (0 disables)"),
		evalEpisodes:  fs.Int("eval-episodes", 1, "episodes per greedy evaluation"),
		adjacencyPath: fs.String("adjacency", "", "optional JSON adjacency matrix path, overrides -topology"),
	}
}

// buildRunRequest starts from flag defaults, layers the config file on top
// and finally applies flags set explicitly on the command line.
func buildRunRequest(fs *flag.FlagSet, flags runFlags, configPath string) (ucbmarl.RunRequest, error) {
	var req ucbmarl.RunRequest
	if err := applyRunFlags(&req, flags, nil); err != nil {
		return ucbmarl.RunRequest{}, err
	}
	if configPath == "" {
		return req, nil
	}

	raw, err := readConfig(configPath)
	if err != nil {
		return ucbmarl.RunRequest{}, fmt.Errorf("load config: %w", err)
	}
	if err := applyConfig(&req, raw); err != nil {
		return ucbmarl.RunRequest{}, fmt.Errorf("load config: %w", err)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if err := applyRunFlags(&req, flags, set); err != nil {
		return ucbmarl.RunRequest{}, err
	}
	return req, nil
}

// applyRunFlags copies flag values into req. A nil set applies every flag.
func applyRunFlags(req *ucbmarl.RunRequest, flags runFlags, set map[string]bool) error {
	use := func(name string) bool { return set == nil || set[name] }

	if use("run-id") {
		req.RunID = *flags.runID
	}
	if use("scape") {
		req.Scape = *flags.scape
	}
	if use("agents") {
		req.Agents = *flags.agents
	}
	if use("grid-size") {
		req.GridSize = *flags.gridSize
	}
	if use("local-ratio") {
		req.LocalRatio = *flags.localRatio
	}
	if use("topology") {
		req.Topology = *flags.topology
	}
	if use("gamma-hop") {
		req.GammaHop = *flags.gammaHop
	}
	if use("slow") {
		req.ConnectionSlow = *flags.slow
	}
	if use("episodes") {
		req.Episodes = *flags.episodes
	}
	if use("horizon") {
		req.Horizon = *flags.horizon
	}
	if use("c") {
		req.C = *flags.c
	}
	if use("delta") {
		req.Delta = *flags.delta
	}
	if use("seed") {
		req.Seed = *flags.seed
	}
	if use("workers") {
		req.Workers = *flags.workers
	}
	if use("per-pair-merge") {
		req.PerPairMerge = *flags.perPairMerge
	}
	if use("trials") {
		req.Trials = *flags.trials
	}
	if use("eval-interval") {
		req.EvaluationInterval = *flags.evalInterval
	}
	if use("eval-episodes") {
		req.EvaluationEpisodes = *flags.evalEpisodes
	}
	if use("adjacency") && *flags.adjacencyPath != "" {
		adj, err := loadAdjacency(*flags.adjacencyPath)
		if err != nil {
			return err
		}
		req.Adjacency = adj
	}
	return nil
}

func loadRunRequestFromConfig(path string) (ucbmarl.RunRequest, error) {
	raw, err := readConfig(path)
	if err != nil {
		return ucbmarl.RunRequest{}, err
	}
	var req ucbmarl.RunRequest
	if err := applyConfig(&req, raw); err != nil {
		return ucbmarl.RunRequest{}, err
	}
	return req, nil
}

func readConfig(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func applyConfig(req *ucbmarl.RunRequest, raw map[string]any) error {
	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asString(raw["scape"]); ok {
		req.Scape = v
	}
	if v, ok := asInt(raw["agents"]); ok {
		req.Agents = v
	}
	if v, ok := asInt(raw["grid_size"]); ok {
		req.GridSize = v
	}
	if v, ok := asFloat64(raw["local_ratio"]); ok {
		req.LocalRatio = v
	}
	if v, ok := asString(raw["topology"]); ok {
		req.Topology = v
	}
	if v, ok := asInt(raw["gamma_hop"]); ok {
		req.GammaHop = v
	}
	if v, ok := asBool(raw["connection_slow"]); ok {
		req.ConnectionSlow = v
	}
	if v, ok := asInt(raw["episodes"]); ok {
		req.Episodes = v
	}
	if v, ok := asInt(raw["horizon"]); ok {
		req.Horizon = v
	}
	if v, ok := asFloat64(raw["c"]); ok {
		req.C = v
	}
	if v, ok := asFloat64(raw["delta"]); ok {
		req.Delta = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asBool(raw["per_pair_merge"]); ok {
		req.PerPairMerge = v
	}
	if v, ok := asInt(raw["trials"]); ok {
		req.Trials = v
	}
	if v, ok := asInt(raw["evaluation_interval"]); ok {
		req.EvaluationInterval = v
	}
	if v, ok := asInt(raw["evaluation_episodes"]); ok {
		req.EvaluationEpisodes = v
	}
	if v, ok := raw["adjacency"]; ok {
		adj, err := asMatrix(v)
		if err != nil {
			return fmt.Errorf("adjacency: %w", err)
		}
		req.Adjacency = adj
	}
	return nil
}

func loadAdjacency(path string) ([][]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load adjacency: %w", err)
	}
	var adj [][]int
	if err := json.Unmarshal(data, &adj); err != nil {
		return nil, fmt.Errorf("decode adjacency: %w", err)
	}
	return adj, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asMatrix(v any) ([][]int, error) {
	rows, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list of rows, got %T", v)
	}
	out := make([][]int, len(rows))
	for i, row := range rows {
		cells, ok := row.([]any)
		if !ok {
			return nil, fmt.Errorf("row %d: expected list, got %T", i, row)
		}
		out[i] = make([]int, len(cells))
		for j, cell := range cells {
			n, ok := asInt(cell)
			if !ok {
				return nil, fmt.Errorf("row %d col %d: expected number, got %T", i, j, cell)
			}
			out[i][j] = n
		}
	}
	return out, nil
}
