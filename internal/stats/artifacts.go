package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"ucbmarl/internal/model"
)

const (
	runIndexFile        = "run_index.json"
	configFile          = "config.json"
	rewardsFile         = "rewards.json"
	rewardSeriesFile    = "reward_series.csv"
	evaluationSeriesCSV = "evaluation_series.csv"
	summaryFile         = "summary.json"
)

type RunConfig struct {
	RunID              string  `json:"run_id"`
	Scape              string  `json:"scape"`
	Topology           string  `json:"topology"`
	Agents             int     `json:"agents"`
	Episodes           int     `json:"episodes"`
	Horizon            int     `json:"horizon"`
	GammaHop           int     `json:"gamma_hop"`
	ConnectionSlow     bool    `json:"connection_slow"`
	GridSize           int     `json:"grid_size,omitempty"`
	LocalRatio         float64 `json:"local_ratio"`
	C                  float64 `json:"c"`
	Delta              float64 `json:"delta"`
	Seed               int64   `json:"seed"`
	Workers            int     `json:"workers"`
	PerPairMerge       bool    `json:"per_pair_merge,omitempty"`
	Trials             int     `json:"trials,omitempty"`
	EvaluationInterval int     `json:"evaluation_interval,omitempty"`
	EvaluationEpisodes int     `json:"evaluation_episodes,omitempty"`
}

type RunArtifacts struct {
	Config      RunConfig             `json:"config"`
	Training    []model.EpisodeReward `json:"training"`
	Evaluation  []model.EpisodeReward `json:"evaluation,omitempty"`
	FinalReward float64               `json:"final_reward"`
	BonusMeans  map[string][]float64  `json:"bonus_means,omitempty"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Scape        string  `json:"scape"`
	Topology     string  `json:"topology"`
	Agents       int     `json:"agents"`
	Episodes     int     `json:"episodes"`
	Horizon      int     `json:"horizon"`
	Seed         int64   `json:"seed"`
	Workers      int     `json:"workers"`
	FinalReward  float64 `json:"final_reward"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	rewards := map[string]any{
		"training":     artifacts.Training,
		"evaluation":   artifacts.Evaluation,
		"final_reward": artifacts.FinalReward,
		"bonus_means":  artifacts.BonusMeans,
	}
	if err := writeJSON(filepath.Join(runDir, rewardsFile), rewards); err != nil {
		return "", err
	}
	if err := WriteRewardSeries(filepath.Join(runDir, rewardSeriesFile), artifacts.Training); err != nil {
		return "", err
	}
	if len(artifacts.Evaluation) > 0 {
		if err := WriteRewardSeries(filepath.Join(runDir, evaluationSeriesCSV), artifacts.Evaluation); err != nil {
			return "", err
		}
	}
	summary := RunSummary{
		Training:   Summarize(MeanSeries(artifacts.Training)),
		Evaluation: Summarize(MeanSeries(artifacts.Evaluation)),
		PerAgent:   PerAgentMeans(artifacts.Training),
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), summary); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode run index: %w", err)
	}

	order := make(map[string]int, len(entries))
	for i, entry := range entries {
		order[entry.RunID] = i
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAtUTC == entries[j].CreatedAtUTC {
			// Later appends win ties.
			return order[entries[i].RunID] > order[entries[j].RunID]
		}
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

// ExportRunArtifacts copies a run directory into outDir. The evaluation
// series and summary are optional.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, rewardsFile, rewardSeriesFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{evaluationSeriesCSV, summaryFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

// WriteRewardSeries writes one row per episode: the team mean followed by
// every agent's reward in name order.
func WriteRewardSeries(path string, series []model.EpisodeReward) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	names := agentNames(series)
	writer := csv.NewWriter(file)
	if err := writer.Write(append([]string{"episode", "mean"}, names...)); err != nil {
		return err
	}
	for _, point := range series {
		row := []string{
			strconv.Itoa(point.Episode),
			strconv.FormatFloat(point.Mean, 'f', -1, 64),
		}
		for _, name := range names {
			row = append(row, strconv.FormatFloat(point.PerAgent[name], 'f', -1, 64))
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadRewardSeries(baseDir, runID string, evaluation bool) ([]model.EpisodeReward, bool, error) {
	name := rewardSeriesFile
	if evaluation {
		name = evaluationSeriesCSV
	}
	file, err := os.Open(filepath.Join(baseDir, runID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.EpisodeReward{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("reward series header must have at least 2 columns")
	}

	series := make([]model.EpisodeReward, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) != len(header) {
			return nil, false, fmt.Errorf("reward series row has %d columns, want %d", len(record), len(header))
		}
		episode, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, err
		}
		mean, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		point := model.EpisodeReward{Episode: episode, Mean: mean, Evaluation: evaluation}
		if len(header) > 2 {
			point.PerAgent = make(map[string]float64, len(header)-2)
			for i, agent := range header[2:] {
				v, err := strconv.ParseFloat(record[i+2], 64)
				if err != nil {
					return nil, false, err
				}
				point.PerAgent[agent] = v
			}
		}
		series = append(series, point)
	}
	return series, true, nil
}

func agentNames(series []model.EpisodeReward) []string {
	seen := map[string]struct{}{}
	for _, point := range series {
		for name := range point.PerAgent {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
