package stats

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"ucbmarl/internal/model"
)

// SeriesSummary describes a reward series. Improvement is last minus first.
type SeriesSummary struct {
	Count       int     `json:"count"`
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	First       float64 `json:"first"`
	Last        float64 `json:"last"`
	Improvement float64 `json:"improvement"`
}

type RunSummary struct {
	Training   SeriesSummary      `json:"training"`
	Evaluation SeriesSummary      `json:"evaluation"`
	PerAgent   map[string]float64 `json:"per_agent,omitempty"`
}

func Summarize(series []float64) SeriesSummary {
	if len(series) == 0 {
		return SeriesSummary{}
	}
	out := SeriesSummary{
		Count: len(series),
		Min:   floats.Min(series),
		Max:   floats.Max(series),
		First: series[0],
		Last:  series[len(series)-1],
	}
	if len(series) == 1 {
		out.Mean = series[0]
	} else {
		out.Mean, out.Std = stat.MeanStdDev(series, nil)
	}
	out.Improvement = out.Last - out.First
	return out
}

// MeanSeries extracts the team mean of every point.
func MeanSeries(series []model.EpisodeReward) []float64 {
	out := make([]float64, len(series))
	for i, point := range series {
		out[i] = point.Mean
	}
	return out
}

// PerAgentMeans averages each agent's reward over the series. Agents missing
// from a point count as zero for that point.
func PerAgentMeans(series []model.EpisodeReward) map[string]float64 {
	names := agentNames(series)
	if len(series) == 0 || len(names) == 0 {
		return nil
	}
	rewards := mat.NewDense(len(series), len(names), nil)
	for i, point := range series {
		for j, name := range names {
			rewards.Set(i, j, point.PerAgent[name])
		}
	}
	out := make(map[string]float64, len(names))
	for j, name := range names {
		out[name] = stat.Mean(mat.Col(nil, j, rewards), nil)
	}
	return out
}

// MovingAverage smooths series over a trailing window.
func MovingAverage(series []float64, window int) []float64 {
	if window <= 1 || len(series) == 0 {
		return append([]float64(nil), series...)
	}
	out := make([]float64, len(series))
	for i := range series {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		out[i] = stat.Mean(series[lo:i+1], nil)
	}
	return out
}
