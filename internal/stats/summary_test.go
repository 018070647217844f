package stats

import (
	"math"
	"testing"

	"ucbmarl/internal/model"
)

func TestSummarize(t *testing.T) {
	got := Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if got.Count != 8 || got.Mean != 5 || got.Min != 2 || got.Max != 9 {
		t.Fatalf("unexpected summary: %+v", got)
	}
	// Sample standard deviation of the series is sqrt(32/7).
	if math.Abs(got.Std-math.Sqrt(32.0/7.0)) > 1e-12 {
		t.Fatalf("unexpected std: %f", got.Std)
	}
	if got.Improvement != 7 {
		t.Fatalf("unexpected improvement: %f", got.Improvement)
	}
}

func TestSummarizeShortSeries(t *testing.T) {
	if got := Summarize(nil); got != (SeriesSummary{}) {
		t.Fatalf("empty series should summarize to zero value, got %+v", got)
	}
	got := Summarize([]float64{-3})
	if got.Mean != -3 || got.Std != 0 || got.Min != -3 || got.Max != -3 {
		t.Fatalf("unexpected single point summary: %+v", got)
	}
}

func TestPerAgentMeans(t *testing.T) {
	series := []model.EpisodeReward{
		{PerAgent: map[string]float64{"agent_0": 1, "agent_1": -1}},
		{PerAgent: map[string]float64{"agent_0": 3}},
	}
	got := PerAgentMeans(series)
	if got["agent_0"] != 2 || got["agent_1"] != -0.5 {
		t.Fatalf("unexpected per-agent means: %v", got)
	}
	if PerAgentMeans(nil) != nil {
		t.Fatal("expected nil for empty series")
	}
}

func TestMovingAverage(t *testing.T) {
	got := MovingAverage([]float64{1, 2, 3, 4}, 2)
	want := []float64{1, 1.5, 2.5, 3.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected moving average: %v", got)
		}
	}
	if got := MovingAverage([]float64{5, 6}, 1); got[0] != 5 || got[1] != 6 {
		t.Fatalf("window 1 should copy the series, got %v", got)
	}
}
