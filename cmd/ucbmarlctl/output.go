package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/logrusorgru/aurora"

	"ucbmarl/internal/model"
	"ucbmarl/pkg/ucbmarl"
)

type printer struct {
	au aurora.Aurora
}

func newPrinter(noColor bool) printer {
	return printer{au: aurora.NewAurora(!noColor)}
}

func (p printer) episode(point model.EpisodeReward) {
	label := "episode"
	if point.Evaluation {
		label = "eval"
	}
	fmt.Printf("%s=%d mean=%s\n", label, point.Episode, p.reward(point.Mean, 0))
}

func (p printer) runSummary(summary ucbmarl.RunSummary) {
	fmt.Printf("run_id=%s final_reward=%s episodes=%d artifacts=%s\n",
		p.au.Bold(summary.RunID),
		p.reward(summary.FinalReward, summary.Summary.First),
		summary.Summary.Count,
		summary.ArtifactsDir,
	)
	fmt.Printf("training mean=%.4f std=%.4f min=%.4f max=%.4f improvement=%s\n",
		summary.Summary.Mean,
		summary.Summary.Std,
		summary.Summary.Min,
		summary.Summary.Max,
		p.signed(summary.Summary.Improvement),
	)
	for _, point := range summary.Evaluation {
		p.episode(point)
	}
}

func (p printer) runItem(item ucbmarl.RunItem) {
	fmt.Printf("run_id=%s created_at=%s scape=%s topology=%s agents=%d episodes=%d horizon=%d seed=%d final_reward=%.4f\n",
		p.au.Bold(item.RunID),
		item.CreatedAtUTC,
		item.Scape,
		item.Topology,
		item.Agents,
		item.Episodes,
		item.Horizon,
		item.Seed,
		item.FinalReward,
	)
}

func (p printer) rewards(rewards ucbmarl.RewardsSummary, smoothed []float64) {
	fmt.Printf("run_id=%s points=%d\n", p.au.Bold(rewards.RunID), len(rewards.Points))
	for i, point := range rewards.Points {
		fmt.Printf("%6d %s %s\n",
			point.Episode,
			p.reward(point.Mean, rewards.Summary.Mean),
			p.au.Cyan(fmt.Sprintf("%10.4f", smoothed[i])),
		)
	}
	fmt.Printf("mean=%.4f std=%.4f min=%.4f max=%.4f improvement=%s\n",
		rewards.Summary.Mean,
		rewards.Summary.Std,
		rewards.Summary.Min,
		rewards.Summary.Max,
		p.signed(rewards.Summary.Improvement),
	)
}

// agent prints Q rows with the greedy action highlighted.
func (p printer) agent(snapshot model.AgentSnapshot) {
	fmt.Printf("run_id=%s agent=%s horizon=%d actions=%d backups=%d mean_bonus=%.4f\n",
		snapshot.RunID,
		p.au.Bold(snapshot.Name),
		snapshot.Horizon,
		snapshot.Actions,
		snapshot.Backups,
		snapshot.MeanBonus,
	)
	if len(snapshot.Neighbors) > 0 {
		names := make([]string, 0, len(snapshot.Neighbors))
		for name := range snapshot.Neighbors {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s:%d", name, snapshot.Neighbors[name]))
		}
		fmt.Printf("neighbors %s\n", strings.Join(parts, " "))
	}
	for _, row := range snapshot.Q {
		best := 0
		for a, v := range row.Values {
			if v > row.Values[best] {
				best = a
			}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "h=%-3d s=%-6d", row.Timestep, row.State)
		for a, v := range row.Values {
			cell := fmt.Sprintf(" %8.3f", v)
			if a == best {
				b.WriteString(p.au.Green(cell).String())
				continue
			}
			b.WriteString(cell)
		}
		fmt.Println(b.String())
	}
}

func (p printer) play(result ucbmarl.PlayResult) {
	fmt.Printf("run_id=%s episodes=%d mean=%s\n", p.au.Bold(result.RunID), result.Episodes, p.reward(result.Mean, 0))
	names := make([]string, 0, len(result.PerAgent))
	for name := range result.PerAgent {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-12s %.4f\n", name, result.PerAgent[name])
	}
}

// reward colours v green when it is at least the baseline and red otherwise.
func (p printer) reward(v, baseline float64) aurora.Value {
	text := fmt.Sprintf("%10.4f", v)
	if v >= baseline {
		return p.au.Green(text)
	}
	return p.au.Red(text)
}

func (p printer) signed(v float64) aurora.Value {
	text := fmt.Sprintf("%+.4f", v)
	switch {
	case v > 0:
		return p.au.Green(text)
	case v < 0:
		return p.au.Red(text)
	default:
		return p.au.Yellow(text)
	}
}
