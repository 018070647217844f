package marl

import (
	"fmt"
	"math"
)

// BackupStats aggregates the bonus terms applied by an agent.
type BackupStats struct {
	Applications int     `json:"applications"`
	BonusSum     float64 `json:"bonus_sum"`
	LastBonus    float64 `json:"last_bonus"`
}

func (s BackupStats) MeanBonus() float64 {
	if s.Applications == 0 {
		return 0
	}
	return s.BonusSum / float64(s.Applications)
}

// ExplorationBonus is c*sqrt(H^3*iota/(clique*t)). A non-positive count or
// clique is an invariant breach.
func ExplorationBonus(c float64, horizon int, confidence float64, clique, t int) float64 {
	if t <= 0 {
		panic(fmt.Sprintf("marl: invariant breach: visitation count %d at bonus computation", t))
	}
	if clique <= 0 {
		panic(fmt.Sprintf("marl: invariant breach: clique size %d at bonus computation", clique))
	}
	h := float64(horizon)
	return c * math.Sqrt(h*h*h*confidence/(float64(clique)*float64(t)))
}

// LearningRate is (H+1)/(H+t).
func LearningRate(horizon, t int) float64 {
	return float64(horizon+1) / float64(horizon+t)
}

// RunBackup folds every pending V-set sample of the current and the previous
// episode into the tables. Each sample is one backup application; each
// (episode, timestep) slot is emptied after its pass.
func (a *Agent) RunBackup(episode, timestep int) int {
	applied := 0
	for e := episode - 1; e <= episode; e++ {
		for h := 1; h <= a.cfg.Horizon; h++ {
			pending := a.acc.drainV(e, h)
			if pending == nil {
				continue
			}
			for _, key := range pending.order {
				for _, sample := range pending.samples[key].items {
					a.apply(e, h, key.state, key.action, sample)
					applied++
				}
			}
		}
	}
	a.acc.Prune(episode - 1)
	return applied
}

func (a *Agent) apply(episode, h int, state State, action Action, sample Sample) {
	t := a.tables.increment(h, state, action)
	b := ExplorationBonus(a.cfg.C, a.cfg.Horizon, a.confidence, a.neighbors.CliqueSize(), t)
	alpha := LearningRate(a.cfg.Horizon, t)

	q := a.tables.Q(h)
	current := q.GetOrDefault(state, action)
	target := sample.Reward + a.tables.V(h+1, sample.Next) + b
	q.Set(state, action, (1-alpha)*current+alpha*target)
	a.tables.refreshV(h, state)

	a.stats.Applications++
	a.stats.BonusSum += b
	a.stats.LastBonus = b
	a.recordEpisodeBonus(episode, b)
}

func (a *Agent) recordEpisodeBonus(episode int, b float64) {
	acc := a.episodeBonus[episode]
	acc.Applications++
	acc.BonusSum += b
	acc.LastBonus = b
	a.episodeBonus[episode] = acc
}
