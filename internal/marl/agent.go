package marl

import (
	"fmt"
	"math/rand"
	"sort"

	"ucbmarl/internal/model"
)

// Agent is one cooperative learner. It is owned by a single goroutine at a
// time; peers only interact with it through ReceiveMessage.
type Agent struct {
	cfg        Config
	confidence float64
	rng        *rand.Rand

	tables    *ValueTables
	neighbors *NeighborTable
	relay     Relay
	acc       *Accumulator

	stats        BackupStats
	episodeBonus map[int]BackupStats
}

func NewAgent(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return &Agent{
		cfg:          cfg,
		confidence:   cfg.Iota(),
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		tables:       NewValueTables(cfg.Horizon, cfg.Actions, float64(cfg.Horizon)),
		neighbors:    NewNeighborTable(cfg.Name, cfg.Peers),
		acc:          NewAccumulator(),
		episodeBonus: make(map[int]BackupStats),
	}, nil
}

func (a *Agent) Name() string { return a.cfg.Name }

func (a *Agent) Config() Config { return a.cfg }

// Iota returns the precomputed confidence term.
func (a *Agent) Iota() float64 { return a.confidence }

func (a *Agent) Tables() *ValueTables { return a.tables }

func (a *Agent) Accumulator() *Accumulator { return a.acc }

func (a *Agent) Stats() BackupStats { return a.stats }

// EpisodeBonusMeans returns the mean applied bonus per episode, ordered by
// episode number.
func (a *Agent) EpisodeBonusMeans() []float64 {
	episodes := make([]int, 0, len(a.episodeBonus))
	for e := range a.episodeBonus {
		episodes = append(episodes, e)
	}
	sort.Ints(episodes)
	out := make([]float64, 0, len(episodes))
	for _, e := range episodes {
		out = append(out, a.episodeBonus[e].MeanBonus())
	}
	return out
}

func (a *Agent) SetNeighbor(peer string, hops int) error {
	return a.neighbors.Set(peer, hops)
}

func (a *Agent) CliqueSize() int {
	return a.neighbors.CliqueSize()
}

func (a *Agent) Neighbors() []string {
	return a.neighbors.Connected()
}

// Policy returns the action maximizing Q[timestep][state], or NoAction when
// timestep lies outside the horizon.
func (a *Agent) Policy(state State, timestep int) Action {
	return a.selectAction(state, timestep)
}

// GreedyPlay is the evaluation-time entry point and shares Policy's
// tie-breaking rule.
func (a *Agent) GreedyPlay(state State, timestep int) Action {
	return a.selectAction(state, timestep)
}

func (a *Agent) selectAction(state State, timestep int) Action {
	if timestep < 1 || timestep > a.cfg.Horizon {
		return NoAction
	}
	return a.tables.Q(timestep).Argmax(state, a.rng)
}

// Broadcast addresses a copy of tr to every connected neighbor, using the
// hop distance as the initial delay.
func (a *Agent) Broadcast(tr Transition) []Outgoing {
	peers := a.neighbors.Connected()
	out := make([]Outgoing, 0, len(peers))
	for _, peer := range peers {
		hops, _ := a.neighbors.Distance(peer)
		out = append(out, Outgoing{
			To: peer,
			Message: Message{
				Episode:  tr.Episode,
				Timestep: tr.Timestep,
				Sender:   a.cfg.Name,
				State:    tr.State,
				Action:   tr.Action,
				Next:     tr.Next,
				Reward:   tr.Reward,
			},
			Delay: hops,
		})
	}
	return out
}

func (a *Agent) ReceiveMessage(msg Message, remaining int) {
	a.relay.Enqueue(msg, remaining)
}

// PendingMessages reports the number of in-flight messages.
func (a *Agent) PendingMessages() int {
	return a.relay.Len()
}

// Observe records the agent's own transition, drains arrived messages into
// the V-sets under their sender's context, then merges U[e][h] into V[e][h].
func (a *Agent) Observe(tr Transition) int {
	a.acc.RecordOwn(tr.Episode, tr.Timestep, tr.State, tr.Action, tr.Sample())
	delivered := a.relay.Advance(func(msg Message) {
		a.acc.AddV(msg.Episode, msg.Timestep, msg.State, msg.Action, msg.Sample())
	})
	a.acc.MergeIntoV(tr.Episode, tr.Timestep, tr.Action, a.cfg.PerPairMerge)
	return delivered
}

// ObserveTransition broadcasts tr through postman and then observes it. It
// suits single-threaded drivers; lockstep drivers call Broadcast and Observe
// in separate phases.
func (a *Agent) ObserveTransition(tr Transition, postman Postman) error {
	for _, out := range a.Broadcast(tr) {
		recv, ok := postman.Lookup(out.To)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNeighbor, out.To)
		}
		recv.ReceiveMessage(out.Message, out.Delay)
	}
	a.Observe(tr)
	return nil
}

// Snapshot exports the learned tables for persistence.
func (a *Agent) Snapshot() model.AgentSnapshot {
	snap := model.AgentSnapshot{
		Name:      a.cfg.Name,
		Horizon:   a.cfg.Horizon,
		Actions:   a.cfg.Actions,
		Neighbors: a.neighbors.snapshot(),
		Backups:   a.stats.Applications,
		MeanBonus: a.stats.MeanBonus(),
	}
	for h := 1; h <= a.cfg.Horizon; h++ {
		q := a.tables.q[h]
		for _, s := range q.States() {
			snap.Q = append(snap.Q, model.QRow{Timestep: h, State: int64(s), Values: q.Row(s)})
		}
		counts := make([]stateAction, 0, len(a.tables.n[h]))
		for key := range a.tables.n[h] {
			counts = append(counts, key)
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].state == counts[j].state {
				return counts[i].action < counts[j].action
			}
			return counts[i].state < counts[j].state
		})
		for _, key := range counts {
			snap.N = append(snap.N, model.CountEntry{
				Timestep: h,
				State:    int64(key.state),
				Action:   int(key.action),
				Count:    a.tables.n[h][key],
			})
		}
		states := make([]State, 0, len(a.tables.v[h]))
		for s := range a.tables.v[h] {
			states = append(states, s)
		}
		sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
		for _, s := range states {
			snap.V = append(snap.V, model.ValueEntry{Timestep: h, State: int64(s), Value: a.tables.v[h][s]})
		}
	}
	return snap
}

// Restore replaces tables and neighbor distances with those of a snapshot
// taken from an agent with the same horizon and action count. Peers missing
// from the snapshot end up disconnected. The agent is left untouched when
// the snapshot is rejected.
func (a *Agent) Restore(snap model.AgentSnapshot) error {
	if snap.Horizon != a.cfg.Horizon || snap.Actions != a.cfg.Actions {
		return fmt.Errorf("%w: snapshot horizon=%d actions=%d, agent horizon=%d actions=%d",
			ErrInvalidConfig, snap.Horizon, snap.Actions, a.cfg.Horizon, a.cfg.Actions)
	}
	tables := NewValueTables(a.cfg.Horizon, a.cfg.Actions, float64(a.cfg.Horizon))
	for _, row := range snap.Q {
		if row.Timestep < 1 || row.Timestep > a.cfg.Horizon || len(row.Values) != a.cfg.Actions {
			return fmt.Errorf("%w: malformed q row at timestep %d", ErrInvalidConfig, row.Timestep)
		}
		for i, v := range row.Values {
			tables.q[row.Timestep].Set(State(row.State), Action(i), v)
		}
	}
	for _, entry := range snap.N {
		if entry.Timestep < 1 || entry.Timestep > a.cfg.Horizon {
			return fmt.Errorf("%w: malformed count at timestep %d", ErrInvalidConfig, entry.Timestep)
		}
		tables.n[entry.Timestep][stateAction{State(entry.State), Action(entry.Action)}] = entry.Count
	}
	for _, entry := range snap.V {
		if entry.Timestep < 1 || entry.Timestep > a.cfg.Horizon+1 {
			return fmt.Errorf("%w: malformed value at timestep %d", ErrInvalidConfig, entry.Timestep)
		}
		tables.setV(entry.Timestep, State(entry.State), entry.Value)
	}
	neighbors := NewNeighborTable(a.cfg.Name, a.cfg.Peers)
	for peer, hops := range snap.Neighbors {
		if err := neighbors.Set(peer, hops); err != nil {
			return err
		}
	}
	a.tables = tables
	a.neighbors = neighbors
	return nil
}
