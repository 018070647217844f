package marl

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Table maps (state, action) to a value for a single timestep. Missing
// entries read as the table default.
type Table struct {
	actions int
	initial float64
	values  map[State][]float64
}

func NewTable(actions int, initial float64) *Table {
	return &Table{
		actions: actions,
		initial: initial,
		values:  make(map[State][]float64),
	}
}

func (t *Table) GetOrDefault(state State, action Action) float64 {
	row, ok := t.values[state]
	if !ok {
		return t.initial
	}
	return row[action]
}

func (t *Table) Set(state State, action Action, value float64) {
	t.row(state)[action] = value
}

// Row returns a copy of the action values for state.
func (t *Table) Row(state State) []float64 {
	row, ok := t.values[state]
	if !ok {
		row = t.defaultRow()
	}
	return append([]float64(nil), row...)
}

func (t *Table) Max(state State) float64 {
	row, ok := t.values[state]
	if !ok {
		return t.initial
	}
	best := math.Inf(-1)
	for _, v := range row {
		if v > best {
			best = v
		}
	}
	return best
}

// Argmax picks uniformly at random among the actions sharing the maximal
// value, keeping a running count of ties instead of shuffling the action set.
func (t *Table) Argmax(state State, rng *rand.Rand) Action {
	row, ok := t.values[state]
	if !ok {
		return Action(rng.Intn(t.actions))
	}
	best := math.Inf(-1)
	choice := NoAction
	ties := 0
	for a, v := range row {
		switch {
		case v > best:
			best = v
			choice = Action(a)
			ties = 1
		case v == best:
			ties++
			if rng.Intn(ties) == 0 {
				choice = Action(a)
			}
		}
	}
	return choice
}

// States lists the states with materialized rows in ascending order.
func (t *Table) States() []State {
	states := make([]State, 0, len(t.values))
	for s := range t.values {
		states = append(states, s)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	return states
}

func (t *Table) row(state State) []float64 {
	row, ok := t.values[state]
	if !ok {
		row = t.defaultRow()
		t.values[state] = row
	}
	return row
}

func (t *Table) defaultRow() []float64 {
	row := make([]float64, t.actions)
	for i := range row {
		row[i] = t.initial
	}
	return row
}

// ValueTables groups Q[h], N[h] for h in [1,H] and V[h] for h in [1,H+1].
// V[H+1] is never written and bootstraps the last step with the initial value.
type ValueTables struct {
	horizon int
	actions int
	initial float64

	q []*Table
	n []map[stateAction]int
	v []map[State]float64
}

func NewValueTables(horizon, actions int, initial float64) *ValueTables {
	vt := &ValueTables{
		horizon: horizon,
		actions: actions,
		initial: initial,
		q:       make([]*Table, horizon+1),
		n:       make([]map[stateAction]int, horizon+1),
		v:       make([]map[State]float64, horizon+2),
	}
	for h := 1; h <= horizon; h++ {
		vt.q[h] = NewTable(actions, initial)
		vt.n[h] = make(map[stateAction]int)
	}
	for h := 1; h <= horizon+1; h++ {
		vt.v[h] = make(map[State]float64)
	}
	return vt
}

func (vt *ValueTables) Horizon() int { return vt.horizon }

func (vt *ValueTables) Actions() int { return vt.actions }

// Q returns the Q-table for timestep h in [1,H].
func (vt *ValueTables) Q(h int) *Table {
	vt.checkTimestep(h, vt.horizon)
	return vt.q[h]
}

func (vt *ValueTables) Count(h int, state State, action Action) int {
	vt.checkTimestep(h, vt.horizon)
	return vt.n[h][stateAction{state, action}]
}

func (vt *ValueTables) increment(h int, state State, action Action) int {
	key := stateAction{state, action}
	vt.n[h][key]++
	return vt.n[h][key]
}

// V reads the state value for timestep h in [1,H+1].
func (vt *ValueTables) V(h int, state State) float64 {
	vt.checkTimestep(h, vt.horizon+1)
	v, ok := vt.v[h][state]
	if !ok {
		return vt.initial
	}
	return v
}

func (vt *ValueTables) setV(h int, state State, value float64) {
	vt.v[h][state] = value
}

// refreshV recomputes V[h][s] = min(H, max_a Q[h][s][a]).
func (vt *ValueTables) refreshV(h int, state State) float64 {
	value := math.Min(float64(vt.horizon), vt.q[h].Max(state))
	vt.setV(h, state, value)
	return value
}

func (vt *ValueTables) checkTimestep(h, upper int) {
	if h < 1 || h > upper {
		panic(fmt.Sprintf("marl: timestep %d outside [1,%d]", h, upper))
	}
}
