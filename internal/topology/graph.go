// Package topology turns communication graphs into per-agent hop distances.
package topology

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	GraphNone = "none"
	GraphLine = "line"
	GraphRing = "ring"
	GraphStar = "star"
	GraphFull = "full"
)

var ErrInvalidGraph = errors.New("invalid adjacency matrix")

// Neighbored is implemented by anything that accepts hop distances to peers.
type Neighbored interface {
	Name() string
	SetNeighbor(peer string, hops int) error
}

// Graphs lists the named graphs Named understands.
func Graphs() []string {
	names := []string{GraphNone, GraphLine, GraphRing, GraphStar, GraphFull}
	sort.Strings(names)
	return names
}

// Named builds the adjacency matrix of a well-known graph over n nodes.
func Named(name string, n int) ([][]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: node count must be > 0, got %d", ErrInvalidGraph, n)
	}
	adj := square(n)
	link := func(i, j int) {
		if i == j {
			return
		}
		adj[i][j] = 1
		adj[j][i] = 1
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case GraphNone, "":
	case GraphLine:
		for i := 0; i+1 < n; i++ {
			link(i, i+1)
		}
	case GraphRing:
		for i := 0; i+1 < n; i++ {
			link(i, i+1)
		}
		if n > 2 {
			link(n-1, 0)
		}
	case GraphStar:
		for i := 1; i < n; i++ {
			link(0, i)
		}
	case GraphFull:
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				link(i, j)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported graph: %s", name)
	}
	return adj, nil
}

// PowerGraph computes the gamma-hop power graph of adj. Entry (i, j) is the
// hop count between i and j when slow is set, 1 otherwise, and 0 when j is
// i itself, unreachable, or more than gammaHop hops away.
func PowerGraph(adj [][]int, gammaHop int, slow bool) ([][]int, error) {
	if err := validate(adj); err != nil {
		return nil, err
	}
	if gammaHop < 0 {
		return nil, fmt.Errorf("%w: gamma hop must be >= 0, got %d", ErrInvalidGraph, gammaHop)
	}
	n := len(adj)
	out := square(n)
	for src := 0; src < n; src++ {
		for dst, hops := range hopsFrom(adj, src) {
			if dst == src || hops <= 0 || hops > gammaHop {
				continue
			}
			if slow {
				out[src][dst] = hops
			} else {
				out[src][dst] = 1
			}
		}
	}
	return out, nil
}

// Apply sets the neighbor distances of agents from a power graph. Row i of
// power belongs to agents[i].
func Apply(power [][]int, agents []Neighbored) error {
	if len(power) != len(agents) {
		return fmt.Errorf("%w: %d rows for %d agents", ErrInvalidGraph, len(power), len(agents))
	}
	for i, row := range power {
		if len(row) != len(agents) {
			return fmt.Errorf("%w: row %d has %d columns", ErrInvalidGraph, i, len(row))
		}
		for j, hops := range row {
			if hops == 0 {
				continue
			}
			if err := agents[i].SetNeighbor(agents[j].Name(), hops); err != nil {
				return fmt.Errorf("connect %s to %s: %w", agents[i].Name(), agents[j].Name(), err)
			}
		}
	}
	return nil
}

// CliqueSizes reports 1 + the number of nonzero entries of every row.
func CliqueSizes(power [][]int) []int {
	out := make([]int, len(power))
	for i, row := range power {
		out[i] = 1
		for _, hops := range row {
			if hops != 0 {
				out[i]++
			}
		}
	}
	return out
}

func hopsFrom(adj [][]int, src int) []int {
	dist := make([]int, len(adj))
	for i := range dist {
		dist[i] = -1
	}
	dist[src] = 0
	queue := []int{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next, edge := range adj[cur] {
			if edge == 0 || dist[next] >= 0 {
				continue
			}
			dist[next] = dist[cur] + 1
			queue = append(queue, next)
		}
	}
	return dist
}

func validate(adj [][]int) error {
	n := len(adj)
	if n == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidGraph)
	}
	for i, row := range adj {
		if len(row) != n {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidGraph, i, len(row), n)
		}
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if (adj[i][j] != 0) != (adj[j][i] != 0) {
				return fmt.Errorf("%w: asymmetric edge %d-%d", ErrInvalidGraph, i, j)
			}
		}
	}
	return nil
}

func square(n int) [][]int {
	out := make([][]int, n)
	for i := range out {
		out[i] = make([]int, n)
	}
	return out
}
