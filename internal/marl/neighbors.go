package marl

import (
	"fmt"
	"sort"
)

// NeighborTable tracks the hop distance to every known peer. A distance of 0
// means the peer is not connected.
type NeighborTable struct {
	self     string
	distance map[string]int
	clique   int
}

func NewNeighborTable(self string, peers []string) *NeighborTable {
	distance := make(map[string]int, len(peers))
	for _, peer := range peers {
		if peer == self {
			continue
		}
		distance[peer] = 0
	}
	return &NeighborTable{self: self, distance: distance, clique: 1}
}

func (n *NeighborTable) Set(peer string, hops int) error {
	if peer == n.self {
		return fmt.Errorf("%w: %s", ErrSelfNeighbor, peer)
	}
	current, ok := n.distance[peer]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNeighbor, peer)
	}
	if hops < 0 {
		return fmt.Errorf("%w: %s=%d", ErrInvalidDistance, peer, hops)
	}
	switch {
	case current == 0 && hops != 0:
		n.clique++
	case current != 0 && hops == 0:
		n.clique--
	}
	n.distance[peer] = hops
	return nil
}

func (n *NeighborTable) Distance(peer string) (int, bool) {
	d, ok := n.distance[peer]
	return d, ok
}

// CliqueSize counts self plus every connected peer.
func (n *NeighborTable) CliqueSize() int {
	return n.clique
}

// Connected returns the connected peers sorted by name.
func (n *NeighborTable) Connected() []string {
	out := make([]string, 0, n.clique-1)
	for peer, d := range n.distance {
		if d != 0 {
			out = append(out, peer)
		}
	}
	sort.Strings(out)
	return out
}

func (n *NeighborTable) snapshot() map[string]int {
	out := make(map[string]int, n.clique-1)
	for peer, d := range n.distance {
		if d != 0 {
			out[peer] = d
		}
	}
	return out
}
