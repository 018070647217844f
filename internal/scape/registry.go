package scape

import (
	"fmt"
	"sort"
	"sync"

	"ucbmarl/internal/scapeid"
)

// Params are the knobs shared by every registered scape.
type Params struct {
	Agents     int
	Size       int
	Cycles     int
	LocalRatio float64
}

// Factory builds a fresh scape instance for one run.
type Factory func(Params) (Scape, error)

// GridSpreadFactory builds a GridSpread. Zero cycles select
// DefaultGridSpreadCycles.
func GridSpreadFactory(p Params) (Scape, error) {
	cycles := p.Cycles
	if cycles <= 0 {
		cycles = DefaultGridSpreadCycles
	}
	g, err := NewGridSpread(GridSpreadConfig{
		Agents:     p.Agents,
		Size:       p.Size,
		Cycles:     cycles,
		LocalRatio: p.LocalRatio,
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Registry maps canonical scape names to factories. Names are normalized
// with scapeid on both registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in scape.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(GridSpreadName, GridSpreadFactory)
	return r
}

func (r *Registry) Register(name string, factory Factory) error {
	name = scapeid.Normalize(name)
	if name == "" {
		return fmt.Errorf("scape name is required")
	}
	if factory == nil {
		return fmt.Errorf("scape factory is nil: %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("duplicate scape: %s", name)
	}
	r.factories[name] = factory
	return nil
}

func (r *Registry) New(name string, p Params) (Scape, error) {
	name = scapeid.Normalize(name)
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("scape not registered: %s", name)
	}
	return factory(p)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
