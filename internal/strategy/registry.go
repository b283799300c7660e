package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Thresholds tune the built-in detectors.
type Thresholds struct {
	DivergenceMinCVD    int64   // CVD shortfall against the swing reading
	IcebergMinSize      int64   // passive resting size at the traded price
	AbsorptionMinVolume int64   // aggressive volume at a level that failed to move price
	MomentumMinDelta    int64   // bar delta confirming a swing break
	ValueAreaMinVolume  int64   // profile volume before VAH/VAL are trusted
	SkewRatio           float64 // heavy side / light side of the book
	SkewMinSize         int64
	AlignmentMinDelta   int64
}

// DefaultThresholds returns conservative defaults for index futures.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DivergenceMinCVD:    0,
		IcebergMinSize:      1000,
		AbsorptionMinVolume: 500,
		MomentumMinDelta:    300,
		ValueAreaMinVolume:  2000,
		SkewRatio:           3,
		SkewMinSize:         1000,
		AlignmentMinDelta:   200,
	}
}

// Factory builds a detector from the shared thresholds.
type Factory func(th Thresholds) Detector

// Registry maps detector names to factories. It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// DefaultRegistry returns a registry holding every built-in detector.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameCVDDivergence, func(th Thresholds) Detector { return &CVDDivergence{th: th} })
	r.Register(NameIcebergDefense, func(th Thresholds) Detector { return &IcebergDefense{th: th} })
	r.Register(NameAbsorption, func(th Thresholds) Detector { return &Absorption{th: th} })
	r.Register(NameMomentumBreakout, func(th Thresholds) Detector { return &MomentumBreakout{th: th} })
	r.Register(NameValueAreaRejection, func(th Thresholds) Detector { return &ValueAreaRejection{th: th} })
	r.Register(NameLiquiditySkew, func(th Thresholds) Detector { return &LiquiditySkew{th: th} })
	r.Register(NameContextAlignment, func(th Thresholds) Detector { return &ContextAlignment{th: th} })
	return r
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named detectors in the given order. An empty list
// enables every registered detector.
func (r *Registry) Build(names []string, th Thresholds) ([]Detector, error) {
	if len(names) == 0 {
		names = r.List()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Detector, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		f, ok := r.factories[n]
		if !ok {
			return nil, fmt.Errorf("detector %q: not registered", n)
		}
		seen[n] = true
		out = append(out, f(th))
	}
	return out, nil
}
