package pattern

import (
	"fmt"
	"sort"
)

// builders maps registered strategy names to constructors. The set is closed:
// strategies are compiled in, not discovered.
var builders = map[string]func(Config) Engine{
	"pipeline":     func(c Config) Engine { return &Pipeline{cfg: c} },
	"review-cycle": func(c Config) Engine { return &ReviewCycle{cfg: c} },
	"fan-out":      func(c Config) Engine { return &FanOut{cfg: c} },
	"consensus":    func(c Config) Engine { return &Consensus{cfg: c} },
	"escalation":   func(c Config) Engine { return &Escalator{cfg: c} },
	"incremental":  func(c Config) Engine { return &Incremental{cfg: c} },
	"swarm":        func(c Config) Engine { return &Swarm{cfg: c} },
	"consulting":   func(c Config) Engine { return &Consulting{cfg: c} },
	"dual-track":   func(c Config) Engine { return &DualTrack{cfg: c} },
	"beat":         func(c Config) Engine { return &Beat{cfg: c} },
	"post-mortem":  func(c Config) Engine { return &PostMortem{cfg: c} },
}

// New constructs the named strategy with zero config knobs filled from the
// defaults.
func New(name string, cfg Config) (Engine, error) {
	build, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPattern, name)
	}
	return build(cfg.withDefaults()), nil
}

// Names returns the registered strategy names, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Valid reports whether name is a registered strategy.
func Valid(name string) bool {
	_, ok := builders[name]
	return ok
}
