package plan

import (
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rnwolfe/hooksched/internal/hook"
	"github.com/rnwolfe/hooksched/internal/priority"
)

// Scorer assigns priority scores. *priority.Calculator satisfies it.
type Scorer interface {
	Score(names []string, hctx *hook.Context) (map[string]float64, error)
}

// Resolver builds execution plans from the hook store.
type Resolver struct {
	store  hook.Store
	scorer Scorer
	est    Estimator
	logger *zap.Logger
}

// NewResolver creates a Resolver. est and logger may be nil.
func NewResolver(store hook.Store, scorer Scorer, est Estimator, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, scorer: scorer, est: est, logger: logger}
}

// Plan orders the named hooks for trigger. With no names, every active hook
// bound to trigger is planned. Missing or inactive names fail with an
// UnknownHookError and a dependency cycle with a CycleError.
func (r *Resolver) Plan(trigger string, names []string, hctx *hook.Context) (*Plan, error) {
	if hctx == nil {
		hctx = hook.NewContext(trigger, nil)
	}
	if len(names) == 0 {
		for _, d := range r.store.ActiveHooks() {
			if d.HandlesTrigger(trigger) {
				names = append(names, d.Name)
			}
		}
	}

	ds, err := hook.ResolveActive(r.store, names)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]hook.Descriptor, len(ds))
	requested := make([]string, 0, len(ds))
	for _, d := range ds {
		byName[d.Name] = d
		requested = append(requested, d.Name)
	}

	var scores map[string]float64
	if r.scorer != nil {
		if scores, err = r.scorer.Score(requested, hctx); err != nil {
			return nil, err
		}
	} else {
		scores = make(map[string]float64, len(ds))
		for _, d := range ds {
			scores[d.Name] = priority.Weight(d.Priority)
		}
	}

	g, unresolved := buildGraph(ds)

	levels, leftover := g.Levels()
	if len(leftover) > 0 {
		cycle := g.Subgraph(func(n string) bool { return slices.Contains(leftover, n) }).FindCycle()
		r.logger.Debug("dependency cycle",
			zap.String("trigger", trigger),
			zap.Strings("cycle", cycle),
		)
		return nil, &CycleError{Cycle: cycle}
	}

	p := &Plan{
		ID:          uuid.NewString(),
		Trigger:     trigger,
		Context:     hctx.Clone(),
		Edges:       g.Edges(),
		Scores:      scores,
		Unresolved:  unresolved,
		Descriptors: byName,
		CreatedAt:   time.Now(),
	}

	rank := func(level []string) []string {
		sorted := slices.Clone(level)
		sort.SliceStable(sorted, func(i, j int) bool {
			return priority.Less(byName[sorted[i]], byName[sorted[j]], scores)
		})
		return sorted
	}

	for lvl, level := range levels {
		var linked, isolated []string
		for _, n := range level {
			if g.Isolated(n) {
				isolated = append(isolated, n)
			} else {
				linked = append(linked, n)
			}
		}
		if len(linked) > 0 {
			p.addBatch(rank(linked), lvl)
		}
		// Only level 0 can hold isolated hooks.
		for _, n := range rank(isolated) {
			p.addBatch([]string{n}, lvl)
		}
	}
	p.Recompute(r.est)

	r.logger.Debug("planned execution",
		zap.String("plan", p.ID),
		zap.String("trigger", trigger),
		zap.Int("hooks", len(ds)),
		zap.Int("batches", len(p.Batches)),
	)
	return p, nil
}

func (p *Plan) addBatch(hooks []string, level int) {
	b := Batch{
		Index: len(p.Batches),
		Hooks: hooks,
		Level: level,
	}
	b.ID = batchID(b.Index)
	b.Phase = PhaseFor(hooks, p.Descriptors, level)
	p.Batches = append(p.Batches, b)
}

// PhaseFor returns the earliest phase declared (or tag-inferred) by any of
// hooks, falling back to the phase for level.
func PhaseFor(hooks []string, ds map[string]hook.Descriptor, level int) hook.Phase {
	var phase hook.Phase
	for _, n := range hooks {
		if ph, ok := ds[n].DeclaredPhase(); ok {
			if phase == "" || ph.Rank() < phase.Rank() {
				phase = ph
			}
		}
	}
	if phase == "" {
		phase = hook.PhaseForLevel(level)
	}
	return phase
}

// buildGraph adds an edge from every hook that satisfies a dependency, by
// name or through provides, to the dependent hook. Dependencies nothing
// satisfies are returned per hook.
func buildGraph(ds []hook.Descriptor) (*Graph, map[string][]string) {
	g := NewGraph()
	providers := make(map[string][]string)
	for _, d := range ds {
		g.AddNode(d.Name)
		for _, c := range d.Provides {
			if !slices.Contains(providers[c], d.Name) {
				providers[c] = append(providers[c], d.Name)
			}
		}
	}

	var unresolved map[string][]string
	for _, d := range ds {
		for _, dep := range d.Dependencies {
			satisfied := false
			if g.Has(dep) {
				g.AddEdge(dep, d.Name)
				satisfied = true
			}
			for _, p := range providers[dep] {
				if p == d.Name {
					continue
				}
				g.AddEdge(p, d.Name)
				satisfied = true
			}
			if !satisfied {
				if unresolved == nil {
					unresolved = make(map[string][]string)
				}
				unresolved[d.Name] = append(unresolved[d.Name], dep)
			}
		}
	}
	return g, unresolved
}
