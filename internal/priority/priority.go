// Package priority computes dynamic hook priority scores.
//
// A score combines the hook's static class weight with context multipliers
// (time sensitivity, dependency depth, back-pressure under load), its recent
// success rate and an advisory adjustment factor maintained by the
// performance optimizer. Scores are always strictly positive.
package priority

import (
	"sort"

	"github.com/rnwolfe/hooksched/internal/history"
	"github.com/rnwolfe/hooksched/internal/hook"
)

// Static class weights.
var classWeights = map[hook.Priority]float64{
	hook.PriorityCritical:    100,
	hook.PriorityHigh:        50,
	hook.PriorityNormal:      25,
	hook.PriorityLow:         10,
	hook.PriorityMaintenance: 5,
}

// Load penalties per class. Critical hooks are never throttled.
var loadPenalties = map[hook.Priority]float64{
	hook.PriorityHigh:        0.25,
	hook.PriorityNormal:      0.5,
	hook.PriorityLow:         0.75,
	hook.PriorityMaintenance: 0.9,
}

var sensitivityMultipliers = map[string]float64{
	hook.SensitivityLow:    0.8,
	hook.SensitivityNormal: 1.0,
	hook.SensitivityHigh:   1.25,
	hook.SensitivityUrgent: 1.5,
}

const (
	// MinScore is the floor every score is raised to.
	MinScore = 0.1
	// DepthFactor is added per unit of dependency depth.
	DepthFactor = 0.05
	// NeutralSuccessRate stands in for hooks without history.
	NeutralSuccessRate = 0.5

	DefaultSuccessWeight = 0.5
	DefaultWindow        = 20
)

// Weight returns the static weight of class p.
func Weight(p hook.Priority) float64 {
	return classWeights[p]
}

// Calculator scores hooks. It only reads its inputs.
type Calculator struct {
	store       hook.Store
	history     *history.History
	adjustments *Adjustments

	// SuccessWeight scales the success-rate bonus.
	SuccessWeight float64
	// Window is the number of recent records the success rate considers.
	Window int
}

// NewCalculator creates a Calculator. hist and adj may be nil.
func NewCalculator(store hook.Store, hist *history.History, adj *Adjustments) *Calculator {
	return &Calculator{
		store:         store,
		history:       hist,
		adjustments:   adj,
		SuccessWeight: DefaultSuccessWeight,
		Window:        DefaultWindow,
	}
}

// Score returns a score for every name. Unknown or inactive names fail the
// whole call with a *hook.UnknownHookError.
func (c *Calculator) Score(names []string, hctx *hook.Context) (map[string]float64, error) {
	ds, err := hook.ResolveActive(c.store, names)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(ds))
	for _, d := range ds {
		scores[d.Name] = c.ScoreHook(d, hctx)
	}
	return scores, nil
}

// ScoreHook scores a single descriptor.
func (c *Calculator) ScoreHook(d hook.Descriptor, hctx *hook.Context) float64 {
	score := Weight(d.Priority) *
		Multiplier(d.Priority, hctx) *
		(1 + c.successRate(d.Name)*c.SuccessWeight) *
		c.adjustment(d)
	return max(score, MinScore)
}

// Multiplier is the context-derived factor for class p.
func Multiplier(p hook.Priority, hctx *hook.Context) float64 {
	m := sensitivityMultipliers[hctx.TimeSensitivity()]
	m *= 1 + DepthFactor*float64(hctx.DependencyDepth())
	if p != hook.PriorityCritical {
		m *= 1 - hctx.SystemLoad()/100*loadPenalties[p]
	}
	return m
}

func (c *Calculator) successRate(name string) float64 {
	if c.history == nil {
		return NeutralSuccessRate
	}
	rate, ok := c.history.SuccessRate(name, c.Window)
	if !ok {
		return NeutralSuccessRate
	}
	return rate
}

func (c *Calculator) adjustment(d hook.Descriptor) float64 {
	if c.adjustments == nil {
		return 1
	}
	return c.adjustments.Effective(d.Name, d.Priority)
}

// Rank orders hooks by score descending, then class, then registration order.
func Rank(ds []hook.Descriptor, scores map[string]float64) []hook.Descriptor {
	out := make([]hook.Descriptor, len(ds))
	copy(out, ds)
	sort.SliceStable(out, func(i, j int) bool {
		return Less(out[i], out[j], scores)
	})
	return out
}

// Less reports whether a ranks before b.
func Less(a, b hook.Descriptor, scores map[string]float64) bool {
	if sa, sb := scores[a.Name], scores[b.Name]; sa != sb {
		return sa > sb
	}
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra < rb
	}
	return a.Order < b.Order
}
