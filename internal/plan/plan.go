// Package plan turns a trigger and a set of hooks into an ordered list of
// batches. Hooks in one batch never depend on each other; every dependency
// of a hook sits in a strictly earlier batch.
package plan

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rnwolfe/hooksched/internal/hook"
)

// DefaultDuration is the estimate for hooks without history.
const DefaultDuration = time.Second

// Batch is a set of hooks that may run concurrently.
type Batch struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	// Hooks in execution preference order (highest score first).
	Hooks             []string       `json:"hooks"`
	Phase             hook.Phase     `json:"phase"`
	Level             int            `json:"level"`
	EstimatedDuration time.Duration  `json:"estimated_duration"`
	Resources         hook.Resources `json:"resources"`
	MaxParallelism    int            `json:"max_parallelism"`
}

// Size returns the number of hooks in the batch.
func (b Batch) Size() int {
	return len(b.Hooks)
}

// Plan is the immutable result of planning one trigger.
type Plan struct {
	ID      string        `json:"id"`
	Trigger string        `json:"trigger"`
	Context *hook.Context `json:"context"`
	Batches []Batch       `json:"batches"`
	Edges   []Edge        `json:"edges"`
	// Scores are the priority scores used to order hooks.
	Scores map[string]float64 `json:"scores"`
	// Unresolved maps a hook to dependencies no planned hook satisfies.
	// They are assumed to be satisfied outside this plan.
	Unresolved     map[string][]string        `json:"unresolved,omitempty"`
	Descriptors    map[string]hook.Descriptor `json:"-"`
	TotalEstimated time.Duration              `json:"total_estimated"`
	CreatedAt      time.Time                  `json:"created_at"`
}

// Hooks returns every planned hook in batch order.
func (p *Plan) Hooks() []string {
	var out []string
	for _, b := range p.Batches {
		out = append(out, b.Hooks...)
	}
	return out
}

// Len returns the number of planned hooks.
func (p *Plan) Len() int {
	n := 0
	for _, b := range p.Batches {
		n += len(b.Hooks)
	}
	return n
}

// BatchOf returns the index of the batch holding name, or -1.
func (p *Plan) BatchOf(name string) int {
	for i, b := range p.Batches {
		if slices.Contains(b.Hooks, name) {
			return i
		}
	}
	return -1
}

// Dependencies returns the planned hooks name waits on.
func (p *Plan) Dependencies(name string) []string {
	var out []string
	for _, e := range p.Edges {
		if e.To == name {
			out = append(out, e.From)
		}
	}
	return out
}

// Check verifies that every hook appears once and that every edge points
// from a strictly earlier batch.
func (p *Plan) Check() error {
	pos := make(map[string]int)
	for i, b := range p.Batches {
		for _, h := range b.Hooks {
			if _, dup := pos[h]; dup {
				return fmt.Errorf("hook %q planned twice", h)
			}
			pos[h] = i
		}
	}
	for _, e := range p.Edges {
		from, okFrom := pos[e.From]
		to, okTo := pos[e.To]
		if !okFrom || !okTo {
			return fmt.Errorf("edge %s -> %s references an unplanned hook", e.From, e.To)
		}
		if from >= to {
			return fmt.Errorf("%s (batch %d) must run before %s (batch %d)", e.From, from, e.To, to)
		}
	}
	return nil
}

// Recompute refreshes derived fields after batches were rearranged:
// indexes, ids, resources, duration estimates and the plan total.
func (p *Plan) Recompute(est Estimator) {
	p.TotalEstimated = 0
	for i := range p.Batches {
		b := &p.Batches[i]
		if b.Index != i || b.ID == "" {
			b.Index = i
			b.ID = batchID(i)
		}
		Finalize(b, p.Descriptors, est)
		p.TotalEstimated += b.EstimatedDuration
	}
}

// Estimator supplies historical average durations. *history.History
// satisfies it.
type Estimator interface {
	AverageDuration(hook string) (time.Duration, bool)
}

// Finalize recomputes a batch's resources and estimate from its members.
// MaxParallelism is reset to the member count when unset or too large.
func Finalize(b *Batch, ds map[string]hook.Descriptor, est Estimator) {
	b.Resources = hook.Resources{}
	b.EstimatedDuration = 0
	for _, name := range b.Hooks {
		b.Resources = b.Resources.Add(ds[name].EffectiveResources())
		b.EstimatedDuration = max(b.EstimatedDuration, Estimate(est, name))
	}
	if b.MaxParallelism <= 0 || b.MaxParallelism > len(b.Hooks) {
		b.MaxParallelism = len(b.Hooks)
	}
}

// Estimate returns the historical average for name, or DefaultDuration.
func Estimate(est Estimator, name string) time.Duration {
	if est != nil {
		if d, ok := est.AverageDuration(name); ok && d > 0 {
			return d
		}
	}
	return DefaultDuration
}

func batchID(index int) string {
	return fmt.Sprintf("batch-%d-%s", index, uuid.NewString()[:8])
}
