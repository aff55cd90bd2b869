// Package conflict decides which of several competing hooks runs when they
// claim the same trigger exclusively. A Resolution is only a decision; the
// caller executes the winner and skips the losers.
package conflict

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rnwolfe/hooksched/internal/hook"
)

// Strategy names a conflict resolution rule.
type Strategy string

const (
	PriorityBased   Strategy = "priority_based"
	RoundRobin      Strategy = "round_robin"
	LoadBased       Strategy = "load_based"
	WeightedRandom  Strategy = "weighted_random"
	FirstRegistered Strategy = "first_registered"
	LastRegistered  Strategy = "last_registered"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{PriorityBased, RoundRobin, LoadBased, WeightedRandom, FirstRegistered, LastRegistered}

// DefaultLoadThreshold is the load at which load_based prefers light hooks.
const DefaultLoadThreshold = 80

var (
	ErrNoCompetitors   = errors.New("no competing hooks")
	ErrUnknownStrategy = errors.New("unknown conflict strategy")
)

// ParseStrategy accepts strategy names in any case, with - or _.
func ParseStrategy(s string) (Strategy, error) {
	norm := Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if _, ok := deciders[norm]; ok {
		return norm, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// Resolution is the outcome of one conflict.
type Resolution struct {
	Trigger   string    `json:"trigger"`
	Winner    string    `json:"winner"`
	Losers    []string  `json:"losers"`
	Strategy  Strategy  `json:"strategy"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Inputs is what strategies may look at besides the competitor names.
type Inputs struct {
	Scores      map[string]float64
	Descriptors map[string]hook.Descriptor
	SystemLoad  float64
}

// decider picks a winner index from competitors.
type decider func(r *Resolver, trigger string, competitors []string, in Inputs) (int, string)

var deciders = map[Strategy]decider{
	PriorityBased:   decidePriority,
	RoundRobin:      decideRoundRobin,
	LoadBased:       decideLoad,
	WeightedRandom:  decideWeighted,
	FirstRegistered: decideFirst,
	LastRegistered:  decideLast,
}

type rotation struct {
	mu sync.Mutex
	n  uint64
}

// Resolver holds the state strategies need across calls: per-trigger
// round-robin counters and the weighted_random generator.
type Resolver struct {
	mu       sync.Mutex
	counters map[string]*rotation

	rngMu sync.Mutex
	rng   *rand.Rand

	loadThreshold float64
	logger        *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithSeed seeds the weighted_random generator.
func WithSeed(seed uint64) Option {
	return func(r *Resolver) { r.rng = newRand(seed) }
}

// WithLoadThreshold sets the load_based threshold.
func WithLoadThreshold(t float64) Option {
	return func(r *Resolver) {
		if t > 0 {
			r.loadThreshold = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Resolver. Without WithSeed the generator is seeded from
// the clock.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		counters:      make(map[string]*rotation),
		loadThreshold: DefaultLoadThreshold,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = newRand(uint64(time.Now().UnixNano()))
	}
	return r
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Resolve picks a winner among competitors using strategy.
func (r *Resolver) Resolve(trigger string, competitors []string, strategy Strategy, in Inputs) (Resolution, error) {
	if len(competitors) == 0 {
		return Resolution{}, ErrNoCompetitors
	}
	decide, ok := deciders[strategy]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	res := Resolution{
		Trigger:   trigger,
		Strategy:  strategy,
		Timestamp: time.Now(),
	}
	if len(competitors) == 1 {
		res.Winner = competitors[0]
		res.Losers = []string{}
		res.Reason = "single competitor"
		return res, nil
	}

	idx, reason := decide(r, trigger, competitors, in)
	res.Winner = competitors[idx]
	res.Reason = reason
	res.Losers = make([]string, 0, len(competitors)-1)
	res.Losers = append(res.Losers, competitors[:idx]...)
	res.Losers = append(res.Losers, competitors[idx+1:]...)

	r.logger.Debug("resolved conflict",
		zap.String("trigger", trigger),
		zap.String("strategy", string(strategy)),
		zap.String("winner", res.Winner),
		zap.Strings("losers", res.Losers),
	)
	return res, nil
}

// Rotation returns the current round-robin counter for trigger.
func (r *Resolver) Rotation(trigger string) uint64 {
	rot := r.rotation(trigger)
	rot.mu.Lock()
	defer rot.mu.Unlock()
	return rot.n
}

func (r *Resolver) rotation(trigger string) *rotation {
	r.mu.Lock()
	defer r.mu.Unlock()
	rot, ok := r.counters[trigger]
	if !ok {
		rot = &rotation{}
		r.counters[trigger] = rot
	}
	return rot
}

// order returns the registration order of name, or its index when the
// descriptor is unknown.
func (in Inputs) order(name string, idx int) int {
	if d, ok := in.Descriptors[name]; ok {
		return d.Order
	}
	return idx
}

func decidePriority(_ *Resolver, _ string, competitors []string, in Inputs) (int, string) {
	best := 0
	for i := 1; i < len(competitors); i++ {
		si, sb := in.Scores[competitors[i]], in.Scores[competitors[best]]
		if si > sb || (si == sb && in.order(competitors[i], i) < in.order(competitors[best], best)) {
			best = i
		}
	}
	return best, fmt.Sprintf("highest priority score %.2f", in.Scores[competitors[best]])
}

func decideRoundRobin(r *Resolver, trigger string, competitors []string, _ Inputs) (int, string) {
	rot := r.rotation(trigger)
	rot.mu.Lock()
	n := rot.n
	rot.n++
	rot.mu.Unlock()
	idx := int(n % uint64(len(competitors)))
	return idx, fmt.Sprintf("round robin turn %d", n)
}

func decideLoad(r *Resolver, trigger string, competitors []string, in Inputs) (int, string) {
	if in.SystemLoad < r.loadThreshold {
		idx, _ := decidePriority(r, trigger, competitors, in)
		return idx, fmt.Sprintf("load %.0f below %.0f, highest priority", in.SystemLoad, r.loadThreshold)
	}
	best := 0
	for i := 1; i < len(competitors); i++ {
		ri := in.Descriptors[competitors[i]].EffectiveResources()
		rb := in.Descriptors[competitors[best]].EffectiveResources()
		switch {
		case ri.CPUPercent != rb.CPUPercent:
			if ri.CPUPercent < rb.CPUPercent {
				best = i
			}
		case ri.MemoryMB != rb.MemoryMB:
			if ri.MemoryMB < rb.MemoryMB {
				best = i
			}
		case in.order(competitors[i], i) < in.order(competitors[best], best):
			best = i
		}
	}
	return best, fmt.Sprintf("load %.0f at or above %.0f, lightest footprint", in.SystemLoad, r.loadThreshold)
}

func decideWeighted(r *Resolver, _ string, competitors []string, in Inputs) (int, string) {
	weights := make([]float64, len(competitors))
	var total float64
	for i, c := range competitors {
		w := in.Scores[c]
		if w <= 0 {
			w = 1
		}
		weights[i] = w
		total += w
	}

	r.rngMu.Lock()
	x := r.rng.Float64() * total
	r.rngMu.Unlock()

	idx := len(competitors) - 1
	for i, w := range weights {
		if x < w {
			idx = i
			break
		}
		x -= w
	}
	return idx, fmt.Sprintf("weighted draw (p=%.2f)", weights[idx]/total)
}

func decideFirst(_ *Resolver, _ string, competitors []string, in Inputs) (int, string) {
	best := 0
	for i := 1; i < len(competitors); i++ {
		if in.order(competitors[i], i) < in.order(competitors[best], best) {
			best = i
		}
	}
	return best, "registered first"
}

func decideLast(_ *Resolver, _ string, competitors []string, in Inputs) (int, string) {
	best := 0
	for i := 1; i < len(competitors); i++ {
		if in.order(competitors[i], i) > in.order(competitors[best], best) {
			best = i
		}
	}
	return best, "registered last"
}
