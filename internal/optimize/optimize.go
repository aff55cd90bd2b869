// Package optimize reshapes planned batches: it splits oversized batches,
// merges compatible neighbours, groups hooks by tag and caps parallelism to
// the configured resource ceilings. It never moves a hook across a
// dependency edge and never drops or duplicates one.
package optimize

import (
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/rnwolfe/hooksched/internal/hook"
	"github.com/rnwolfe/hooksched/internal/plan"
	"github.com/rnwolfe/hooksched/internal/priority"
)

// Options configures an Optimizer.
type Options struct {
	MaxWorkers      int
	MaxBatchSize    int
	CPUCeiling      float64
	MemoryCeilingMB float64
	// HeavyCPU is the mean CPU percent per hook at which a batch counts as heavy.
	HeavyCPU float64
	// PhaseParallelism caps concurrency per phase; zero means no cap.
	PhaseParallelism map[hook.Phase]int
	Merge            bool
}

// DefaultOptions mirrors the default configuration.
func DefaultOptions() Options {
	return Options{
		MaxWorkers:      8,
		MaxBatchSize:    32,
		CPUCeiling:      100,
		MemoryCeilingMB: 4096,
		HeavyCPU:        20,
		Merge:           true,
	}
}

// Optimizer rewrites plans. It is stateless apart from its options.
type Optimizer struct {
	opts   Options
	est    plan.Estimator
	logger *zap.Logger
}

// New creates an Optimizer. est and logger may be nil.
func New(opts Options, est plan.Estimator, logger *zap.Logger) *Optimizer {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultOptions().MaxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{opts: opts, est: est, logger: logger}
}

// Apply returns an optimized copy of p. p itself is not modified.
func (o *Optimizer) Apply(p *plan.Plan) *plan.Plan {
	out := *p
	out.Batches = o.Optimize(p.Batches, p.Edges, p.Descriptors, p.Scores)
	out.Recompute(o.est)

	o.logger.Debug("optimized plan",
		zap.String("plan", p.ID),
		zap.Int("batches_before", len(p.Batches)),
		zap.Int("batches_after", len(out.Batches)),
	)
	return &out
}

// Optimize returns new batches holding exactly the hooks of batches.
// Touched batches get a cleared ID so callers renumber them.
func (o *Optimizer) Optimize(batches []plan.Batch, edges []plan.Edge, ds map[string]hook.Descriptor, scores map[string]float64) []plan.Batch {
	out := make([]plan.Batch, 0, len(batches))
	for _, b := range batches {
		b.Hooks = slices.Clone(b.Hooks)
		out = append(out, o.split(b, ds)...)
	}

	if o.opts.Merge {
		out = o.merge(out, edges, ds, scores)
	}

	for i := range out {
		b := &out[i]
		b.Hooks = groupByTag(b.Hooks, ds)
		plan.Finalize(b, ds, o.est)
		b.MaxParallelism = o.parallelism(b, ds)
	}
	return out
}

// split breaks a batch larger than MaxBatchSize into consecutive chunks,
// keeping hooks of one tag together where possible.
func (o *Optimizer) split(b plan.Batch, ds map[string]hook.Descriptor) []plan.Batch {
	limit := o.opts.MaxBatchSize
	if len(b.Hooks) <= limit {
		return []plan.Batch{b}
	}
	hooks := groupByTag(b.Hooks, ds)
	var out []plan.Batch
	for start := 0; start < len(hooks); start += limit {
		chunk := b
		chunk.ID = ""
		chunk.MaxParallelism = 0
		chunk.Hooks = slices.Clone(hooks[start:min(start+limit, len(hooks))])
		out = append(out, chunk)
	}
	return out
}

// merge folds each batch into its predecessor when both share phase and
// resource profile, no edge joins them and the result fits MaxBatchSize.
func (o *Optimizer) merge(batches []plan.Batch, edges []plan.Edge, ds map[string]hook.Descriptor, scores map[string]float64) []plan.Batch {
	if len(batches) < 2 {
		return batches
	}
	out := []plan.Batch{batches[0]}
	for _, next := range batches[1:] {
		cur := &out[len(out)-1]
		if !o.mergeable(*cur, next, edges, ds) {
			out = append(out, next)
			continue
		}
		cur.Hooks = append(cur.Hooks, next.Hooks...)
		sort.SliceStable(cur.Hooks, func(i, j int) bool {
			return priority.Less(ds[cur.Hooks[i]], ds[cur.Hooks[j]], scores)
		})
		cur.Level = min(cur.Level, next.Level)
		cur.ID = ""
		cur.MaxParallelism = 0
	}
	return out
}

func (o *Optimizer) mergeable(a, b plan.Batch, edges []plan.Edge, ds map[string]hook.Descriptor) bool {
	if a.Phase != b.Phase {
		return false
	}
	if len(a.Hooks)+len(b.Hooks) > o.opts.MaxBatchSize {
		return false
	}
	if o.heavy(a.Hooks, ds) != o.heavy(b.Hooks, ds) {
		return false
	}
	for _, e := range edges {
		if slices.Contains(a.Hooks, e.From) && slices.Contains(b.Hooks, e.To) {
			return false
		}
		if slices.Contains(b.Hooks, e.From) && slices.Contains(a.Hooks, e.To) {
			return false
		}
	}
	return true
}

func (o *Optimizer) heavy(hooks []string, ds map[string]hook.Descriptor) bool {
	if len(hooks) == 0 || o.opts.HeavyCPU <= 0 {
		return false
	}
	var cpu float64
	for _, h := range hooks {
		cpu += ds[h].EffectiveResources().CPUPercent
	}
	return cpu/float64(len(hooks)) >= o.opts.HeavyCPU
}

// parallelism returns the largest k such that the k hungriest members fit
// under both ceilings, further capped by MaxWorkers and the phase limit.
func (o *Optimizer) parallelism(b *plan.Batch, ds map[string]hook.Descriptor) int {
	n := len(b.Hooks)
	if n == 0 {
		return 1
	}
	k := min(fitCount(b.Hooks, ds, o.opts.CPUCeiling, func(r hook.Resources) float64 { return r.CPUPercent }),
		fitCount(b.Hooks, ds, o.opts.MemoryCeilingMB, func(r hook.Resources) float64 { return r.MemoryMB }))
	if o.opts.MaxWorkers > 0 {
		k = min(k, o.opts.MaxWorkers)
	}
	if limit := o.opts.PhaseParallelism[b.Phase]; limit > 0 {
		k = min(k, limit)
	}
	return max(k, 1)
}

func fitCount(hooks []string, ds map[string]hook.Descriptor, ceiling float64, field func(hook.Resources) float64) int {
	if ceiling <= 0 {
		return len(hooks)
	}
	vals := make([]float64, len(hooks))
	for i, h := range hooks {
		vals[i] = field(ds[h].EffectiveResources())
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
	var sum float64
	for i, v := range vals {
		sum += v
		if sum > ceiling {
			return i
		}
	}
	return len(vals)
}

// groupByTag makes hooks sharing a primary tag adjacent. Groups keep the
// position of their first member, so the best-ranked group stays first.
func groupByTag(hooks []string, ds map[string]hook.Descriptor) []string {
	var order []string
	groups := make(map[string][]string)
	for _, h := range hooks {
		tag := ds[h].PrimaryTag()
		if _, ok := groups[tag]; !ok {
			order = append(order, tag)
		}
		groups[tag] = append(groups[tag], h)
	}
	out := make([]string, 0, len(hooks))
	for _, tag := range order {
		out = append(out, groups[tag]...)
	}
	return out
}
