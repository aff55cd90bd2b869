// Package history keeps per-hook execution records in bounded rolling
// windows and derives the statistics the priority calculator and the
// performance optimizer read.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"
)

// DefaultSize is the per-hook window when none is configured.
const DefaultSize = 100

// DefaultRecent is the trailing window used for "recent" statistics.
const DefaultRecent = 20

// Histogram bounds in microseconds: 1µs to 1h, 3 significant figures.
const (
	histMin     = 1
	histMax     = int64(time.Hour / time.Microsecond)
	histSigFigs = 3
)

// Record is one completed hook execution.
type Record struct {
	Hook        string
	ExecutionID string
	Timestamp   time.Time
	Duration    time.Duration
	Success     bool
	Err         string
}

// Sink receives every appended record, e.g. for persistence.
type Sink interface {
	Write(Record) error
}

// Stats summarises one hook's history.
type Stats struct {
	Hook        string
	Count       int
	SuccessRate float64
	Mean        time.Duration
	Min         time.Duration
	Max         time.Duration
	// Trailing window (DefaultRecent unless configured).
	RecentSuccessRate float64
	RecentMean        time.Duration
	// Lifetime percentiles, not limited to the window.
	P50 time.Duration
	P95 time.Duration
	P99 time.Duration
}

// History is safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	size    int
	recent  int
	records map[string][]Record
	hists   map[string]*hdrhistogram.Histogram
	total   int

	sink   Sink
	logger *zap.Logger
}

// Option configures a History.
type Option func(*History)

// WithSink forwards appended records to s.
func WithSink(s Sink) Option {
	return func(h *History) { h.sink = s }
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(l *zap.Logger) Option {
	return func(h *History) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithRecent sets the trailing window used by Stats.
func WithRecent(n int) Option {
	return func(h *History) {
		if n > 0 {
			h.recent = n
		}
	}
}

// New creates a History keeping at most size records per hook.
func New(size int, opts ...Option) *History {
	if size <= 0 {
		size = DefaultSize
	}
	h := &History{
		size:    size,
		recent:  DefaultRecent,
		records: make(map[string][]Record),
		hists:   make(map[string]*hdrhistogram.Histogram),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Append adds r and forwards it to the sink. Sink errors are logged only.
func (h *History) Append(r Record) {
	h.add(r)
	if h.sink == nil {
		return
	}
	if err := h.sink.Write(r); err != nil {
		h.logger.Warn("persisting execution record",
			zap.String("hook", r.Hook),
			zap.Error(err),
		)
	}
}

// Replay adds records without forwarding them to the sink.
func (h *History) Replay(records []Record) {
	for _, r := range records {
		h.add(r)
	}
}

func (h *History) add(r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	rs := append(h.records[r.Hook], r)
	if over := len(rs) - h.size; over > 0 {
		rs = append(rs[:0:0], rs[over:]...)
	}
	h.total += len(rs) - len(h.records[r.Hook])
	h.records[r.Hook] = rs

	hist, ok := h.hists[r.Hook]
	if !ok {
		hist = hdrhistogram.New(histMin, histMax, histSigFigs)
		h.hists[r.Hook] = hist
	}
	us := r.Duration.Microseconds()
	_ = hist.RecordValue(min(max(us, histMin), histMax))
}

// Records returns a copy of hook's window, oldest first.
func (h *History) Records(hook string) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rs := h.records[hook]
	out := make([]Record, len(rs))
	copy(out, rs)
	return out
}

// SuccessRate returns the success fraction of the last n records (all when
// n <= 0). ok is false when the hook has no history.
func (h *History) SuccessRate(hook string, n int) (rate float64, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rs := tail(h.records[hook], n)
	if len(rs) == 0 {
		return 0, false
	}
	return successRate(rs), true
}

// AverageDuration returns the mean duration over the window.
func (h *History) AverageDuration(hook string) (time.Duration, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rs := h.records[hook]
	if len(rs) == 0 {
		return 0, false
	}
	return meanDuration(rs), true
}

// Trend compares the mean duration of the newer half of the last n records
// with the older half. It returns newer/older - 1, so 0.3 means 30% slower.
// ok is false with fewer than four records.
func (h *History) Trend(hook string, n int) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rs := tail(h.records[hook], n)
	if len(rs) < 4 {
		return 0, false
	}
	half := len(rs) / 2
	older := meanDuration(rs[:half])
	newer := meanDuration(rs[half:])
	if older <= 0 {
		return 0, false
	}
	return float64(newer)/float64(older) - 1, true
}

// Stats returns a summary for every hook with history.
func (h *History) Stats() map[string]Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]Stats, len(h.records))
	for hook, rs := range h.records {
		if len(rs) == 0 {
			continue
		}
		s := Stats{
			Hook:        hook,
			Count:       len(rs),
			SuccessRate: successRate(rs),
			Mean:        meanDuration(rs),
			Min:         rs[0].Duration,
			Max:         rs[0].Duration,
		}
		for _, r := range rs[1:] {
			s.Min = min(s.Min, r.Duration)
			s.Max = max(s.Max, r.Duration)
		}
		recent := tail(rs, h.recent)
		s.RecentSuccessRate = successRate(recent)
		s.RecentMean = meanDuration(recent)
		if hist, ok := h.hists[hook]; ok {
			s.P50 = time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond
			s.P95 = time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond
			s.P99 = time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond
		}
		out[hook] = s
	}
	return out
}

// Size returns the total number of records held across all hooks.
func (h *History) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// Hooks returns the names of hooks with history, sorted.
func (h *History) Hooks() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.records))
	for name, rs := range h.records {
		if len(rs) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Reset drops all history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = make(map[string][]Record)
	h.hists = make(map[string]*hdrhistogram.Histogram)
	h.total = 0
}

func tail(rs []Record, n int) []Record {
	if n <= 0 || n >= len(rs) {
		return rs
	}
	return rs[len(rs)-n:]
}

func successRate(rs []Record) float64 {
	if len(rs) == 0 {
		return 0
	}
	ok := 0
	for _, r := range rs {
		if r.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(rs))
}

func meanDuration(rs []Record) time.Duration {
	if len(rs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, r := range rs {
		sum += r.Duration
	}
	return sum / time.Duration(len(rs))
}
