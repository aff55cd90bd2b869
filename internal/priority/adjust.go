package priority

import (
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rnwolfe/hooksched/internal/hook"
)

// Adjustment factor bounds.
const (
	MinFactor = 0.5
	MaxFactor = 1.5
)

// CriticalFloor keeps a penalised critical hook's weight at or above a
// fully boosted high hook's weight.
var CriticalFloor = Weight(hook.PriorityHigh) * MaxFactor / Weight(hook.PriorityCritical)

// Adjustment is the advisory factor applied to one hook's score.
type Adjustment struct {
	Hook      string
	Factor    float64
	Reason    string
	UpdatedAt time.Time
}

// Adjustments holds dynamic priority factors. Safe for concurrent use.
type Adjustments struct {
	mu      sync.RWMutex
	factors map[string]Adjustment
	db      *sql.DB
	logger  *zap.Logger
}

// NewAdjustments creates an empty set. logger may be nil.
func NewAdjustments(logger *zap.Logger) *Adjustments {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adjustments{factors: make(map[string]Adjustment), logger: logger}
}

// Persist loads stored factors from db and writes every later change through.
func (a *Adjustments) Persist(db *sql.DB) error {
	rows, err := db.Query(`SELECT hook, factor, reason, updated_at FROM priority_adjustments`)
	if err != nil {
		return fmt.Errorf("loading priority adjustments: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]Adjustment)
	for rows.Next() {
		var (
			adj     Adjustment
			updated sql.NullString
		)
		if err := rows.Scan(&adj.Hook, &adj.Factor, &adj.Reason, &updated); err != nil {
			return err
		}
		adj.Factor = clamp(adj.Factor)
		adj.UpdatedAt = parseTimestamp(updated.String)
		loaded[adj.Hook] = adj
	}
	if err := rows.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range loaded {
		a.factors[k] = v
	}
	a.db = db
	return nil
}

// Get returns the stored factor for hook, 1 when none is set.
func (a *Adjustments) Get(name string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if adj, ok := a.factors[name]; ok {
		return adj.Factor
	}
	return 1
}

// Effective returns the factor applied for a hook of class p.
func (a *Adjustments) Effective(name string, p hook.Priority) float64 {
	f := a.Get(name)
	if p == hook.PriorityCritical {
		f = max(f, CriticalFloor)
	}
	return f
}

// Set stores a factor clamped to [MinFactor, MaxFactor] and returns it.
func (a *Adjustments) Set(name string, factor float64, reason string) float64 {
	a.mu.Lock()
	adj := Adjustment{Hook: name, Factor: clamp(factor), Reason: reason, UpdatedAt: time.Now()}
	a.factors[name] = adj
	db := a.db
	a.mu.Unlock()

	a.write(db, adj)
	return adj.Factor
}

// Nudge multiplies the current factor by by and returns the new value.
func (a *Adjustments) Nudge(name string, by float64, reason string) float64 {
	a.mu.Lock()
	cur := 1.0
	if adj, ok := a.factors[name]; ok {
		cur = adj.Factor
	}
	adj := Adjustment{Hook: name, Factor: clamp(cur * by), Reason: reason, UpdatedAt: time.Now()}
	a.factors[name] = adj
	db := a.db
	a.mu.Unlock()

	a.write(db, adj)
	return adj.Factor
}

// Reset removes the factor for name. With no names it removes all factors.
func (a *Adjustments) Reset(names ...string) {
	a.mu.Lock()
	if len(names) == 0 {
		a.factors = make(map[string]Adjustment)
	} else {
		for _, n := range names {
			delete(a.factors, n)
		}
	}
	db := a.db
	a.mu.Unlock()

	if db == nil {
		return
	}
	var err error
	if len(names) == 0 {
		_, err = db.Exec(`DELETE FROM priority_adjustments`)
	} else {
		for _, n := range names {
			if _, err = db.Exec(`DELETE FROM priority_adjustments WHERE hook = ?`, n); err != nil {
				break
			}
		}
	}
	if err != nil {
		a.logger.Warn("resetting priority adjustments", zap.Error(err))
	}
}

// All returns every stored adjustment sorted by hook name.
func (a *Adjustments) All() []Adjustment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Adjustment, 0, len(a.factors))
	for _, adj := range a.factors {
		out = append(out, adj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hook < out[j].Hook })
	return out
}

func (a *Adjustments) write(db *sql.DB, adj Adjustment) {
	if db == nil {
		return
	}
	_, err := db.Exec(
		`INSERT INTO priority_adjustments (hook, factor, reason, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(hook) DO UPDATE SET factor = excluded.factor, reason = excluded.reason, updated_at = CURRENT_TIMESTAMP`,
		adj.Hook, adj.Factor, adj.Reason,
	)
	if err != nil {
		a.logger.Warn("persisting priority adjustment",
			zap.String("hook", adj.Hook),
			zap.Float64("factor", adj.Factor),
			zap.Error(err),
		)
	}
}

func clamp(f float64) float64 {
	return min(max(f, MinFactor), MaxFactor)
}

// parseTimestamp accepts both the driver's DATETIME rendering and raw
// CURRENT_TIMESTAMP text.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
