package priority

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/rnwolfe/hooksched/internal/history"
	"github.com/rnwolfe/hooksched/internal/hook"
	"github.com/rnwolfe/hooksched/internal/store"
)

func newRegistry(t testing.TB, ds ...hook.Descriptor) *hook.Registry {
	t.Helper()
	reg := hook.NewRegistry()
	for _, d := range ds {
		if err := reg.Register(d); err != nil {
			t.Fatalf("Register(%s): %v", d.Name, err)
		}
	}
	return reg
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreBaseline(t *testing.T) {
	reg := newRegistry(t,
		hook.Descriptor{Name: "crit", Priority: hook.PriorityCritical},
		hook.Descriptor{Name: "norm", Priority: hook.PriorityNormal},
		hook.Descriptor{Name: "maint", Priority: hook.PriorityMaintenance},
	)
	c := NewCalculator(reg, nil, nil)

	scores, err := c.Score([]string{"crit", "norm", "maint"}, hook.NewContext("t", nil))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	// Neutral success rate: 1 + 0.5*0.5 = 1.25.
	want := map[string]float64{"crit": 125, "norm": 31.25, "maint": 6.25}
	for name, w := range want {
		if !approx(scores[name], w) {
			t.Errorf("score[%s] = %v, want %v", name, scores[name], w)
		}
	}
}

func TestScoreContextMultipliers(t *testing.T) {
	reg := newRegistry(t,
		hook.Descriptor{Name: "crit", Priority: hook.PriorityCritical},
		hook.Descriptor{Name: "high", Priority: hook.PriorityHigh},
		hook.Descriptor{Name: "maint", Priority: hook.PriorityMaintenance},
	)
	c := NewCalculator(reg, nil, nil)
	c.SuccessWeight = 0

	tests := []struct {
		name   string
		values map[string]any
		hook   string
		want   float64
	}{
		{"urgent", map[string]any{hook.KeyTimeSensitivity: "urgent"}, "high", 75},
		{"low sensitivity", map[string]any{hook.KeyTimeSensitivity: "low"}, "high", 40},
		{"depth", map[string]any{hook.KeyDependencyDepth: 2}, "high", 55},
		{"load on high", map[string]any{hook.KeySystemLoad: 100}, "high", 37.5},
		{"load ignores critical", map[string]any{hook.KeySystemLoad: 100}, "crit", 100},
		{"load floors maintenance", map[string]any{hook.KeySystemLoad: 100}, "maint", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores, err := c.Score([]string{tt.hook}, hook.NewContext("t", tt.values))
			if err != nil {
				t.Fatal(err)
			}
			if !approx(scores[tt.hook], tt.want) {
				t.Errorf("score = %v, want %v", scores[tt.hook], tt.want)
			}
		})
	}
}

func TestScoreUsesHistory(t *testing.T) {
	reg := newRegistry(t,
		hook.Descriptor{Name: "good", Priority: hook.PriorityNormal},
		hook.Descriptor{Name: "bad", Priority: hook.PriorityNormal},
	)
	h := history.New(10)
	for i := 0; i < 4; i++ {
		h.Append(history.Record{Hook: "good", Duration: time.Millisecond, Success: true})
		h.Append(history.Record{Hook: "bad", Duration: time.Millisecond, Success: false})
	}
	c := NewCalculator(reg, h, nil)
	scores, err := c.Score([]string{"good", "bad"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(scores["good"], 37.5) || !approx(scores["bad"], 25) {
		t.Errorf("scores = %v", scores)
	}
}

func TestScoreUnknownHook(t *testing.T) {
	reg := newRegistry(t,
		hook.Descriptor{Name: "a", Priority: hook.PriorityHigh},
		hook.Descriptor{Name: "off", Priority: hook.PriorityHigh, State: hook.StateInactive},
	)
	c := NewCalculator(reg, nil, nil)
	_, err := c.Score([]string{"a", "off", "ghost"}, nil)
	if !errors.Is(err, hook.ErrUnknownHook) {
		t.Fatalf("err = %v, want ErrUnknownHook", err)
	}
	var ue *hook.UnknownHookError
	if !errors.As(err, &ue) || len(ue.Names) != 2 {
		t.Fatalf("UnknownHookError = %+v", ue)
	}
}

func TestAdjustmentBoundsAndCriticalFloor(t *testing.T) {
	adj := NewAdjustments(nil)
	if got := adj.Set("a", 3, "test"); got != MaxFactor {
		t.Errorf("Set(3) = %v, want %v", got, MaxFactor)
	}
	if got := adj.Set("a", 0.01, "test"); got != MinFactor {
		t.Errorf("Set(0.01) = %v, want %v", got, MinFactor)
	}
	if CriticalFloor <= MinFactor {
		t.Fatalf("CriticalFloor = %v, want above MinFactor %v", CriticalFloor, MinFactor)
	}
	if got := adj.Effective("a", hook.PriorityCritical); got != CriticalFloor {
		t.Errorf("critical effective = %v, want floor %v", got, CriticalFloor)
	}
	if got := adj.Effective("a", hook.PriorityHigh); got != MinFactor {
		t.Errorf("high effective = %v, want %v", got, MinFactor)
	}
	adj.Set("b", MaxFactor, "test")

	reg := newRegistry(t,
		hook.Descriptor{Name: "a", Priority: hook.PriorityCritical},
		hook.Descriptor{Name: "b", Priority: hook.PriorityHigh},
	)
	c := NewCalculator(reg, nil, adj)
	scores, _ := c.Score([]string{"a", "b"}, nil)
	if scores["a"] < scores["b"] {
		t.Errorf("penalised critical %v ranked under boosted high %v", scores["a"], scores["b"])
	}
}

func TestAdjustmentNudgeAndReset(t *testing.T) {
	adj := NewAdjustments(nil)
	adj.Nudge("a", 0.9, "slow")
	adj.Nudge("a", 0.9, "slow")
	if got := adj.Get("a"); !approx(got, 0.81) {
		t.Errorf("Get = %v, want 0.81", got)
	}
	adj.Reset("a")
	if adj.Get("a") != 1 {
		t.Error("Reset should restore the default factor")
	}
	adj.Set("b", 1.2, "")
	adj.Set("c", 1.2, "")
	adj.Reset()
	if len(adj.All()) != 0 {
		t.Errorf("All = %v after Reset()", adj.All())
	}
}

func TestAdjustmentsPersist(t *testing.T) {
	db, err := store.OpenPath(filepath.Join(t.TempDir(), "p.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	a := NewAdjustments(nil)
	if err := a.Persist(db.Conn()); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	a.Set("x", 0.7, "failing")
	a.Nudge("y", 1.1, "recovering")
	a.Set("z", 0.9, "")
	a.Reset("z")

	b := NewAdjustments(nil)
	if err := b.Persist(db.Conn()); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	all := b.All()
	if len(all) != 2 {
		t.Fatalf("All = %+v, want 2 entries", all)
	}
	if all[0].Hook != "x" || !approx(all[0].Factor, 0.7) || all[0].Reason != "failing" {
		t.Errorf("x = %+v", all[0])
	}
	if !approx(b.Get("y"), 1.1) {
		t.Errorf("y = %v", b.Get("y"))
	}
}

func TestRank(t *testing.T) {
	reg := newRegistry(t,
		hook.Descriptor{Name: "n1", Priority: hook.PriorityNormal},
		hook.Descriptor{Name: "h1", Priority: hook.PriorityHigh},
		hook.Descriptor{Name: "n2", Priority: hook.PriorityNormal},
		hook.Descriptor{Name: "h2", Priority: hook.PriorityHigh},
	)
	scores := map[string]float64{"n1": 10, "h1": 10, "n2": 30, "h2": 10}
	got := Rank(reg.All(), scores)
	want := []string{"n2", "h1", "h2", "n1"}
	for i, d := range got {
		if d.Name != want[i] {
			t.Fatalf("Rank = %v, want %v", namesOf(got), want)
		}
	}
}

func TestScoresAlwaysPositive(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.SampledFrom(hook.AllPriorities).Draw(t, "priority")
		reg := hook.NewRegistry()
		_ = reg.Register(hook.Descriptor{Name: "h", Priority: p})

		adj := NewAdjustments(nil)
		adj.Set("h", rapid.Float64Range(-5, 5).Draw(t, "factor"), "")
		c := NewCalculator(reg, nil, adj)
		c.SuccessWeight = rapid.Float64Range(0, 2).Draw(t, "weight")

		hctx := hook.NewContext("t", map[string]any{
			hook.KeySystemLoad:      rapid.Float64Range(-50, 200).Draw(t, "load"),
			hook.KeyDependencyDepth: rapid.IntRange(-3, 10).Draw(t, "depth"),
			hook.KeyTimeSensitivity: rapid.SampledFrom([]string{"low", "normal", "high", "urgent", "?"}).Draw(t, "ts"),
		})
		scores, err := c.Score([]string{"h"}, hctx)
		if err != nil {
			t.Fatal(err)
		}
		if scores["h"] < MinScore {
			t.Fatalf("score %v below floor", scores["h"])
		}
	})
}

func namesOf(ds []hook.Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}
