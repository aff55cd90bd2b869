package conflict

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"pgregory.net/rapid"

	"github.com/rnwolfe/hooksched/internal/hook"
)

func descriptors(ds ...hook.Descriptor) map[string]hook.Descriptor {
	out := make(map[string]hook.Descriptor, len(ds))
	for i, d := range ds {
		d.Order = i
		out[d.Name] = d
	}
	return out
}

func TestPriorityBasedHighWins(t *testing.T) {
	r := New()
	in := Inputs{
		Scores: map[string]float64{"X": 62.5, "Y": 12.5},
		Descriptors: descriptors(
			hook.Descriptor{Name: "X", Priority: hook.PriorityHigh},
			hook.Descriptor{Name: "Y", Priority: hook.PriorityLow},
		),
	}
	res, err := r.Resolve("t", []string{"X", "Y"}, PriorityBased, in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Winner != "X" || !slices.Equal(res.Losers, []string{"Y"}) {
		t.Errorf("Resolution = %+v, want X over [Y]", res)
	}
	if res.Strategy != PriorityBased || res.Trigger != "t" || res.Timestamp.IsZero() {
		t.Errorf("metadata = %+v", res)
	}
}

func TestPriorityBasedTieBreaksByRegistration(t *testing.T) {
	r := New()
	in := Inputs{
		Scores: map[string]float64{"a": 10, "b": 10, "c": 10},
		Descriptors: descriptors(
			hook.Descriptor{Name: "c"},
			hook.Descriptor{Name: "b"},
			hook.Descriptor{Name: "a"},
		),
	}
	res, _ := r.Resolve("t", []string{"a", "b", "c"}, PriorityBased, in)
	if res.Winner != "c" || !slices.Equal(res.Losers, []string{"a", "b"}) {
		t.Errorf("Resolution = %+v, want c (registered first)", res)
	}
}

func TestResolveEdgeCases(t *testing.T) {
	r := New()
	if _, err := r.Resolve("t", nil, PriorityBased, Inputs{}); !errors.Is(err, ErrNoCompetitors) {
		t.Errorf("empty: err = %v", err)
	}
	if _, err := r.Resolve("t", []string{"a", "b"}, "coin_flip", Inputs{}); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("unknown strategy: err = %v", err)
	}
	res, err := r.Resolve("t", []string{"only"}, RoundRobin, Inputs{})
	if err != nil || res.Winner != "only" || len(res.Losers) != 0 {
		t.Errorf("single: %+v, %v", res, err)
	}
	if r.Rotation("t") != 0 {
		t.Error("identity resolution should not advance the rotation")
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"priority_based", PriorityBased, false},
		{"ROUND_ROBIN", RoundRobin, false},
		{"load-based", LoadBased, false},
		{" weighted_random ", WeightedRandom, false},
		{"last_registered", LastRegistered, false},
		{"fastest", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestRoundRobinRotatesPerTrigger(t *testing.T) {
	r := New()
	comp := []string{"a", "b", "c"}
	var got []string
	for i := 0; i < 4; i++ {
		res, _ := r.Resolve("t1", comp, RoundRobin, Inputs{})
		got = append(got, res.Winner)
	}
	if !slices.Equal(got, []string{"a", "b", "c", "a"}) {
		t.Errorf("winners = %v", got)
	}
	res, _ := r.Resolve("t2", comp, RoundRobin, Inputs{})
	if res.Winner != "a" {
		t.Errorf("t2 should have its own counter, got %s", res.Winner)
	}
}

func TestRoundRobinFairUnderConcurrency(t *testing.T) {
	r := New()
	comp := []string{"a", "b", "c", "d"}
	const rounds = 50
	var (
		mu   sync.Mutex
		wins = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < rounds*len(comp); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Resolve("t", comp, RoundRobin, Inputs{})
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			wins[res.Winner]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	for _, c := range comp {
		if wins[c] != rounds {
			t.Errorf("%s won %d times, want %d", c, wins[c], rounds)
		}
	}
}

func TestPropertyRoundRobinFairness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(2, 8).Draw(t, "size")
		k := rapid.IntRange(size, 5*size).Draw(t, "k")
		comp := make([]string, size)
		for i := range comp {
			comp[i] = fmt.Sprintf("h%d", i)
		}
		r := New()
		wins := map[string]int{}
		for i := 0; i < k; i++ {
			res, err := r.Resolve("t", comp, RoundRobin, Inputs{})
			if err != nil {
				t.Fatal(err)
			}
			wins[res.Winner]++
		}
		for _, c := range comp {
			if wins[c] < k/size || wins[c] > k/size+1 {
				t.Fatalf("%s won %d of %d calls among %d", c, wins[c], k, size)
			}
		}
	})
}

func TestPropertyPriorityBasedPicksHighest(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(2, 8).Draw(t, "size")
		comp := make([]string, size)
		scores := map[string]float64{}
		var ds []hook.Descriptor
		for i := range comp {
			comp[i] = fmt.Sprintf("h%d", i)
			scores[comp[i]] = float64(rapid.IntRange(1, 5).Draw(t, "score"))
			ds = append(ds, hook.Descriptor{Name: comp[i]})
		}
		res, err := New().Resolve("t", comp, PriorityBased, Inputs{Scores: scores, Descriptors: descriptors(ds...)})
		if err != nil {
			t.Fatal(err)
		}
		for i, c := range comp {
			if scores[c] > scores[res.Winner] {
				t.Fatalf("%s (%v) beats winner %s (%v)", c, scores[c], res.Winner, scores[res.Winner])
			}
			if scores[c] == scores[res.Winner] && c != res.Winner && i < slices.Index(comp, res.Winner) {
				t.Fatalf("tie should go to earlier registration %s, got %s", c, res.Winner)
			}
		}
		if len(res.Losers) != size-1 || slices.Contains(res.Losers, res.Winner) {
			t.Fatalf("Losers = %v", res.Losers)
		}
	})
}

func TestLoadBased(t *testing.T) {
	in := Inputs{
		Scores: map[string]float64{"big": 100, "small": 10, "tiny-mem": 10},
		Descriptors: descriptors(
			hook.Descriptor{Name: "big", Resources: hook.Resources{CPUPercent: 80, MemoryMB: 500}},
			hook.Descriptor{Name: "small", Resources: hook.Resources{CPUPercent: 5, MemoryMB: 200}},
			hook.Descriptor{Name: "tiny-mem", Resources: hook.Resources{CPUPercent: 5, MemoryMB: 20}},
		),
	}
	comp := []string{"big", "small", "tiny-mem"}
	r := New()

	in.SystemLoad = 30
	res, _ := r.Resolve("t", comp, LoadBased, in)
	if res.Winner != "big" {
		t.Errorf("low load winner = %s, want big", res.Winner)
	}

	in.SystemLoad = 80
	res, _ = r.Resolve("t", comp, LoadBased, in)
	if res.Winner != "tiny-mem" {
		t.Errorf("high load winner = %s, want tiny-mem", res.Winner)
	}

	r = New(WithLoadThreshold(95))
	res, _ = r.Resolve("t", comp, LoadBased, in)
	if res.Winner != "big" {
		t.Errorf("custom threshold winner = %s, want big", res.Winner)
	}
}

func TestWeightedRandomSeeded(t *testing.T) {
	in := Inputs{Scores: map[string]float64{"a": 90, "b": 10}}
	draw := func(seed uint64) []string {
		r := New(WithSeed(seed))
		var out []string
		for i := 0; i < 20; i++ {
			res, _ := r.Resolve("t", []string{"a", "b"}, WeightedRandom, in)
			out = append(out, res.Winner)
		}
		return out
	}
	if !slices.Equal(draw(42), draw(42)) {
		t.Error("same seed should give the same draws")
	}

	r := New(WithSeed(7))
	wins := map[string]int{}
	for i := 0; i < 2000; i++ {
		res, _ := r.Resolve("t", []string{"a", "b"}, WeightedRandom, in)
		wins[res.Winner]++
	}
	if wins["a"] < 1600 || wins["b"] < 100 {
		t.Errorf("distribution = %v, want roughly 90/10", wins)
	}
}

func TestRegistrationStrategies(t *testing.T) {
	in := Inputs{Descriptors: descriptors(
		hook.Descriptor{Name: "old"},
		hook.Descriptor{Name: "mid"},
		hook.Descriptor{Name: "new"},
	)}
	comp := []string{"mid", "new", "old"}
	r := New()
	if res, _ := r.Resolve("t", comp, FirstRegistered, in); res.Winner != "old" {
		t.Errorf("first_registered = %s", res.Winner)
	}
	if res, _ := r.Resolve("t", comp, LastRegistered, in); res.Winner != "new" {
		t.Errorf("last_registered = %s", res.Winner)
	}
}
