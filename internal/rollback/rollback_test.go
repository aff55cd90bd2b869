package rollback

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/rnwolfe/hooksched/internal/store"
)

func TestRollbackRunsActionsInReverse(t *testing.T) {
	m := NewManager()
	id := m.Create(ScopeDependencyChain, []string{"a", "b", "c"})
	if tx, ok := m.Get(id); !ok || tx.State != StateRecording {
		t.Fatalf("Get after Create = %+v, %v", tx, ok)
	}

	var order []string
	for _, h := range []string{"a", "b", "c"} {
		if !m.AddAction(id, h, func() error { order = append(order, h); return nil }) {
			t.Fatalf("AddAction(%s) = false", h)
		}
		if !m.AddSnapshot(id, h, map[string]any{"hook": h}) {
			t.Fatalf("AddSnapshot(%s) = false", h)
		}
	}

	ok, err := m.Rollback(id)
	if !ok || err != nil {
		t.Fatalf("Rollback = %v, %v", ok, err)
	}
	if !slices.Equal(order, []string{"c", "b", "a"}) {
		t.Errorf("order = %v, want [c b a]", order)
	}

	tx, found := m.Get(id)
	if !found || tx.State != StateRolledBack || tx.Actions != 3 || len(tx.Snapshots) != 3 {
		t.Errorf("finished tx = %+v", tx)
	}
	if m.Active() != 0 {
		t.Errorf("Active = %d, want 0", m.Active())
	}
}

func TestRollbackAggregatesFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	m := NewManager(WithLogger(zap.New(core)))
	id := m.Create(ScopeTriggerGroup, nil)

	ran := 0
	m.AddAction(id, "first", func() error { ran++; return nil })
	m.AddAction(id, "boom", func() error { ran++; return errors.New("disk full") })
	m.AddAction(id, "panicky", func() error { ran++; panic("nil map") })

	ok, err := m.Rollback(id)
	if ok {
		t.Fatal("Rollback reported success despite failures")
	}
	if ran != 3 {
		t.Errorf("ran %d actions, want 3", ran)
	}
	if !errors.Is(err, ErrCallback) {
		t.Errorf("err = %v, want ErrCallback", err)
	}
	errs := multierr.Errors(err)
	if len(errs) != 2 {
		t.Fatalf("errors = %v, want 2", errs)
	}
	var cerr *CallbackError
	if !errors.As(errs[0], &cerr) || cerr.Hook != "panicky" || cerr.TxID != id {
		t.Errorf("first failure = %v", errs[0])
	}
	if logs.FilterMessage("rollback action failed").Len() != 2 {
		t.Errorf("logged %d failures, want 2", logs.Len())
	}

	tx, _ := m.Get(id)
	if tx.Failures != 2 || tx.Err == "" {
		t.Errorf("tx = %+v", tx)
	}
}

func TestRollbackIdempotent(t *testing.T) {
	m := NewManager()
	id := m.Create(ScopeSingleHook, []string{"a"})
	var runs int
	m.AddAction(id, "a", func() error { runs++; return nil })

	if ok, _ := m.Rollback(id); !ok {
		t.Fatal("first Rollback failed")
	}
	for i := 0; i < 3; i++ {
		if ok, err := m.Rollback(id); ok || err != nil {
			t.Errorf("repeat Rollback = %v, %v", ok, err)
		}
	}
	if runs != 1 {
		t.Errorf("action ran %d times", runs)
	}
	if ok, err := m.Rollback("no-such-tx"); ok || err != nil {
		t.Errorf("unknown Rollback = %v, %v", ok, err)
	}
	if m.Commit(id) {
		t.Error("Commit after Rollback should fail")
	}
	if m.AddAction(id, "late", func() error { return nil }) {
		t.Error("AddAction after Rollback should fail")
	}
}

func TestCommitDiscardsActions(t *testing.T) {
	m := NewManager()
	id := m.Create(ScopeSystemWide, nil)
	m.AddAction(id, "a", func() error { t.Error("committed action ran"); return nil })
	if !m.Commit(id) {
		t.Fatal("Commit = false")
	}
	if ok, _ := m.Rollback(id); ok {
		t.Error("Rollback after Commit should do nothing")
	}
	if m.AddSnapshot(id, "a", nil) {
		t.Error("AddSnapshot after Commit should fail")
	}
	if tx, _ := m.Get(id); tx.State != StateCommitted {
		t.Errorf("State = %s", tx.State)
	}
}

func TestConcurrentRollbackRunsOnce(t *testing.T) {
	m := NewManager()
	id := m.Create(ScopeTriggerGroup, nil)
	var runs atomic.Int32
	for i := 0; i < 10; i++ {
		m.AddAction(id, fmt.Sprintf("h%d", i), func() error { runs.Add(1); return nil })
	}

	var (
		wg  sync.WaitGroup
		won atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Rollback(id); ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 || runs.Load() != 10 {
		t.Errorf("won=%d runs=%d, want 1 and 10", won.Load(), runs.Load())
	}
}

func TestHistoryRing(t *testing.T) {
	m := NewManager(WithHistoryLimit(3))
	var ids []string
	for i := 0; i < 5; i++ {
		id := m.Create(ScopeSingleHook, nil)
		m.Commit(id)
		ids = append(ids, id)
	}
	h := m.History(0)
	if len(h) != 3 {
		t.Fatalf("History len = %d, want 3", len(h))
	}
	got := []string{h[0].ID, h[1].ID, h[2].ID}
	if !slices.Equal(got, []string{ids[4], ids[3], ids[2]}) {
		t.Errorf("History = %v, want newest three", got)
	}
	if len(m.History(1)) != 1 {
		t.Error("History(1) should return one entry")
	}
	if _, ok := m.Get(ids[0]); ok {
		t.Error("evicted transaction still visible")
	}
}

func TestParseScope(t *testing.T) {
	for _, s := range Scopes {
		if got, err := ParseScope(string(s)); err != nil || got != s {
			t.Errorf("ParseScope(%q) = %q, %v", s, got, err)
		}
	}
	if _, err := ParseScope("galaxy"); err == nil {
		t.Error("expected error for unknown scope")
	}
}

func TestSQLJournal(t *testing.T) {
	db, err := store.OpenPath(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	j := NewSQLJournal(db.Conn())
	m := NewManager(WithJournal(j))
	committed := m.CreateFor("deploy", ScopeTriggerGroup, []string{"a", "b"})
	m.Commit(committed)
	rolled := m.CreateFor("deploy", ScopeTriggerGroup, []string{"c"})
	m.AddAction(rolled, "c", func() error { return errors.New("nope") })
	m.Rollback(rolled)

	got, err := j.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent = %d rows, want 2", len(got))
	}
	byID := map[string]Transaction{got[0].ID: got[0], got[1].ID: got[1]}
	if c := byID[committed]; c.State != StateCommitted || !slices.Equal(c.Hooks, []string{"a", "b"}) || c.Trigger != "deploy" {
		t.Errorf("committed row = %+v", c)
	}
	if r := byID[rolled]; r.State != StateRolledBack || r.Failures != 1 || r.Actions != 1 || r.Err == "" {
		t.Errorf("rolled back row = %+v", r)
	}
}

func TestPropertyRollbackIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fails := rapid.SliceOfN(rapid.Bool(), 0, 10).Draw(t, "fails")
		m := NewManager()
		id := m.Create(ScopeTriggerGroup, nil)
		runs := make([]int, len(fails))
		for i, fail := range fails {
			m.AddAction(id, fmt.Sprintf("h%d", i), func() error {
				runs[i]++
				if fail {
					return errors.New("failed")
				}
				return nil
			})
		}

		ok, err := m.Rollback(id)
		wantOK := !slices.Contains(fails, true)
		if ok != wantOK || (err == nil) != wantOK {
			t.Fatalf("Rollback = %v, %v with fails %v", ok, err, fails)
		}
		for n := rapid.IntRange(1, 3).Draw(t, "repeats"); n > 0; n-- {
			if ok, err := m.Rollback(id); ok || err != nil {
				t.Fatalf("repeat Rollback = %v, %v", ok, err)
			}
		}
		for i, r := range runs {
			if r != 1 {
				t.Fatalf("action %d ran %d times", i, r)
			}
		}
	})
}
