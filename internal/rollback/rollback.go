// Package rollback records compensation actions while hooks run and replays
// them in reverse when an execution has to be undone.
package rollback

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// State is the lifecycle position of a transaction.
type State string

const (
	StateCreated    State = "created"
	StateRecording  State = "recording"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// Scope describes what a transaction covers. It is recorded, not enforced.
type Scope string

const (
	ScopeSingleHook      Scope = "single_hook"
	ScopeDependencyChain Scope = "dependency_chain"
	ScopeTriggerGroup    Scope = "trigger_group"
	ScopeSystemWide      Scope = "system_wide"
)

// Scopes lists every known scope.
var Scopes = []Scope{ScopeSingleHook, ScopeDependencyChain, ScopeTriggerGroup, ScopeSystemWide}

// ParseScope converts a string to a Scope.
func ParseScope(s string) (Scope, error) {
	sc := Scope(s)
	if slices.Contains(Scopes, sc) {
		return sc, nil
	}
	return "", fmt.Errorf("unknown rollback scope: %s", s)
}

// DefaultHistoryLimit bounds the finished-transaction ring.
const DefaultHistoryLimit = 1000

// ErrCallback matches every *CallbackError.
var ErrCallback = errors.New("rollback action failed")

// CallbackError is one failed compensation action.
type CallbackError struct {
	TxID string
	Hook string
	Err  error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("rollback %s: compensating %s: %v", e.TxID, e.Hook, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

func (e *CallbackError) Is(target error) bool { return target == ErrCallback }

// Snapshot is opaque state captured after a hook completed.
type Snapshot struct {
	Hook    string    `json:"hook"`
	State   any       `json:"state,omitempty"`
	TakenAt time.Time `json:"taken_at"`
}

// Transaction is a read-only view of a transaction.
type Transaction struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger,omitempty"`
	Scope      Scope      `json:"scope"`
	Hooks      []string   `json:"hooks"`
	State      State      `json:"state"`
	Snapshots  []Snapshot `json:"snapshots,omitempty"`
	Actions    int        `json:"actions"`
	Failures   int        `json:"failures"`
	Err        string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt time.Time  `json:"finished_at,omitzero"`
}

type action struct {
	hook string
	fn   func() error
}

type tx struct {
	mu      sync.Mutex
	info    Transaction
	actions []action
}

func (t *tx) view() Transaction {
	v := t.info
	v.Hooks = slices.Clone(t.info.Hooks)
	v.Snapshots = slices.Clone(t.info.Snapshots)
	v.Actions = len(t.actions)
	return v
}

// Journal receives every finished transaction.
type Journal interface {
	Record(Transaction) error
}

// Manager owns all transactions. Safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	active map[string]*tx

	ring  []Transaction
	next  int
	limit int

	journal Journal
	logger  *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithJournal persists finished transactions.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithHistoryLimit sets how many finished transactions History keeps.
func WithHistoryLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		active: make(map[string]*tx),
		limit:  DefaultHistoryLimit,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a transaction in the recording state and returns its id.
func (m *Manager) Create(scope Scope, hooks []string) string {
	return m.CreateFor("", scope, hooks)
}

// CreateFor is Create with the trigger the transaction belongs to.
func (m *Manager) CreateFor(trigger string, scope Scope, hooks []string) string {
	t := &tx{info: Transaction{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Scope:     scope,
		Hooks:     slices.Clone(hooks),
		State:     StateCreated,
		CreatedAt: time.Now(),
	}}
	t.info.State = StateRecording

	m.mu.Lock()
	m.active[t.info.ID] = t
	m.mu.Unlock()

	m.logger.Debug("rollback transaction created",
		zap.String("tx", t.info.ID),
		zap.String("scope", string(scope)),
		zap.Strings("hooks", hooks),
	)
	return t.info.ID
}

// AddSnapshot stores state for hook. It returns false unless the
// transaction exists and is recording.
func (m *Manager) AddSnapshot(id, hook string, state any) bool {
	t := m.lookup(id)
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.info.State != StateRecording {
		return false
	}
	t.info.Snapshots = append(t.info.Snapshots, Snapshot{Hook: hook, State: state, TakenAt: time.Now()})
	return true
}

// AddAction registers a compensation for hook. Actions run in reverse
// registration order on rollback. It returns false unless the transaction
// exists and is recording.
func (m *Manager) AddAction(id, hook string, fn func() error) bool {
	if fn == nil {
		return false
	}
	t := m.lookup(id)
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.info.State != StateRecording {
		return false
	}
	t.actions = append(t.actions, action{hook: hook, fn: fn})
	return true
}

// Rollback runs every registered action newest first. A failing or
// panicking action does not stop the others; each failure is returned as a
// *CallbackError combined with multierr. ok is true only when every action
// succeeded. Unknown or already finished ids return false and no error.
func (m *Manager) Rollback(id string) (ok bool, err error) {
	t := m.take(id)
	if t == nil {
		return false, nil
	}

	t.mu.Lock()
	actions := t.actions
	failures := 0
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		if aerr := call(a.fn); aerr != nil {
			failures++
			cerr := &CallbackError{TxID: id, Hook: a.hook, Err: aerr}
			m.logger.Error("rollback action failed",
				zap.String("tx", id),
				zap.String("hook", a.hook),
				zap.Error(aerr),
			)
			err = multierr.Append(err, cerr)
		}
	}
	t.info.State = StateRolledBack
	t.info.Failures = failures
	if err != nil {
		t.info.Err = err.Error()
	}
	t.info.FinishedAt = time.Now()
	view := t.view()
	t.mu.Unlock()

	m.finish(view)
	m.logger.Info("rolled back",
		zap.String("tx", id),
		zap.Int("actions", len(actions)),
		zap.Int("failures", failures),
	)
	return err == nil, err
}

// Commit closes a recording transaction without running its actions.
func (m *Manager) Commit(id string) bool {
	t := m.take(id)
	if t == nil {
		return false
	}
	t.mu.Lock()
	t.info.State = StateCommitted
	t.info.FinishedAt = time.Now()
	view := t.view()
	t.actions = nil
	t.mu.Unlock()

	m.finish(view)
	return true
}

// Get returns the transaction with id, active or finished.
func (m *Manager) Get(id string) (Transaction, bool) {
	if t := m.lookup(id); t != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.view(), true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.ring {
		if v.ID == id {
			return v, true
		}
	}
	return Transaction{}, false
}

// Active returns the number of open transactions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// History returns up to limit finished transactions, newest first.
// limit <= 0 returns all of them.
func (m *Manager) History(limit int) []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.ring)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Transaction, 0, limit)
	for i := 1; i <= limit; i++ {
		out = append(out, m.ring[(m.next-i+n)%n])
	}
	return out
}

func (m *Manager) lookup(id string) *tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[id]
}

// take removes id from the active set. Only one caller wins.
func (m *Manager) take(id string) *tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	if !ok {
		return nil
	}
	delete(m.active, id)
	return t
}

func (m *Manager) finish(v Transaction) {
	m.mu.Lock()
	if len(m.ring) < m.limit {
		m.ring = append(m.ring, v)
		m.next = len(m.ring) % m.limit
	} else {
		m.ring[m.next] = v
		m.next = (m.next + 1) % m.limit
	}
	m.mu.Unlock()

	if m.journal != nil {
		if err := m.journal.Record(v); err != nil {
			m.logger.Warn("journaling rollback transaction", zap.String("tx", v.ID), zap.Error(err))
		}
	}
}

func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
