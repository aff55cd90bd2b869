package hook

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a hook name is not registered.
var ErrNotFound = errors.New("hook not found")

// ErrUnknownHook matches any UnknownHookError.
var ErrUnknownHook = errors.New("unknown or inactive hook")

// UnknownHookError lists requested hooks that are missing or inactive.
type UnknownHookError struct {
	Names []string
}

func (e *UnknownHookError) Error() string {
	return fmt.Sprintf("unknown or inactive hooks: %s", strings.Join(e.Names, ", "))
}

// Is makes errors.Is(err, ErrUnknownHook) work.
func (e *UnknownHookError) Is(target error) bool {
	return target == ErrUnknownHook
}

// ResolveActive looks up every name, failing with an UnknownHookError that
// lists all missing or inactive ones. Duplicate names are collapsed.
func ResolveActive(s Store, names []string) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(names))
	seen := make(map[string]bool, len(names))
	var unknown []string
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		d, err := s.Hook(name)
		if err != nil || !d.Active() {
			unknown = append(unknown, name)
			continue
		}
		out = append(out, d)
	}
	if len(unknown) > 0 {
		return nil, &UnknownHookError{Names: unknown}
	}
	return out, nil
}

// Store is the read side of the hook metadata store.
type Store interface {
	// Hook returns the descriptor for name or an error matching ErrNotFound.
	Hook(name string) (Descriptor, error)
	// ActiveHooks returns every active hook in registration order.
	ActiveHooks() []Descriptor
}

// Registry holds registered hook descriptors.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]Descriptor
	next  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]Descriptor)}
}

// Register validates d and adds it, stamping its registration order.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("hook name is required")
	}
	if _, err := ParsePriority(string(d.Priority)); err != nil {
		return fmt.Errorf("hook %q: %w", d.Name, err)
	}
	state, err := ParseState(string(d.State))
	if err != nil {
		return fmt.Errorf("hook %q: %w", d.Name, err)
	}
	d.State = state
	if _, err := ParsePhase(string(d.Phase)); err != nil {
		return fmt.Errorf("hook %q: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks == nil {
		r.hooks = make(map[string]Descriptor)
	}
	if _, ok := r.hooks[d.Name]; ok {
		return fmt.Errorf("hook %q already registered", d.Name)
	}
	d.Order = r.next
	r.next++
	r.hooks[d.Name] = d
	return nil
}

// Unregister removes a hook. It reports whether the hook existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.hooks[name]
	delete(r.hooks, name)
	return ok
}

// Hook returns the descriptor for name.
func (r *Registry) Hook(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.hooks[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return d, nil
}

// All returns every registered hook in registration order.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.hooks))
	for _, d := range r.hooks {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

// ActiveHooks returns active hooks in registration order.
func (r *Registry) ActiveHooks() []Descriptor {
	var out []Descriptor
	for _, d := range r.All() {
		if d.Active() {
			out = append(out, d)
		}
	}
	return out
}

// ForTrigger returns the active hooks bound to trigger.
func (r *Registry) ForTrigger(trigger string) []Descriptor {
	var out []Descriptor
	for _, d := range r.ActiveHooks() {
		if d.HandlesTrigger(trigger) {
			out = append(out, d)
		}
	}
	return out
}

// Count returns the number of registered hooks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}
