// Package hook describes the hooks hooksched schedules.
//
// A hook is declared once (name, priority class, dependencies, capabilities,
// triggers) and stored in a Registry. The scheduler only ever reads these
// descriptors; running a hook is delegated to a Runner.
package hook

import (
	"fmt"
	"slices"
	"time"
)

// Priority is the static priority class of a hook.
type Priority string

const (
	PriorityCritical    Priority = "critical"
	PriorityHigh        Priority = "high"
	PriorityNormal      Priority = "normal"
	PriorityLow         Priority = "low"
	PriorityMaintenance Priority = "maintenance"
)

// AllPriorities lists the classes from most to least important.
var AllPriorities = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityMaintenance}

// Rank returns 0 for critical up to 4 for maintenance. Unknown classes rank last.
func (p Priority) Rank() int {
	if i := slices.Index(AllPriorities, p); i >= 0 {
		return i
	}
	return len(AllPriorities)
}

// State is the activation state of a hook.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
)

// Phase is the execution phase a batch belongs to.
type Phase string

const (
	PhasePreValidation  Phase = "pre_validation"
	PhaseInitialization Phase = "initialization"
	PhaseCoreProcessing Phase = "core_processing"
	PhasePostProcessing Phase = "post_processing"
	PhaseCleanup        Phase = "cleanup"
	// PhaseMaintenance is out of band: it never comes from level inference.
	PhaseMaintenance Phase = "maintenance"
)

// OrderedPhases is the in-band phase sequence.
var OrderedPhases = []Phase{
	PhasePreValidation,
	PhaseInitialization,
	PhaseCoreProcessing,
	PhasePostProcessing,
	PhaseCleanup,
}

// Rank orders phases; maintenance sorts after cleanup.
func (p Phase) Rank() int {
	if i := slices.Index(OrderedPhases, p); i >= 0 {
		return i
	}
	return len(OrderedPhases)
}

// PhaseForLevel maps a topological level onto the in-band phases.
func PhaseForLevel(level int) Phase {
	if level < 0 {
		level = 0
	}
	if level >= len(OrderedPhases) {
		return PhaseCleanup
	}
	return OrderedPhases[level]
}

// Resources is the estimated footprint of one running hook.
type Resources struct {
	CPUPercent float64 `toml:"cpu_percent" yaml:"cpu_percent" json:"cpu_percent"`
	MemoryMB   float64 `toml:"memory_mb" yaml:"memory_mb" json:"memory_mb"`
}

// Default resource estimates for hooks that don't declare any.
const (
	DefaultCPUPercent = 10
	DefaultMemoryMB   = 50
)

// Add returns the element-wise sum.
func (r Resources) Add(o Resources) Resources {
	return Resources{CPUPercent: r.CPUPercent + o.CPUPercent, MemoryMB: r.MemoryMB + o.MemoryMB}
}

// Descriptor is the static metadata of one hook.
type Descriptor struct {
	Name          string
	Priority      Priority
	Dependencies  []string
	Provides      []string
	Tags          []string
	Triggers      []string
	State         State
	Phase         Phase // optional
	ConflictGroup string
	Resources     Resources
	Timeout       time.Duration // zero means the scheduler default
	Exec          string
	Compensate    string
	// Order is assigned by the Registry on registration.
	Order int
}

// Active reports whether the hook takes part in planning.
func (d Descriptor) Active() bool {
	return d.State == StateActive
}

// HandlesTrigger reports whether the hook is bound to trigger.
func (d Descriptor) HandlesTrigger(trigger string) bool {
	return slices.Contains(d.Triggers, trigger)
}

// EffectiveResources fills in defaults for undeclared estimates.
func (d Descriptor) EffectiveResources() Resources {
	r := d.Resources
	if r.CPUPercent <= 0 {
		r.CPUPercent = DefaultCPUPercent
	}
	if r.MemoryMB <= 0 {
		r.MemoryMB = DefaultMemoryMB
	}
	return r
}

// tagPhases maps classification tags onto phases when none is declared.
var tagPhases = []struct {
	tag   string
	phase Phase
}{
	{"validation", PhasePreValidation},
	{"initialization", PhaseInitialization},
	{"setup", PhaseInitialization},
	{"post_process", PhasePostProcessing},
	{"cleanup", PhaseCleanup},
	{"teardown", PhaseCleanup},
	{"maintenance", PhaseMaintenance},
}

// DeclaredPhase returns the declared phase, or one inferred from tags.
// ok is false when the hook says nothing about its phase.
func (d Descriptor) DeclaredPhase() (Phase, bool) {
	if d.Phase != "" {
		return d.Phase, true
	}
	for _, tp := range tagPhases {
		if slices.Contains(d.Tags, tp.tag) {
			return tp.phase, true
		}
	}
	return "", false
}

// PrimaryTag is the category used for optimizer grouping.
func (d Descriptor) PrimaryTag() string {
	if len(d.Tags) == 0 {
		return ""
	}
	return d.Tags[0]
}

// ParsePriority converts a string to a Priority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if p.Rank() == len(AllPriorities) {
		return "", fmt.Errorf("unknown priority: %s", s)
	}
	return p, nil
}

// ParseState converts a string to a State. Empty means active.
func ParseState(s string) (State, error) {
	switch State(s) {
	case "", StateActive:
		return StateActive, nil
	case StateInactive:
		return StateInactive, nil
	default:
		return "", fmt.Errorf("unknown state: %s", s)
	}
}

// ParsePhase converts a string to a Phase. Empty is allowed and means "not declared".
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if p == "" || p == PhaseMaintenance || slices.Contains(OrderedPhases, p) {
		return p, nil
	}
	return "", fmt.Errorf("unknown phase: %s", s)
}

// DefaultTimeout is applied when neither the hook nor its phase sets one.
const DefaultTimeout = 30 * time.Second
