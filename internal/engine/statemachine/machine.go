// Package statemachine implements a declarative guarded finite state
// machine. A Machine owns its states, per-event transition rules and
// ordered hook lists as plain data; entities are passed into Fire by
// reference, so one Machine is safely shared by concurrent callers.
package statemachine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// State is a declared machine state. The Value is a stable small
// integer that is persisted; the Name is for humans.
type State struct {
	Name  string
	Value int
}

// Args carries arbitrary event arguments consumed by hooks.
type Args map[string]any

// Stateful is the minimal entity contract: expose and update the
// current state value. Persistence happens through the machine's
// persist callback, not through this interface.
type Stateful interface {
	StateValue() int
	SetStateValue(v int)
}

// Transition describes the change a hook is observing.
type Transition struct {
	Event string
	From  State
	To    State
	Args  Args
}

// HookFunc observes or guards a transition. A before hook returning a
// non-nil error blocks the transition; an after hook error propagates
// to the caller but the state change has already been applied.
type HookFunc func(ctx context.Context, e Stateful, tr Transition) error

// PersistFunc writes the entity's new state to durable storage. It
// runs inside whatever transaction scope the caller opened.
type PersistFunc func(ctx context.Context, e Stateful) error

type rule struct {
	from []State
	to   State
}

type hook struct {
	event    string // empty means any event
	requires []string
	fn       HookFunc
}

// Machine is a reusable machine definition. Declaration methods panic
// on inconsistent definitions (unknown state names, duplicate values)
// since machine tables are static program data; Fire reports runtime
// failures as errors.
type Machine struct {
	name    string
	initial State
	states  []State
	byName  map[string]State
	byValue map[int]State
	events  []string
	rules   map[string][]rule
	before  []hook
	after   []hook
	persist PersistFunc
}

// New creates an empty machine definition.
func New(name string) *Machine {
	return &Machine{
		name:    name,
		byName:  map[string]State{},
		byValue: map[int]State{},
		rules:   map[string][]rule{},
	}
}

// Name returns the machine name, used in error and log output.
func (m *Machine) Name() string { return m.name }

// WithPersist sets the callback that persists an entity's state column
// after a successful transition, before any after hooks run.
func (m *Machine) WithPersist(fn PersistFunc) *Machine {
	m.persist = fn
	return m
}

// AddState declares a state. The first declared state is the initial
// state unless SetInitial overrides it.
func (m *Machine) AddState(name string, value int) *Machine {
	if _, ok := m.byName[name]; ok {
		panic(fmt.Sprintf("statemachine %s: duplicate state name %q", m.name, name))
	}
	if _, ok := m.byValue[value]; ok {
		panic(fmt.Sprintf("statemachine %s: duplicate state value %d", m.name, value))
	}
	s := State{Name: name, Value: value}
	m.states = append(m.states, s)
	m.byName[name] = s
	m.byValue[value] = s
	if len(m.states) == 1 {
		m.initial = s
	}
	return m
}

// SetInitial marks the named state as the initial state.
func (m *Machine) SetInitial(name string) *Machine {
	m.initial = m.mustState(name)
	return m
}

// AddTransition appends a transition rule for the event: any of the
// from states may move to the to state. Rules are matched in the order
// they were added; the first rule covering the entity's current state
// wins.
func (m *Machine) AddTransition(event string, from []string, to string) *Machine {
	fromStates := make([]State, 0, len(from))
	for _, name := range from {
		fromStates = append(fromStates, m.mustState(name))
	}
	if _, ok := m.rules[event]; !ok {
		m.events = append(m.events, event)
	}
	m.rules[event] = append(m.rules[event], rule{from: fromStates, to: m.mustState(to)})
	return m
}

// HookOption configures a registered hook.
type HookOption func(*hook)

// Requires declares argument keys the event must carry. A missing key
// fails the transition before any hook or side effect runs.
func Requires(keys ...string) HookOption {
	return func(h *hook) { h.requires = append(h.requires, keys...) }
}

// BeforeEvent registers a guard for one event. Guards run in
// registration order; the first failure aborts the transition.
func (m *Machine) BeforeEvent(event string, fn HookFunc, opts ...HookOption) *Machine {
	m.before = append(m.before, newHook(event, fn, opts))
	return m
}

// Before registers a guard that runs for every event, after the
// event-specific guards.
func (m *Machine) Before(fn HookFunc, opts ...HookOption) *Machine {
	m.before = append(m.before, newHook("", fn, opts))
	return m
}

// AfterEvent registers an after hook for one event. After hooks run
// once the state change has been applied and persisted.
func (m *Machine) AfterEvent(event string, fn HookFunc, opts ...HookOption) *Machine {
	m.after = append(m.after, newHook(event, fn, opts))
	return m
}

// After registers an after hook that runs for every event, after the
// event-specific after hooks.
func (m *Machine) After(fn HookFunc, opts ...HookOption) *Machine {
	m.after = append(m.after, newHook("", fn, opts))
	return m
}

func newHook(event string, fn HookFunc, opts []HookOption) hook {
	h := hook{event: event, fn: fn}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// Fire drives the entity through the event inside the caller's
// transaction scope.
//
// Failure modes, in evaluation order:
//   - *IllegalTransitionError if no rule matches the current state
//   - *MissingArgumentError if a declared required argument is absent
//   - *GuardError if a before hook fails; state is untouched
//   - a persist error; the in-memory state value is restored
//   - *HookError if an after hook fails; the state change has already
//     been applied and is only undone if the caller's transaction
//     rolls back.
func (m *Machine) Fire(ctx context.Context, e Stateful, event string, args Args) (State, error) {
	current, ok := m.byValue[e.StateValue()]
	if !ok {
		return State{}, fmt.Errorf("statemachine %s: unknown state value %d", m.name, e.StateValue())
	}

	target, ok := m.match(event, current)
	if !ok {
		return State{}, &IllegalTransitionError{Machine: m.name, State: current, Event: event}
	}

	if args == nil {
		args = Args{}
	}
	tr := Transition{Event: event, From: current, To: target, Args: args}

	befores := selectHooks(m.before, event)
	afters := selectHooks(m.after, event)

	for _, h := range append(append([]hook{}, befores...), afters...) {
		for _, key := range h.requires {
			if _, ok := args[key]; !ok {
				return State{}, &MissingArgumentError{Event: event, Key: key}
			}
		}
	}

	for _, h := range befores {
		if err := h.fn(ctx, e, tr); err != nil {
			var guardErr *GuardError
			if errors.As(err, &guardErr) {
				return State{}, err
			}
			return State{}, &GuardError{Event: event, Err: err}
		}
	}

	e.SetStateValue(target.Value)
	if m.persist != nil {
		if err := m.persist(ctx, e); err != nil {
			e.SetStateValue(current.Value)
			return State{}, fmt.Errorf("failed to persist %s state: %w", m.name, err)
		}
	}

	for _, h := range afters {
		if err := h.fn(ctx, e, tr); err != nil {
			return target, &HookError{Event: event, Err: err}
		}
	}

	return target, nil
}

// CanFire reports whether the event is legal from the entity's current
// state, without running any hooks.
func (m *Machine) CanFire(e Stateful, event string) bool {
	current, ok := m.byValue[e.StateValue()]
	if !ok {
		return false
	}
	_, ok = m.match(event, current)
	return ok
}

// match finds the first rule for the event covering the current state.
func (m *Machine) match(event string, current State) (State, bool) {
	for _, r := range m.rules[event] {
		for _, from := range r.from {
			if from.Value == current.Value {
				return r.to, true
			}
		}
	}
	return State{}, false
}

// selectHooks returns the hooks applicable to the event: the
// event-specific ones first, then the any-event ones, each group in
// registration order.
func selectHooks(hooks []hook, event string) []hook {
	var selected []hook
	for _, h := range hooks {
		if h.event == event {
			selected = append(selected, h)
		}
	}
	for _, h := range hooks {
		if h.event == "" {
			selected = append(selected, h)
		}
	}
	return selected
}

// Initial returns the initial state of the machine.
func (m *Machine) Initial() State { return m.initial }

// States returns the declared states in declaration order.
func (m *Machine) States() []State {
	out := make([]State, len(m.states))
	copy(out, m.states)
	return out
}

// StateNames returns the declared state names in declaration order.
func (m *Machine) StateNames() []string {
	names := make([]string, 0, len(m.states))
	for _, s := range m.states {
		names = append(names, s.Name)
	}
	return names
}

// Events returns the declared events in declaration order.
func (m *Machine) Events() []string {
	out := make([]string, len(m.events))
	copy(out, m.events)
	return out
}

// StateByName looks a state up by name.
func (m *Machine) StateByName(name string) (State, bool) {
	s, ok := m.byName[name]
	return s, ok
}

// StateByValue looks a state up by persisted value.
func (m *Machine) StateByValue(value int) (State, bool) {
	s, ok := m.byValue[value]
	return s, ok
}

// StateOption is a display label / persisted value pair for selection
// scopes and reporting surfaces.
type StateOption struct {
	Label string
	Value int
}

// StateCollection returns every state as a titleized label and its
// persisted value, in declaration order.
func (m *Machine) StateCollection() []StateOption {
	opts := make([]StateOption, 0, len(m.states))
	for _, s := range m.states {
		opts = append(opts, StateOption{Label: titleize(s.Name), Value: s.Value})
	}
	return opts
}

// titleize turns "payment_erred" into "Payment Erred".
func titleize(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func (m *Machine) mustState(name string) State {
	s, ok := m.byName[name]
	if !ok {
		panic(fmt.Sprintf("statemachine %s: unknown state %q", m.name, name))
	}
	return s
}
