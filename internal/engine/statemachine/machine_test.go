package statemachine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ticket struct {
	state int
}

func (t *ticket) StateValue() int     { return t.state }
func (t *ticket) SetStateValue(v int) { t.state = v }

func newTicketMachine() *Machine {
	return New("ticket").
		AddState("open", 0).
		AddState("assigned", 1).
		AddState("closed", 2).
		AddState("rejected", -1).
		AddTransition("assign", []string{"open"}, "assigned").
		AddTransition("close", []string{"open", "assigned"}, "closed").
		AddTransition("reject", []string{"open"}, "rejected")
}

func TestFire(t *testing.T) {
	m := newTicketMachine()
	e := &ticket{}

	to, err := m.Fire(context.Background(), e, "assign", nil)
	require.NoError(t, err)
	assert.Equal(t, "assigned", to.Name)
	assert.Equal(t, 1, e.state)

	to, err = m.Fire(context.Background(), e, "close", nil)
	require.NoError(t, err)
	assert.Equal(t, "closed", to.Name)
	assert.Equal(t, 2, e.state)
}

func TestFireIllegalTransition(t *testing.T) {
	m := newTicketMachine()
	e := &ticket{state: 2} // closed

	_, err := m.Fire(context.Background(), e, "assign", nil)

	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, "ticket", illegal.Machine)
	assert.Equal(t, "closed", illegal.State.Name)
	assert.Equal(t, "assign", illegal.Event)
	assert.Equal(t, 2, e.state)
}

func TestFireUnknownStateValue(t *testing.T) {
	m := newTicketMachine()
	e := &ticket{state: 99}

	_, err := m.Fire(context.Background(), e, "assign", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown state value")
}

func TestFireFirstMatchingRuleWins(t *testing.T) {
	m := New("doc").
		AddState("draft", 0).
		AddState("review", 1).
		AddState("published", 2).
		AddTransition("advance", []string{"draft"}, "review").
		AddTransition("advance", []string{"draft", "review"}, "published")

	e := &ticket{state: 0}
	to, err := m.Fire(context.Background(), e, "advance", nil)
	require.NoError(t, err)
	assert.Equal(t, "review", to.Name)
}

func TestGuardBlocksTransition(t *testing.T) {
	guardErr := errors.New("not allowed")
	m := newTicketMachine().
		BeforeEvent("assign", func(ctx context.Context, e Stateful, tr Transition) error {
			return guardErr
		})

	e := &ticket{}
	_, err := m.Fire(context.Background(), e, "assign", nil)

	var guard *GuardError
	require.ErrorAs(t, err, &guard)
	assert.ErrorIs(t, err, guardErr)
	assert.Equal(t, 0, e.state, "state must be untouched when a guard fails")
}

func TestGuardErrorNotDoubleWrapped(t *testing.T) {
	inner := errors.New("bid does not belong to job")
	m := newTicketMachine().
		BeforeEvent("assign", func(ctx context.Context, e Stateful, tr Transition) error {
			return &GuardError{Event: tr.Event, Err: inner}
		})

	_, err := m.Fire(context.Background(), &ticket{}, "assign", nil)

	var guard *GuardError
	require.ErrorAs(t, err, &guard)
	assert.ErrorIs(t, guard.Err, inner)
}

func TestHookOrdering(t *testing.T) {
	var calls []string
	record := func(name string) HookFunc {
		return func(ctx context.Context, e Stateful, tr Transition) error {
			calls = append(calls, name)
			return nil
		}
	}

	m := newTicketMachine().
		Before(record("before-any")).
		BeforeEvent("assign", record("before-assign")).
		After(record("after-any")).
		AfterEvent("assign", record("after-assign"))

	_, err := m.Fire(context.Background(), &ticket{}, "assign", nil)
	require.NoError(t, err)

	// Event-specific hooks run before any-event hooks regardless of
	// registration order.
	assert.Equal(t, []string{"before-assign", "before-any", "after-assign", "after-any"}, calls)
}

func TestHookOnlyRunsForItsEvent(t *testing.T) {
	var calls int
	m := newTicketMachine().
		BeforeEvent("reject", func(ctx context.Context, e Stateful, tr Transition) error {
			calls++
			return nil
		})

	_, err := m.Fire(context.Background(), &ticket{}, "assign", nil)
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestMissingRequiredArgument(t *testing.T) {
	var guardRan bool
	m := newTicketMachine().
		BeforeEvent("assign", func(ctx context.Context, e Stateful, tr Transition) error {
			guardRan = true
			return nil
		}, Requires("assignee"))

	e := &ticket{}
	_, err := m.Fire(context.Background(), e, "assign", nil)

	var missing *MissingArgumentError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "assignee", missing.Key)
	assert.False(t, guardRan, "required args are checked before any hook runs")
	assert.Equal(t, 0, e.state)
}

func TestRequiredArgumentPresent(t *testing.T) {
	var got any
	m := newTicketMachine().
		BeforeEvent("assign", func(ctx context.Context, e Stateful, tr Transition) error {
			got = tr.Args["assignee"]
			return nil
		}, Requires("assignee"))

	_, err := m.Fire(context.Background(), &ticket{}, "assign", Args{"assignee": "u-1"})
	require.NoError(t, err)
	assert.Equal(t, "u-1", got)
}

func TestPersistFailureRestoresState(t *testing.T) {
	persistErr := errors.New("connection reset")
	m := newTicketMachine().
		WithPersist(func(ctx context.Context, e Stateful) error {
			return persistErr
		})

	e := &ticket{}
	_, err := m.Fire(context.Background(), e, "assign", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, persistErr)
	assert.Equal(t, 0, e.state, "in-memory state rolls back when persist fails")
}

func TestPersistRunsBeforeAfterHooks(t *testing.T) {
	var order []string
	m := newTicketMachine().
		WithPersist(func(ctx context.Context, e Stateful) error {
			order = append(order, "persist")
			return nil
		}).
		AfterEvent("assign", func(ctx context.Context, e Stateful, tr Transition) error {
			order = append(order, "after")
			return nil
		})

	_, err := m.Fire(context.Background(), &ticket{}, "assign", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"persist", "after"}, order)
}

func TestAfterHookFailureKeepsState(t *testing.T) {
	hookErr := errors.New("notification write failed")
	m := newTicketMachine().
		AfterEvent("assign", func(ctx context.Context, e Stateful, tr Transition) error {
			return hookErr
		})

	e := &ticket{}
	to, err := m.Fire(context.Background(), e, "assign", nil)

	var hook *HookError
	require.ErrorAs(t, err, &hook)
	assert.ErrorIs(t, err, hookErr)
	assert.Equal(t, "assigned", to.Name)
	assert.Equal(t, 1, e.state, "after-hook failures do not undo the applied transition")
}

func TestCanFire(t *testing.T) {
	m := newTicketMachine()

	assert.True(t, m.CanFire(&ticket{state: 0}, "assign"))
	assert.True(t, m.CanFire(&ticket{state: 1}, "close"))
	assert.False(t, m.CanFire(&ticket{state: 2}, "assign"))
	assert.False(t, m.CanFire(&ticket{state: 99}, "assign"))
}

func TestDuplicateStatePanics(t *testing.T) {
	assert.Panics(t, func() {
		New("dup").AddState("open", 0).AddState("open", 1)
	})
	assert.Panics(t, func() {
		New("dup").AddState("open", 0).AddState("closed", 0)
	})
}

func TestUnknownStateInTransitionPanics(t *testing.T) {
	assert.Panics(t, func() {
		New("bad").AddState("open", 0).AddTransition("go", []string{"open"}, "nowhere")
	})
}

func TestIntrospection(t *testing.T) {
	m := newTicketMachine()

	assert.Equal(t, "open", m.Initial().Name)
	assert.Equal(t, []string{"open", "assigned", "closed", "rejected"}, m.StateNames())
	assert.Equal(t, []string{"assign", "close", "reject"}, m.Events())

	s, ok := m.StateByName("rejected")
	require.True(t, ok)
	assert.Equal(t, -1, s.Value)

	s, ok = m.StateByValue(1)
	require.True(t, ok)
	assert.Equal(t, "assigned", s.Name)

	_, ok = m.StateByName("nope")
	assert.False(t, ok)
}

func TestSetInitial(t *testing.T) {
	m := New("m").AddState("a", 0).AddState("b", 1).SetInitial("b")
	assert.Equal(t, "b", m.Initial().Name)
}

func TestStateCollection(t *testing.T) {
	m := New("payment_request").
		AddState("requested", 1).
		AddState("payment_erred", -1)

	opts := m.StateCollection()
	require.Len(t, opts, 2)
	assert.Equal(t, StateOption{Label: "Requested", Value: 1}, opts[0])
	assert.Equal(t, StateOption{Label: "Payment Erred", Value: -1}, opts[1])
}

func TestErrorMessages(t *testing.T) {
	illegal := &IllegalTransitionError{Machine: "job", State: State{Name: "drafted", Value: 0}, Event: "approve"}
	assert.Contains(t, illegal.Error(), "job")
	assert.Contains(t, illegal.Error(), "drafted")
	assert.Contains(t, illegal.Error(), "approve")

	inner := fmt.Errorf("boom")
	guard := &GuardError{Event: "accept", Err: inner}
	assert.ErrorIs(t, guard, inner)
	assert.Contains(t, guard.Error(), "accept")

	missing := &MissingArgumentError{Event: "accept", Key: "bid"}
	assert.Contains(t, missing.Error(), "bid")

	hook := &HookError{Event: "approve", Err: inner}
	assert.ErrorIs(t, hook, inner)
}
