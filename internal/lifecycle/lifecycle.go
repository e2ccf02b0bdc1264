// Package lifecycle implements the start/stop/suspend/resume state machine
// that gates whether a deployed unit's content is servable.
package lifecycle

import (
	"fmt"
	"sync"

	"github.com/agentic-research/launchpad/internal/metrics"
)

// State of a deployed unit.
type State int

const (
	Stopped State = iota
	Running
	Suspended
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Running:
		return "RUNNING"
	case Suspended:
		return "SUSPENDED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Action requests a transition.
type Action int

const (
	Start Action = iota
	Stop
	Suspend
	Resume
)

func (a Action) String() string {
	switch a {
	case Start:
		return "START"
	case Stop:
		return "STOP"
	case Suspend:
		return "SUSPEND"
	case Resume:
		return "RESUME"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// IllegalStateTransitionError reports an action that is not valid from the
// current state. Callers are expected to check eligibility first, so this
// indicates an ordering bug.
type IllegalStateTransitionError struct {
	Action Action
	From   State
}

func (e *IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s from %s", e.Action, e.From)
}

type transitionKey struct {
	action Action
	from   State
}

type transition struct {
	to      State
	runTask bool
}

var transitions = map[transitionKey]transition{
	{Start, Stopped}:     {to: Running, runTask: true},
	{Stop, Stopped}:      {to: Stopped},
	{Stop, Running}:      {to: Stopped, runTask: true},
	{Stop, Suspended}:    {to: Stopped, runTask: true},
	{Suspend, Running}:   {to: Suspended, runTask: true},
	{Suspend, Suspended}: {to: Suspended},
	{Resume, Suspended}:  {to: Running, runTask: true},
}

// Machine is one unit's state machine. The zero value is a stopped machine.
// Lookup, task and state update happen under one lock.
type Machine struct {
	mu    sync.Mutex
	state State
}

// New returns a stopped machine.
func New() *Machine {
	return &Machine{state: Stopped}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether action is valid from the current state.
func (m *Machine) Can(action Action) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := transitions[transitionKey{action, m.state}]
	return ok
}

// Transition applies action. task runs synchronously before the state
// changes, and never for no-op transitions. A task error aborts the
// transition and leaves the state unchanged.
func (m *Machine) Transition(action Action, task func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if _, ok := transitions[transitionKey{action, from}]; !ok {
		return &IllegalStateTransitionError{Action: action, From: from}
	}
	return m.apply(action, task)
}

// TryTransition applies action if it is valid from the current state and
// reports whether it was. The check and the transition happen under one
// lock.
func (m *Machine) TryTransition(action Action, task func() error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := transitions[transitionKey{action, m.state}]; !ok {
		return false, nil
	}
	return true, m.apply(action, task)
}

// apply must be called with m.mu held and a valid action.
func (m *Machine) apply(action Action, task func() error) error {
	t := transitions[transitionKey{action, m.state}]
	if t.runTask {
		if task != nil {
			if err := task(); err != nil {
				return fmt.Errorf("%s task: %w", action, err)
			}
		}
		metrics.LifecycleTransitions.WithLabelValues(action.String(), t.to.String()).Inc()
	}
	m.state = t.to
	return nil
}
