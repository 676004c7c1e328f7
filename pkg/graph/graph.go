// Package graph holds the resolved, immutable machine graph the engine
// dispatches against. A Graph is built once by Resolve and is safe for
// concurrent read-only use.
package graph

import (
	"fmt"
	"sort"
	"time"

	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/domain"
)

// Graph is the set of machines known to an engine.
type Graph struct {
	machines map[string]*Machine
}

// Machine returns the machine named name.
func (g *Graph) Machine(name string) (*Machine, error) {
	m, ok := g.machines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownMachine, name)
	}
	return m, nil
}

// Machines lists the machines ordered by name.
func (g *Graph) Machines() []*Machine {
	out := make([]*Machine, 0, len(g.machines))
	for _, m := range g.machines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Machine is one resolved state machine.
type Machine struct {
	Name  string
	Queue string
	Retry domain.RetryPolicy

	states       map[string]*State
	order        []string
	contextTypes map[string]string
}

// State returns the state named name, including the pseudo states.
func (m *Machine) State(name string) (*State, error) {
	s, ok := m.states[name]
	if !ok {
		return nil, &domain.UnknownStateError{Machine: m.Name, State: name}
	}
	return s, nil
}

// States lists the declared states in configuration order, without the
// pseudo states.
func (m *Machine) States() []*State {
	out := make([]*State, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.states[name])
	}
	return out
}

// Initial returns the declared initial state.
func (m *Machine) Initial() *State {
	return m.states[domain.PseudoInit].Transitions[domain.PseudoInit].Target
}

// Transition looks up the transition fired by event in state.
func (m *Machine) Transition(state, event string) (*Transition, error) {
	s, err := m.State(state)
	if err != nil {
		return nil, err
	}
	t, ok := s.Transitions[event]
	if !ok {
		return nil, &domain.UnknownEventError{Machine: m.Name, State: state, Event: event}
	}
	return t, nil
}

// State is one resolved state.
type State struct {
	Name         string
	Initial      bool
	Final        bool
	Continuation bool
	FanIn        time.Duration

	Entry *ActionRef
	Do    *ActionRef
	Exit  *ActionRef

	// Transitions maps event names to outgoing transitions.
	Transitions map[string]*Transition
	events      []string
}

// IsFanIn reports whether contexts converge on this state.
func (s *State) IsFanIn() bool { return s.FanIn > 0 }

// IsPseudo reports whether the state was synthesised by Resolve.
func (s *State) IsPseudo() bool {
	return s.Name == domain.PseudoInit || s.Name == domain.PseudoFinal
}

// Events lists the outgoing events in configuration order.
func (s *State) Events() []string { return s.events }

// Transition is one resolved edge.
type Transition struct {
	// Name is "<from>--<event>".
	Name      string
	Event     string
	Source    *State
	Target    *State
	Action    *ActionRef
	Retry     domain.RetryPolicy
	Queue     string
	Countdown time.Duration
}

// ActionRef binds a configured action name to its implementation.
type ActionRef struct {
	Name string
	impl any
}

// Single returns the implementation as a per-context Action.
func (r *ActionRef) Single() action.Action {
	if r == nil {
		return nil
	}
	a, _ := r.impl.(action.Action)
	return a
}

// List returns the implementation as a batch ListAction.
func (r *ActionRef) List() action.ListAction {
	if r == nil {
		return nil
	}
	a, _ := r.impl.(action.ListAction)
	return a
}

// Paged returns the implementation as a ContinuationAction.
func (r *ActionRef) Paged() action.ContinuationAction {
	if r == nil {
		return nil
	}
	a, _ := r.impl.(action.ContinuationAction)
	return a
}
