package graph

import (
	"fmt"

	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/config"
	"github.com/aretw0/fantasm/pkg/domain"
)

// Resolve validates cfg and binds action names through reg. Every
// configuration problem surfaces here as a *domain.ConfigurationError so
// that dispatch never has to check the graph again.
func Resolve(cfg *config.Config, reg *action.Registry) (*Graph, error) {
	if cfg == nil || len(cfg.Machines) == 0 {
		return nil, &domain.ConfigurationError{Reason: "no machines defined"}
	}
	if reg == nil {
		reg = action.NewRegistry()
	}
	g := &Graph{machines: make(map[string]*Machine, len(cfg.Machines))}
	for _, mc := range cfg.Machines {
		if !domain.ValidName(mc.Name) {
			return nil, &domain.ConfigurationError{Reason: fmt.Sprintf("invalid machine name '%s'", mc.Name)}
		}
		if _, dup := g.machines[mc.Name]; dup {
			return nil, &domain.ConfigurationError{Machine: mc.Name, Reason: "duplicate machine name"}
		}
		m, err := resolveMachine(mc, reg)
		if err != nil {
			return nil, err
		}
		g.machines[m.Name] = m
	}
	return g, nil
}

type resolver struct {
	cfg config.Machine
	reg *action.Registry
	m   *Machine
}

func (r *resolver) fail(state, format string, args ...any) error {
	return &domain.ConfigurationError{Machine: r.cfg.Name, State: state, Reason: fmt.Sprintf(format, args...)}
}

func resolveMachine(mc config.Machine, reg *action.Registry) (*Machine, error) {
	r := &resolver{cfg: mc, reg: reg}
	m := &Machine{
		Name:         mc.Name,
		Queue:        mc.Queue,
		Retry:        domain.DefaultRetryPolicy,
		states:       make(map[string]*State, len(mc.States)+2),
		contextTypes: make(map[string]string, len(mc.ContextTypes)),
	}
	r.m = m
	if m.Queue == "" {
		m.Queue = "default"
	}
	if mc.Retry != nil {
		m.Retry = mc.Retry.Merge(domain.DefaultRetryPolicy)
		if err := m.Retry.Validate(); err != nil {
			return nil, r.fail("", "invalid retry policy: %v", err)
		}
	}
	for key, typ := range mc.ContextTypes {
		if _, ok := coercers[typ]; !ok {
			return nil, r.fail("", "unknown context type '%s' for key '%s'", typ, key)
		}
		m.contextTypes[key] = typ
	}
	if len(mc.States) == 0 {
		return nil, r.fail("", "no states defined")
	}

	// First pass: states and their actions.
	var initial *State
	var finals []*State
	for _, sc := range mc.States {
		s, err := r.state(sc)
		if err != nil {
			return nil, err
		}
		if s.Initial {
			if initial != nil {
				return nil, r.fail(s.Name, "multiple initial states ('%s' and '%s')", initial.Name, s.Name)
			}
			initial = s
		}
		if s.Final {
			finals = append(finals, s)
		}
	}
	if initial == nil {
		return nil, r.fail("", "no initial state")
	}
	if len(finals) == 0 {
		return nil, r.fail("", "no final state")
	}

	// Second pass: transitions, which may point forward.
	for _, sc := range mc.States {
		if err := r.transitions(sc); err != nil {
			return nil, err
		}
	}
	for _, sc := range mc.States {
		if err := r.checkExit(m.states[sc.Name]); err != nil {
			return nil, err
		}
	}

	r.pseudoStates(initial, finals)
	return m, nil
}

func (r *resolver) state(sc config.State) (*State, error) {
	if !domain.ValidName(sc.Name) {
		return nil, r.fail(sc.Name, "invalid state name")
	}
	if sc.Name == domain.PseudoInit || sc.Name == domain.PseudoFinal {
		return nil, r.fail(sc.Name, "state name is reserved")
	}
	if _, dup := r.m.states[sc.Name]; dup {
		return nil, r.fail(sc.Name, "duplicate state name")
	}
	if sc.FanIn < 0 {
		return nil, r.fail(sc.Name, "fan_in must not be negative")
	}
	s := &State{
		Name:         sc.Name,
		Initial:      sc.Initial,
		Final:        sc.Final,
		Continuation: sc.Continuation,
		FanIn:        sc.FanIn,
		Transitions:  make(map[string]*Transition, len(sc.Transitions)),
	}
	if s.Continuation && s.IsFanIn() {
		return nil, r.fail(s.Name, "a state cannot be both continuation and fan-in")
	}

	var err error
	if s.Entry, err = r.bind(s, "entry", sc.Entry, s.IsFanIn()); err != nil {
		return nil, err
	}
	if s.Do, err = r.bind(s, "do", sc.Action, s.IsFanIn()); err != nil {
		return nil, err
	}
	if s.Exit, err = r.bind(s, "exit", sc.Exit, false); err != nil {
		return nil, err
	}
	if s.Continuation && s.Do.Paged() == nil {
		return nil, r.fail(s.Name, "continuation state requires an action implementing ContinuationAction")
	}
	r.m.states[s.Name] = s
	r.m.order = append(r.m.order, s.Name)
	return s, nil
}

// bind looks name up in the registry and checks it has the capability the
// position requires.
func (r *resolver) bind(s *State, phase, name string, list bool) (*ActionRef, error) {
	if name == "" {
		return nil, nil
	}
	impl, ok := r.reg.Lookup(name)
	if !ok {
		return nil, r.fail(s.Name, "unknown %s action '%s'", phase, name)
	}
	ref := &ActionRef{Name: name, impl: impl}
	if list && ref.List() == nil {
		return nil, r.fail(s.Name, "%s action '%s' must implement ListAction on a fan-in state", phase, name)
	}
	if !list && ref.Single() == nil {
		return nil, r.fail(s.Name, "%s action '%s' must implement Action", phase, name)
	}
	return ref, nil
}

func (r *resolver) transitions(sc config.State) error {
	s := r.m.states[sc.Name]
	for _, tc := range sc.Transitions {
		if !domain.ValidName(tc.Event) {
			return r.fail(s.Name, "invalid event name '%s'", tc.Event)
		}
		if tc.Event == domain.PseudoInit || tc.Event == domain.PseudoFinal {
			return r.fail(s.Name, "event name '%s' is reserved", tc.Event)
		}
		if _, dup := s.Transitions[tc.Event]; dup {
			return r.fail(s.Name, "duplicate event '%s'", tc.Event)
		}
		target, ok := r.m.states[tc.To]
		if !ok {
			return r.fail(s.Name, "transition '%s' targets unknown state '%s'", tc.Event, tc.To)
		}
		if tc.Countdown < 0 {
			return r.fail(s.Name, "transition '%s' has a negative countdown", tc.Event)
		}
		t := &Transition{
			Name:      s.Name + "--" + tc.Event,
			Event:     tc.Event,
			Source:    s,
			Target:    target,
			Retry:     r.m.Retry,
			Queue:     r.m.Queue,
			Countdown: tc.Countdown,
		}
		if tc.Queue != "" {
			t.Queue = tc.Queue
		}
		if tc.Retry != nil {
			t.Retry = tc.Retry.Merge(r.m.Retry)
			if err := t.Retry.Validate(); err != nil {
				return r.fail(s.Name, "transition '%s' has an invalid retry policy: %v", tc.Event, err)
			}
		}
		var err error
		if t.Action, err = r.bind(s, "transition", tc.Action, target.IsFanIn()); err != nil {
			return err
		}
		s.Transitions[t.Event] = t
		s.events = append(s.events, t.Event)
	}
	if len(s.Transitions) == 0 && !s.Final {
		return r.fail(s.Name, "non-final state has no transitions")
	}
	return nil
}

// checkExit rejects exit actions that could never run: they are skipped on
// transitions into continuation and fan-in states.
func (r *resolver) checkExit(s *State) error {
	if s.Exit == nil || s.Final || len(s.Transitions) == 0 {
		return nil
	}
	for _, t := range s.Transitions {
		if !t.Target.Continuation && !t.Target.IsFanIn() {
			return nil
		}
	}
	return r.fail(s.Name, "exit action '%s' is never run: all transitions target continuation or fan-in states", s.Exit.Name)
}

func (r *resolver) pseudoStates(initial *State, finals []*State) {
	pinit := &State{Name: domain.PseudoInit, Transitions: make(map[string]*Transition, 1)}
	pfinal := &State{Name: domain.PseudoFinal, Final: true, Transitions: map[string]*Transition{}}
	pinit.Transitions[domain.PseudoInit] = &Transition{
		Name:   domain.PseudoInit + "--" + domain.PseudoInit,
		Event:  domain.PseudoInit,
		Source: pinit,
		Target: initial,
		Retry:  r.m.Retry,
		Queue:  r.m.Queue,
	}
	pinit.events = []string{domain.PseudoInit}
	for _, f := range finals {
		f.Transitions[domain.PseudoFinal] = &Transition{
			Name:   f.Name + "--" + domain.PseudoFinal,
			Event:  domain.PseudoFinal,
			Source: f,
			Target: pfinal,
			Retry:  r.m.Retry,
			Queue:  r.m.Queue,
		}
		f.events = append(f.events, domain.PseudoFinal)
	}
	r.m.states[pinit.Name] = pinit
	r.m.states[pfinal.Name] = pfinal
}
