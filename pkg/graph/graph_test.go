package graph

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/config"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *action.Registry {
	reg := action.NewRegistry()
	noop := func(ctx context.Context, ec *domain.Context) action.Result { return action.Done() }
	reg.RegisterFunc("noop", noop)
	reg.RegisterFunc("go-next", func(ctx context.Context, ec *domain.Context) action.Result {
		return action.Next("next")
	})
	reg.Register("collect", action.ListFunc(func(ctx context.Context, batch domain.Contexts) action.Result {
		return action.Next("done")
	}))
	reg.Register("pages", action.Paged(
		func(ctx context.Context, ec *domain.Context, token string) (string, error) { return "", nil },
		noop,
	))
	return reg
}

func linearConfig() *config.Config {
	return &config.Config{Machines: []config.Machine{{
		Name: "linear",
		States: []config.State{
			{Name: "a", Initial: true, Action: "go-next", Transitions: []config.Transition{{Event: "next", To: "b"}}},
			{Name: "b", Action: "go-next", Transitions: []config.Transition{{Event: "next", To: "c", Countdown: time.Second}}},
			{Name: "c", Final: true, Exit: "noop"},
		},
	}}}
}

func TestResolve_Linear(t *testing.T) {
	g, err := Resolve(linearConfig(), testRegistry())
	require.NoError(t, err)

	m, err := g.Machine("linear")
	require.NoError(t, err)
	assert.Equal(t, "default", m.Queue)
	assert.Equal(t, domain.DefaultRetryPolicy, m.Retry)
	assert.Equal(t, "a", m.Initial().Name)
	assert.Len(t, m.States(), 3)

	tr, err := m.Transition("b", "next")
	require.NoError(t, err)
	assert.Equal(t, "b--next", tr.Name)
	assert.Equal(t, "c", tr.Target.Name)
	assert.Equal(t, time.Second, tr.Countdown)

	boot, err := m.Transition(domain.PseudoInit, domain.PseudoInit)
	require.NoError(t, err)
	assert.Equal(t, "a", boot.Target.Name)

	fin, err := m.Transition("c", domain.PseudoFinal)
	require.NoError(t, err)
	assert.True(t, fin.Target.IsPseudo())
	assert.True(t, fin.Target.Final)
}

func TestResolve_LookupErrors(t *testing.T) {
	g, err := Resolve(linearConfig(), testRegistry())
	require.NoError(t, err)

	_, err = g.Machine("nope")
	assert.ErrorIs(t, err, domain.ErrUnknownMachine)

	m, _ := g.Machine("linear")
	_, err = m.Transition("a", "missing")
	var unknownEvent *domain.UnknownEventError
	assert.ErrorAs(t, err, &unknownEvent)

	_, err = m.Transition("zzz", "next")
	var unknownState *domain.UnknownStateError
	assert.ErrorAs(t, err, &unknownState)
}

func TestResolve_RetryInheritance(t *testing.T) {
	cfg := linearConfig()
	cfg.Machines[0].Retry = &domain.RetryPolicy{Attempts: 2, MinBackoff: time.Second}
	cfg.Machines[0].States[0].Transitions[0].Retry = &domain.RetryPolicy{Attempts: 7}
	cfg.Machines[0].States[1].Transitions[0].Queue = "slow"

	g, err := Resolve(cfg, testRegistry())
	require.NoError(t, err)
	m, _ := g.Machine("linear")

	a, _ := m.Transition("a", "next")
	assert.Equal(t, 7, a.Retry.Attempts)
	assert.Equal(t, time.Second, a.Retry.MinBackoff)

	b, _ := m.Transition("b", "next")
	assert.Equal(t, 2, b.Retry.Attempts)
	assert.Equal(t, "slow", b.Queue)
}

func TestResolve_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *config.Machine)
		reason string
	}{
		{"unknown target", func(m *config.Machine) {
			m.States[0].Transitions[0].To = "ghost"
		}, "unknown state 'ghost'"},
		{"duplicate state", func(m *config.Machine) {
			m.States = append(m.States, config.State{Name: "b", Final: true})
		}, "duplicate state name"},
		{"duplicate event", func(m *config.Machine) {
			m.States[0].Transitions = append(m.States[0].Transitions, config.Transition{Event: "next", To: "c"})
		}, "duplicate event"},
		{"invalid event name", func(m *config.Machine) {
			m.States[0].Transitions[0].Event = "bad event"
		}, "invalid event name"},
		{"invalid state name", func(m *config.Machine) {
			m.States[2].Name = "c_c"
		}, "invalid state name"},
		{"unknown action", func(m *config.Machine) {
			m.States[0].Action = "missing"
		}, "unknown do action 'missing'"},
		{"no initial", func(m *config.Machine) {
			m.States[0].Initial = false
		}, "no initial state"},
		{"two initials", func(m *config.Machine) {
			m.States[1].Initial = true
		}, "multiple initial states"},
		{"no final", func(m *config.Machine) {
			m.States[2].Final = false
			m.States[2].Transitions = []config.Transition{{Event: "loop", To: "a"}}
		}, "no final state"},
		{"continuation and fan-in", func(m *config.Machine) {
			m.States[1].Continuation = true
			m.States[1].FanIn = time.Second
		}, "both continuation and fan-in"},
		{"continuation without paging", func(m *config.Machine) {
			m.States[1].Continuation = true
		}, "ContinuationAction"},
		{"fan-in without list action", func(m *config.Machine) {
			m.States[1].FanIn = time.Second
		}, "must implement ListAction"},
		{"list action on plain state", func(m *config.Machine) {
			m.States[1].Action = "collect"
		}, "must implement Action"},
		{"exit never runs", func(m *config.Machine) {
			m.States[1].Action = "pages"
			m.States[1].Continuation = true
			m.States[0].Exit = "noop"
		}, "exit action 'noop' is never run"},
		{"invalid retry", func(m *config.Machine) {
			m.Retry = &domain.RetryPolicy{Attempts: -1}
		}, "invalid retry policy"},
		{"unknown context type", func(m *config.Machine) {
			m.ContextTypes = map[string]string{"n": "complex"}
		}, "unknown context type 'complex'"},
		{"reserved state", func(m *config.Machine) {
			m.States[2].Name = domain.PseudoFinal
			m.States[1].Transitions[0].To = domain.PseudoFinal
		}, "reserved"},
		{"dead state", func(m *config.Machine) {
			m.States[1].Transitions = nil
		}, "no transitions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := linearConfig()
			tt.mutate(&cfg.Machines[0])
			_, err := Resolve(cfg, testRegistry())
			var cfgErr *domain.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestResolve_DuplicateMachine(t *testing.T) {
	cfg := linearConfig()
	cfg.Machines = append(cfg.Machines, cfg.Machines[0])
	_, err := Resolve(cfg, testRegistry())
	assert.ErrorContains(t, err, "duplicate machine name")

	_, err = Resolve(&config.Config{}, testRegistry())
	assert.ErrorContains(t, err, "no machines defined")
}

func TestResolve_FanInAndContinuation(t *testing.T) {
	cfg := &config.Config{Machines: []config.Machine{{
		Name: "batch",
		States: []config.State{
			{Name: "list", Initial: true, Continuation: true, Action: "pages",
				Transitions: []config.Transition{{Event: "next", To: "join"}}},
			{Name: "join", FanIn: 2 * time.Second, Action: "collect",
				Transitions: []config.Transition{{Event: "done", To: "end", Action: "noop"}}},
			{Name: "end", Final: true},
		},
	}}}
	g, err := Resolve(cfg, testRegistry())
	require.NoError(t, err)
	m, _ := g.Machine("batch")

	list, _ := m.State("list")
	assert.NotNil(t, list.Do.Paged())
	join, _ := m.State("join")
	assert.True(t, join.IsFanIn())
	assert.NotNil(t, join.Do.List())
	assert.Nil(t, join.Do.Single())
}

func TestCoerce(t *testing.T) {
	cfg := linearConfig()
	cfg.Machines[0].ContextTypes = map[string]string{
		"count": "int", "ratio": "float", "ok": "bool", "wait": "duration",
		"tags": "strings", "label": "string",
	}
	g, err := Resolve(cfg, testRegistry())
	require.NoError(t, err)
	m, _ := g.Machine("linear")

	ec := domain.NewContext("linear", "i-1", nil)
	ec.Set("count", float64(3))
	ec.Set("ratio", "0.5")
	ec.Set("ok", "true")
	ec.Set("wait", "1m")
	ec.Set("tags", []any{"a", "b"})
	ec.Set("label", float64(12))
	ec.Set("untyped", float64(1))
	require.NoError(t, m.CoerceContext(ec))

	v, _ := ec.Get("count")
	assert.Equal(t, int64(3), v)
	v, _ = ec.Get("ratio")
	assert.Equal(t, 0.5, v)
	v, _ = ec.Get("ok")
	assert.Equal(t, true, v)
	v, _ = ec.Get("wait")
	assert.Equal(t, time.Minute, v)
	v, _ = ec.Get("tags")
	assert.Equal(t, []string{"a", "b"}, v)
	v, _ = ec.Get("label")
	assert.Equal(t, "12", v)
	v, _ = ec.Get("untyped")
	assert.Equal(t, float64(1), v)

	_, err = m.Coerce("count", "not-a-number")
	assert.Error(t, err)
}

func TestMermaid(t *testing.T) {
	cfg := linearConfig()
	g, err := Resolve(cfg, testRegistry())
	require.NoError(t, err)
	m, _ := g.Machine("linear")

	out := Mermaid(m)
	assert.Contains(t, out, "graph TD\n")
	assert.Contains(t, out, `a(("a"))`)
	assert.Contains(t, out, `c((("c")))`)
	assert.Contains(t, out, `a -- "next" --> b`)
	assert.Contains(t, out, `b -. "next (1s)" .-> c`)
	assert.NotContains(t, out, "pseudo")
}
