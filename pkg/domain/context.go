package domain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Generation records how many times a continuation re-scheduled itself at a
// given step.
type Generation struct {
	Step int `json:"step"`
	Gen  int `json:"gen"`
}

// Context is one in-flight machine instance as seen by a single hop.
// Engine metadata lives in typed fields; caller data lives in Data.
type Context struct {
	Machine  string `json:"machine"`
	Instance string `json:"instance"`

	// CurrentState is the state the instance is in. StartingState and
	// StartingEvent are the state/event in effect when the current task began
	// and are what a continuation re-schedules.
	CurrentState  string `json:"current_state"`
	StartingState string `json:"starting_state,omitempty"`
	StartingEvent string `json:"starting_event,omitempty"`

	Step        int          `json:"step"`
	Generations []Generation `json:"generations,omitempty"`
	ForkPath    []int        `json:"fork,omitempty"`
	FanInIndex  int64        `json:"fan_in_index,omitempty"`
	WorkIndex   string       `json:"work_index,omitempty"`
	Token       string       `json:"token,omitempty"`
	RetryCount  int          `json:"retry_count,omitempty"`
	Terminated  bool         `json:"terminated,omitempty"`

	Data *Memory `json:"data"`

	forks []*Context
}

// NewContext creates the context of a brand new instance, parked in the
// pseudo-init state.
func NewContext(machine, instance string, data *Memory) *Context {
	if data == nil {
		data = NewMemory()
	}
	return &Context{
		Machine:      machine,
		Instance:     instance,
		CurrentState: PseudoInit,
		Data:         data,
	}
}

// Get is a shortcut for Data.Get.
func (c *Context) Get(key string) (any, bool) {
	return c.Data.Get(key)
}

// Set is a shortcut for Data.Set.
func (c *Context) Set(key string, value any) {
	if c.Data == nil {
		c.Data = NewMemory()
	}
	c.Data.Set(key, value)
}

// Generation returns the continuation generation recorded for step.
func (c *Context) Generation(step int) int {
	for _, g := range c.Generations {
		if g.Step == step {
			return g.Gen
		}
	}
	return 0
}

// bumpGeneration increments the generation for the current step.
func (c *Context) bumpGeneration() {
	for i := range c.Generations {
		if c.Generations[i].Step == c.Step {
			c.Generations[i].Gen++
			return
		}
	}
	c.Generations = append(c.Generations, Generation{Step: c.Step, Gen: 1})
}

// TaskName derives the queue name of the hop that fires event from the
// current state into target. The name depends only on context fields, so a
// retried hop re-derives the name of the enqueue it already attempted.
func (c *Context) TaskName(event, target string) string {
	parts := []string{c.Instance}
	for _, g := range c.Generations {
		parts = append(parts, fmt.Sprintf("continuation-%d-%d", g.Step, g.Gen))
	}
	if len(c.ForkPath) > 0 {
		parts = append(parts, "fork-"+c.forkPath())
	}
	if c.WorkIndex != "" {
		parts = append(parts, "work-index-"+c.WorkIndex)
	}
	parts = append(parts, c.CurrentState, event, target, "step-"+strconv.Itoa(c.Step))
	return strings.Join(parts, "--")
}

// FanInTaskNameBase is the name shared by every sibling converging on the
// same fan-in transition. Fork and continuation parts are left out on
// purpose: siblings differ exactly there.
func (c *Context) FanInTaskNameBase(event, target string) string {
	return strings.Join([]string{
		c.Instance, c.CurrentState, event, target, "step-" + strconv.Itoa(c.Step),
	}, "--")
}

func (c *Context) forkPath() string {
	s := make([]string, len(c.ForkPath))
	for i, f := range c.ForkPath {
		s[i] = strconv.Itoa(f)
	}
	return strings.Join(s, "-")
}

// Clone returns a detached deep copy. Pending forks are not carried over.
func (c *Context) Clone() *Context {
	out := *c
	out.Data = c.Data.Clone()
	out.Generations = append([]Generation(nil), c.Generations...)
	out.ForkPath = append([]int(nil), c.ForkPath...)
	out.forks = nil
	return &out
}

// ContinueWith returns the context that re-runs the current hop with the
// next continuation token.
func (c *Context) ContinueWith(token string) *Context {
	next := c.Clone()
	next.CurrentState = c.StartingState
	next.Token = token
	next.bumpGeneration()
	return next
}

// Fork registers a sibling that will receive the same next event as c once
// the current action returns. data entries override the copied memory.
func (c *Context) Fork(data map[string]any) *Context {
	sibling := c.Clone()
	sibling.ForkPath = append(sibling.ForkPath, len(c.forks)+1)
	for k, v := range data {
		sibling.Set(k, v)
	}
	c.forks = append(c.forks, sibling)
	return sibling
}

// Forks returns the siblings registered during the current hop.
func (c *Context) Forks() []*Context {
	return c.forks
}

// ClearForks drops registered siblings after they were scheduled.
func (c *Context) ClearForks() {
	c.forks = nil
}

// Encode serializes the context for a task payload or work package.
func (c *Context) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// DecodeContext is the inverse of Encode.
func DecodeContext(data []byte) (*Context, error) {
	c := &Context{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}
	if c.Data == nil {
		c.Data = NewMemory()
	}
	return c, nil
}

// LogValue groups the identifying metadata of the context.
func (c *Context) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("machine", c.Machine),
		slog.String("instance", c.Instance),
		slog.String("state", c.CurrentState),
		slog.Int("step", c.Step),
	}
	if len(c.ForkPath) > 0 {
		attrs = append(attrs, slog.String("fork", c.forkPath()))
	}
	if c.WorkIndex != "" {
		attrs = append(attrs, slog.String("work_index", c.WorkIndex))
	}
	return slog.GroupValue(attrs...)
}

// Contexts is the merged input of a fan-in state.
type Contexts []*Context

// Instances lists the instance names of the merged contexts.
func (cs Contexts) Instances() []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Instance
	}
	return out
}

// Values collects the value stored under key in every context that has it.
func (cs Contexts) Values(key string) []any {
	var out []any
	for _, c := range cs {
		if v, ok := c.Get(key); ok {
			out = append(out, v)
		}
	}
	return out
}

// LogValue summarises a fan-in batch for structured logs.
func (cs Contexts) LogValue() slog.Value {
	if len(cs) == 0 {
		return slog.GroupValue(slog.Int("count", 0))
	}
	return slog.GroupValue(
		slog.Int("count", len(cs)),
		slog.String("machine", cs[0].Machine),
		slog.String("state", cs[0].CurrentState),
		slog.String("work_index", cs[0].WorkIndex),
	)
}
