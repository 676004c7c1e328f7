package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_TaskNameIsDeterministic(t *testing.T) {
	build := func() *Context {
		c := NewContext("orders", "orders-1", nil)
		c.CurrentState = "collect"
		c.Step = 3
		c.Generations = []Generation{{Step: 1, Gen: 2}}
		c.ForkPath = []int{2}
		c.WorkIndex = "42"
		return c
	}

	a := build().TaskName("done", "report")
	b := build().TaskName("done", "report")

	assert.Equal(t, a, b)
	assert.Equal(t, "orders-1--continuation-1-2--fork-2--work-index-42--collect--done--report--step-3", a)
}

func TestContext_TaskNameMinimal(t *testing.T) {
	c := NewContext("orders", "orders-1", nil)
	c.CurrentState = "start"

	assert.Equal(t, "orders-1--start--go--next--step-0", c.TaskName("go", "next"))
}

func TestContext_FanInBaseIgnoresForkAndGeneration(t *testing.T) {
	c := NewContext("orders", "orders-1", nil)
	c.CurrentState = "split"
	c.Step = 1

	s1 := c.Fork(nil)
	s2 := c.Fork(nil)
	s2.Generations = []Generation{{Step: 1, Gen: 1}}

	base := c.FanInTaskNameBase("join", "merge")
	assert.Equal(t, base, s1.FanInTaskNameBase("join", "merge"))
	assert.Equal(t, base, s2.FanInTaskNameBase("join", "merge"))
	assert.NotEqual(t, s1.TaskName("join", "merge"), s2.TaskName("join", "merge"))
}

func TestContext_ForkAssignsSiblingIndexes(t *testing.T) {
	c := NewContext("m", "i", nil)
	c.Set("shared", "yes")

	first := c.Fork(map[string]any{"n": 1})
	second := c.Fork(map[string]any{"n": 2})

	require.Len(t, c.Forks(), 2)
	assert.Equal(t, []int{1}, first.ForkPath)
	assert.Equal(t, []int{2}, second.ForkPath)
	assert.Equal(t, "yes", second.Data.GetString("shared"))

	grandchild := first.Fork(nil)
	assert.Equal(t, []int{1, 1}, grandchild.ForkPath)

	c.ClearForks()
	assert.Empty(t, c.Forks())
}

func TestContext_CloneIsDetached(t *testing.T) {
	c := NewContext("m", "i", nil)
	c.Set("items", map[string]any{"a": 1})
	c.Generations = []Generation{{Step: 0, Gen: 1}}

	clone := c.Clone()
	clone.Set("extra", true)
	clone.Generations[0].Gen = 9
	items, _ := clone.Get("items")
	items.(map[string]any)["b"] = 2

	_, ok := c.Get("extra")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Generations[0].Gen)
	orig, _ := c.Get("items")
	assert.Len(t, orig.(map[string]any), 1)
}

func TestContext_ContinueWithBumpsGeneration(t *testing.T) {
	c := NewContext("m", "i", nil)
	c.CurrentState = "list"
	c.StartingState = "list"
	c.StartingEvent = "page"
	c.Step = 4

	next := c.ContinueWith("cursor-2")
	assert.Equal(t, "cursor-2", next.Token)
	assert.Equal(t, 1, next.Generation(4))

	again := next.ContinueWith("cursor-3")
	assert.Equal(t, 2, again.Generation(4))
	assert.Equal(t, 0, c.Generation(4))
}

func TestContext_EncodeRoundTripKeepsOrder(t *testing.T) {
	c := NewContext("m", "i", nil)
	c.Set("zeta", "z")
	c.Set("alpha", "a")
	c.Set("mid", "m")
	c.ForkPath = []int{3}

	raw, err := c.Encode()
	require.NoError(t, err)

	decoded, err := DecodeContext(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, decoded.Data.Keys())
	assert.Equal(t, []int{3}, decoded.ForkPath)
	assert.Equal(t, PseudoInit, decoded.CurrentState)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Contains(t, generic, "data")
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("go"))
	assert.True(t, ValidName("fan-in-2"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("has space"))
	assert.False(t, ValidName("under_score"))
	assert.False(t, ValidName("a123456789a123456789a123456789a123456789a1234567890"))
}
