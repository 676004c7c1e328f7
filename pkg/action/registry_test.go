package action

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.RegisterFunc("greet", func(ctx context.Context, ec *domain.Context) Result {
		ec.Set("greeted", true)
		return Next("done")
	})
	r.Register("merge", ListFunc(func(ctx context.Context, batch domain.Contexts) Result {
		return Done()
	}))

	impl, ok := r.Lookup("greet")
	require.True(t, ok)
	act, ok := impl.(Action)
	require.True(t, ok)

	ec := domain.NewContext("m", "i", nil)
	res := act.Execute(context.Background(), ec)
	assert.Equal(t, "done", res.Event)
	v, _ := ec.Get("greeted")
	assert.Equal(t, true, v)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"greet", "merge"}, r.Names())
}

func TestRegistry_RejectsNonActions(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() { r.Register("bad", 42) })
}

func TestResultHelpers(t *testing.T) {
	boom := errors.New("boom")

	assert.Equal(t, Result{}, Done())
	assert.Equal(t, Result{Err: boom}, Retry(boom))
	assert.Equal(t, Result{Err: boom, Fatal: true}, Fail(boom))
}

func TestPaged(t *testing.T) {
	pages := map[string]string{"": "p2", "p2": ""}
	p := Paged(
		func(ctx context.Context, ec *domain.Context, token string) (string, error) {
			return pages[token], nil
		},
		func(ctx context.Context, ec *domain.Context) Result { return Next("page-done") },
	)

	next, err := p.Continuation(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "p2", next)
	assert.Equal(t, "page-done", p.Execute(context.Background(), nil).Event)
}
