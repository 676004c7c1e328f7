package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/fantasm/pkg/action"
	"github.com/aretw0/fantasm/pkg/adapters/redis"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definition = `
machines:
  - name: billing
    states:
      - name: charge
        initial: true
        action: charge
        transitions:
          - {event: ok, to: collect}
      - name: collect
        fan_in: 5s
        action: summarize
        transitions:
          - {event: done, to: closed}
      - name: closed
        final: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fantasm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, reg *action.Registry, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(reg)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, definition)
	out, err := run(t, nil, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "billing: 3 states, initial 'charge'")
	assert.Contains(t, out, "Machines are valid!")
}

func TestValidate_Errors(t *testing.T) {
	bad := strings.Replace(definition, "initial: true", "intial: true", 1)
	_, err := run(t, nil, "validate", "--config", writeConfig(t, bad))
	assert.ErrorContains(t, err, "validation failed")

	reg := action.NewRegistry()
	reg.RegisterFunc("charge", func(ctx context.Context, ec *domain.Context) action.Result { return action.Done() })
	_, err = run(t, reg, "validate", "--config", writeConfig(t, definition))
	assert.ErrorContains(t, err, "unknown do action 'summarize'")
}

func TestGraph(t *testing.T) {
	path := writeConfig(t, definition)
	out, err := run(t, nil, "graph", "--config", path, "--machine", "billing")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph TD"))
	assert.Contains(t, out, "fan-in")

	_, err = run(t, nil, "graph", "--config", path, "-m", "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownMachine)
}

func TestVersion(t *testing.T) {
	out, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "fantasm version ")
}

func TestStart(t *testing.T) {
	path := writeConfig(t, definition)

	_, err := run(t, nil, "start", "billing", "--config", path)
	assert.ErrorContains(t, err, "--redis is required")

	mr := miniredis.RunT(t)
	url := "redis://" + mr.Addr()
	out, err := run(t, nil, "start", "billing", "--config", path, "--redis", url,
		"--instance", "invoice-7", "--data", `{"amount": 12}`)
	require.NoError(t, err)
	assert.Equal(t, "invoice-7\n", out)

	client, err := redis.Open(context.Background(), url)
	require.NoError(t, err)
	defer client.Close()
	task, err := redis.NewQueue(client, time.Hour).Lease(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "billing", task.Route.Machine)
	assert.Equal(t, domain.PseudoInit, task.Route.Event)

	ec, err := domain.DecodeContext(task.Payload)
	require.NoError(t, err)
	assert.Equal(t, "invoice-7", ec.Instance)
	amount, _ := ec.Get("amount")
	assert.EqualValues(t, 12, amount)
}

func TestPlaceholders(t *testing.T) {
	path := writeConfig(t, definition)
	opts := &Options{ConfigPath: path}
	g, err := loadGraph(opts, nil)
	require.NoError(t, err)

	eng, err := createEngine(context.Background(), opts, g, "", nil)
	require.NoError(t, err)
	require.NoError(t, eng.StartInstance(context.Background(), "billing", "dry-run", nil))
	w, err := eng.Worker()
	require.NoError(t, err)
	n, err := w.Drain(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "no-op actions stop at the first state")
}

func TestEncryptionKey(t *testing.T) {
	path := writeConfig(t, definition)
	g, err := loadGraph(&Options{ConfigPath: path}, nil)
	require.NoError(t, err)

	opts := &Options{EncryptionKey: strings.Repeat("ab", 32), FallbackKeys: []string{strings.Repeat("cd", 32)}}
	mws, err := opts.storeMiddleware()
	require.NoError(t, err)
	assert.Len(t, mws, 1)
	_, err = createEngine(context.Background(), opts, g, "", nil)
	require.NoError(t, err)

	_, err = (&Options{EncryptionKey: "not-hex"}).storeMiddleware()
	assert.ErrorContains(t, err, "invalid encryption key")

	_, err = (&Options{EncryptionKey: "abcd"}).storeMiddleware()
	assert.ErrorContains(t, err, "32 bytes")

	_, err = run(t, nil, "start", "billing", "--config", path, "--redis", "redis://"+miniredis.RunT(t).Addr(),
		"--encryption-key", "zz")
	assert.ErrorContains(t, err, "invalid encryption key")
}
