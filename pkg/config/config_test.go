package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
machines:
  - name: email-batch
    queue: mail
    retry:
      attempts: 3
      min_backoff: 2s
      max_backoff: 1m
    context_types:
      count: int
    states:
      - name: start
        initial: true
        action: select-users
        transitions:
          - event: next
            to: send
            countdown: 5s
      - name: send
        action: send-mail
        fan_in: 1s
        final: true
`

func TestParse_YAML(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Machines, 1)

	m := cfg.Machines[0]
	assert.Equal(t, "email-batch", m.Name)
	assert.Equal(t, "mail", m.Queue)
	require.NotNil(t, m.Retry)
	assert.Equal(t, 3, m.Retry.Attempts)
	assert.Equal(t, 2*time.Second, m.Retry.MinBackoff)
	assert.Equal(t, time.Minute, m.Retry.MaxBackoff)
	assert.Equal(t, "int", m.ContextTypes["count"])

	require.Len(t, m.States, 2)
	assert.True(t, m.States[0].Initial)
	assert.Equal(t, 5*time.Second, m.States[0].Transitions[0].Countdown)
	assert.Equal(t, time.Second, m.States[1].FanIn)
}

func TestParse_JSON(t *testing.T) {
	doc := `{"machines":[{"name":"m","states":[{"name":"a","initial":true,"final":true}]}]}`
	cfg, err := Parse([]byte(doc), "json")
	require.NoError(t, err)
	assert.Equal(t, "a", cfg.Machines[0].States[0].Name)
}

func TestParse_RejectsUnknownAttribute(t *testing.T) {
	doc := `
machines:
  - name: m
    states:
      - name: a
        intial: true
`
	_, err := Parse([]byte(doc), "yaml")
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "intial")
}

func TestLoad_ByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "email-batch", cfg.Machines[0].Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
