package middleware_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/aretw0/fantasm/pkg/adapters/memory"
	"github.com/aretw0/fantasm/pkg/domain"
	"github.com/aretw0/fantasm/pkg/persistence/middleware"
	"github.com/aretw0/fantasm/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func encrypted(t *testing.T, next ports.DurableStore, cfg middleware.EncryptionConfig) ports.DurableStore {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	require.NoError(t, err)
	return middleware.Chain(next, mw)
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	key := generateKey(t)
	ports.RunDurableStoreContract(t, encrypted(t, memory.NewStore(), middleware.EncryptionConfig{ActiveKey: key}))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewStore()
	secure := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ctx := context.Background()

	secret := []byte(`{"card":"4111-1111"}`)
	rec := ports.Record{
		Kind:    domain.KindWorkPackage,
		Key:     "wp-1",
		Index:   map[string]string{domain.FieldWorkIndex: "w-1"},
		Payload: secret,
	}
	require.NoError(t, secure.Put(ctx, rec))

	raw, err := underlying.Get(ctx, domain.KindWorkPackage, "wp-1")
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw.Payload, []byte("4111")), "payload must be sealed at rest")

	recs, err := secure.Query(ctx, domain.KindWorkPackage, domain.FieldWorkIndex, "w-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, secret, recs[0].Payload)
}

func TestEncryptionMiddleware_InsertReturnsOpenedWinner(t *testing.T) {
	secure := encrypted(t, memory.NewStore(), middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ctx := context.Background()

	created, _, err := secure.Insert(ctx, ports.Record{Kind: domain.KindSemaphore, Key: "k", Payload: []byte("first")})
	require.NoError(t, err)
	assert.True(t, created)

	created, existing, err := secure.Insert(ctx, ports.Record{Kind: domain.KindSemaphore, Key: "k", Payload: []byte("second")})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "first", string(existing.Payload))
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewStore()
	oldKey, newKey := generateKey(t), generateKey(t)
	ctx := context.Background()

	old := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: oldKey})
	require.NoError(t, old.Put(ctx, ports.Record{Kind: "k", Key: "a", Payload: []byte("legacy")}))

	rotated := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: newKey, FallbackKeys: [][]byte{oldKey}})
	rec, err := rotated.Get(ctx, "k", "a")
	require.NoError(t, err)
	assert.Equal(t, "legacy", string(rec.Payload))

	stranger := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: newKey})
	_, err = stranger.Get(ctx, "k", "a")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestNewEncryptionMiddleware_InvalidKey(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short")})
	assert.Error(t, err)
}
