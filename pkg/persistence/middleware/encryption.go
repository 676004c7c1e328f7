package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/fantasm/pkg/ports"
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

// Validate checks the key sizes.
func (c EncryptionConfig) Validate() error {
	if len(c.ActiveKey) != 32 {
		return fmt.Errorf("active key must be 32 bytes (AES-256), got %d", len(c.ActiveKey))
	}
	for i, k := range c.FallbackKeys {
		if len(k) != 32 {
			return fmt.Errorf("fallback key %d must be 32 bytes (AES-256), got %d", i, len(k))
		}
	}
	return nil
}

type encryptionMiddleware struct {
	next ports.DurableStore
	keys *keyring
}

// NewEncryptionMiddleware creates a middleware that seals record payloads
// with AES-GCM. Keys, kinds and index values stay in the clear so queries
// keep working.
func NewEncryptionMiddleware(config EncryptionConfig) (Middleware, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	keys, err := newKeyring(config)
	if err != nil {
		return nil, err
	}
	return func(next ports.DurableStore) ports.DurableStore {
		return &encryptionMiddleware{next: next, keys: keys}
	}, nil
}

func (m *encryptionMiddleware) seal(rec ports.Record) (ports.Record, error) {
	sealed, err := m.keys.seal(rec.Payload)
	if err != nil {
		return rec, fmt.Errorf("failed to encrypt %s %s: %w", rec.Kind, rec.Key, err)
	}
	rec.Payload = sealed
	return rec, nil
}

func (m *encryptionMiddleware) open(rec *ports.Record) error {
	plain, err := m.keys.open(rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to decrypt %s %s: %w", rec.Kind, rec.Key, err)
	}
	rec.Payload = plain
	return nil
}

func (m *encryptionMiddleware) Put(ctx context.Context, rec ports.Record) error {
	sealed, err := m.seal(rec)
	if err != nil {
		return err
	}
	return m.next.Put(ctx, sealed)
}

func (m *encryptionMiddleware) Insert(ctx context.Context, rec ports.Record) (bool, *ports.Record, error) {
	sealed, err := m.seal(rec)
	if err != nil {
		return false, nil, err
	}
	created, existing, err := m.next.Insert(ctx, sealed)
	if err != nil || created {
		return created, existing, err
	}
	if err := m.open(existing); err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (m *encryptionMiddleware) Get(ctx context.Context, kind, key string) (*ports.Record, error) {
	rec, err := m.next.Get(ctx, kind, key)
	if err != nil {
		return nil, err
	}
	if err := m.open(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Query decrypts every match. A record that no key opens fails the whole
// query rather than silently shrinking a fan-in batch.
func (m *encryptionMiddleware) Query(ctx context.Context, kind, field, value string) ([]ports.Record, error) {
	recs, err := m.next.Query(ctx, kind, field, value)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if err := m.open(&recs[i]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, kind string, keys ...string) error {
	return m.next.Delete(ctx, kind, keys...)
}

// Ping forwards to the wrapped store when it supports it.
func (m *encryptionMiddleware) Ping(ctx context.Context) error {
	if p, ok := m.next.(ports.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// keyring holds one AEAD per key; the first one seals.
type keyring struct {
	aeads []cipher.AEAD
}

func newKeyring(config EncryptionConfig) (*keyring, error) {
	kr := &keyring{}
	for _, key := range append([][]byte{config.ActiveKey}, config.FallbackKeys...) {
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		kr.aeads = append(kr.aeads, aead)
	}
	return kr, nil
}

// seal prefixes the ciphertext with a random nonce.
func (kr *keyring) seal(plain []byte) ([]byte, error) {
	aead := kr.aeads[0]
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

func (kr *keyring) open(sealed []byte) ([]byte, error) {
	for _, aead := range kr.aeads {
		n := aead.NonceSize()
		if len(sealed) < n {
			return nil, errors.New("ciphertext too short")
		}
		if plain, err := aead.Open(nil, sealed[:n], sealed[n:], nil); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}
