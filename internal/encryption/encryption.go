// Package encryption implements per-tenant symmetric AEAD encryption of
// payload content using ChaCha20-Poly1305.
package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrKeyMissing is fatal for encrypted writes: a missing per-tenant key
	// is never silently skipped in favor of storing plaintext.
	ErrKeyMissing      = errors.New("encryption: no key registered for tenant")
	ErrCiphertextShort = errors.New("encryption: ciphertext too short")
)

// KeyStore resolves a tenant's symmetric key. Keys are cached in process;
// a missing key is a fatal error for encrypted writes, never a silent
// plaintext fallback.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewKeyStore returns an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: map[string][]byte{}}
}

// SetKey registers a 32-byte key for tenantID.
func (k *KeyStore) SetKey(tenantID string, key []byte) error {
	if len(key) != chacha20poly1305.KeySize {
		return fmt.Errorf("encryption: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[tenantID] = key
	return nil
}

// GenerateKey creates and registers a new random key for tenantID.
func (k *KeyStore) GenerateKey(tenantID string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate tenant key: %w", err)
	}
	if err := k.SetKey(tenantID, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (k *KeyStore) key(tenantID string) ([]byte, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: tenant %q", ErrKeyMissing, tenantID)
	}
	return key, nil
}

// Service encrypts and decrypts content per-tenant.
type Service struct {
	keys *KeyStore
}

// New wraps a KeyStore as an EncryptionService.
func New(keys *KeyStore) *Service {
	return &Service{keys: keys}
}

// Encrypt seals content under tenantID's key, returning a base64-encoded
// nonce||ciphertext blob. If encryption is requested and fails, callers
// must abort the write — never store plaintext when encryption was
// intended.
func (s *Service) Encrypt(tenantID, content string) (string, error) {
	key, err := s.keys.key(tenantID)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("encryption: construct AEAD: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("encryption: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nonce, nonce, []byte(content), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens a blob previously produced by Encrypt for tenantID:
// Decrypt(t, Encrypt(t, m)) returns m. Encrypt draws a fresh random nonce
// on every call, so encrypting the result of Decrypt(t, x) yields a new
// blob, not x itself.
func (s *Service) Decrypt(tenantID, blob string) (string, error) {
	key, err := s.keys.key(tenantID)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("encryption: construct AEAD: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("encryption: decode ciphertext: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrCiphertextShort
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("encryption: open ciphertext: %w", err)
	}
	return string(plaintext), nil
}

// ShouldEncrypt reports whether content destined for tenantID must be
// encrypted: non-public tenants are always encrypted, public tenants only
// when the caller explicitly requests it.
func ShouldEncrypt(tenantID string, explicitRequest bool) bool {
	return tenantID != "public" || explicitRequest
}
