package cache

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/tink-crypto/tink-go/v2/tink"
)

// valuePrefix marks encrypted values so that plaintext entries left over from
// before encryption was enabled are rejected instead of trusted.
const valuePrefix = "og-enc:"

// storageKeyPrefix keeps encrypted and plaintext entries in separate key
// spaces.
const storageKeyPrefix = "enc:"

// EncryptionStrategy defines how cached values are sealed and opened, and how
// storage keys are decorated.
type EncryptionStrategy interface {
	// EncryptValue seals a value for storage. The key is bound to the
	// ciphertext as associated data.
	EncryptValue(ctx context.Context, value []byte, key string) (string, error)

	// DecryptValue opens a stored value. The key must match the one used
	// during encryption.
	DecryptValue(ctx context.Context, stored string, key string) ([]byte, error)

	// StorageKey returns the cache key, potentially decorated with a prefix.
	StorageKey(key string) string

	// Close releases resources held by the strategy.
	Close() error
}

// NoEncryptionStrategy is a pass-through that stores values as-is.
type NoEncryptionStrategy struct{}

func (s *NoEncryptionStrategy) EncryptValue(_ context.Context, value []byte, _ string) (string, error) {
	return string(value), nil
}

func (s *NoEncryptionStrategy) DecryptValue(_ context.Context, stored string, _ string) ([]byte, error) {
	return []byte(stored), nil
}

func (s *NoEncryptionStrategy) StorageKey(key string) string {
	return key
}

func (s *NoEncryptionStrategy) Close() error {
	return nil
}

// TinkEncryptionStrategy seals cached documents with a Tink AEAD primitive.
// The cache key is the associated data, so a ciphertext copied to a different
// key (say, a forged key set placed at the discovery address) fails to open.
type TinkEncryptionStrategy struct {
	aead tink.AEAD
}

// NewTinkEncryptionStrategy creates an encryption strategy backed by a Tink AEAD.
func NewTinkEncryptionStrategy(aead tink.AEAD) *TinkEncryptionStrategy {
	return &TinkEncryptionStrategy{aead: aead}
}

func (s *TinkEncryptionStrategy) EncryptValue(_ context.Context, value []byte, key string) (string, error) {
	ciphertext, err := s.aead.Encrypt(value, []byte(key))
	if err != nil {
		return "", fmt.Errorf("encrypting value: %w", err)
	}
	return valuePrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *TinkEncryptionStrategy) DecryptValue(_ context.Context, stored string, key string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(stored, valuePrefix)
	if !ok {
		return nil, fmt.Errorf("missing %q prefix: value may be unencrypted or corrupted", valuePrefix)
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode failed: %w", err)
	}

	plaintext, err := s.aead.Decrypt(decoded, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

func (s *TinkEncryptionStrategy) StorageKey(key string) string {
	return storageKeyPrefix + key
}

func (s *TinkEncryptionStrategy) Close() error {
	if closer, ok := s.aead.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
