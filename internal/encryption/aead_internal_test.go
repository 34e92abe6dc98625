package encryption

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tink-crypto/tink-go/v2/tink"
)

func TestValidate(t *testing.T) {
	primitive, err := NewTestAEAD()
	require.NoError(t, err)

	tests := []struct {
		name        string
		aead        tink.AEAD
		errContains string
	}{
		{name: "working primitive", aead: primitive},
		{name: "encrypt failure", aead: &failingAEAD{encryptErr: errors.New("encrypt broken")}, errContains: "validation encrypt failed"},
		{name: "decrypt failure", aead: &failingAEAD{decryptErr: errors.New("decrypt broken")}, errContains: "validation decrypt failed"},
		{name: "round trip mismatch", aead: &mismatchAEAD{}, errContains: "validation round-trip failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.aead)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestNewAEADFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyset.json")
	require.NoError(t, WriteTestKeyset(path))

	primitive, err := NewAEADFromFile(path)
	require.NoError(t, err)

	ciphertext, err := primitive.Encrypt([]byte("document"), []byte("key"))
	require.NoError(t, err)

	// a second load of the same file must open what the first sealed
	reloaded, err := NewAEADFromFile(path)
	require.NoError(t, err)

	plaintext, err := reloaded.Decrypt(ciphertext, []byte("key"))
	require.NoError(t, err)
	assert.Equal(t, []byte("document"), plaintext)
}

func TestNewAEADFromFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewAEADFromFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening keyset file")

	garbage := filepath.Join(dir, "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{not a keyset"), 0o600))

	_, err = NewAEADFromFile(garbage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading keyset file")
}

func TestSecretNameFromURI(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		expected    string
		errContains string
	}{
		{name: "valid", uri: "aws-secretsmanager://gateway/keyset", expected: "gateway/keyset"},
		{name: "missing prefix", uri: "https://example.com/secret", errContains: "must start with aws-secretsmanager://"},
		{name: "wrong scheme", uri: "aws-kms://some-key", errContains: "must start with aws-secretsmanager://"},
		{name: "empty string", uri: "", errContains: "must start with aws-secretsmanager://"},
		{name: "prefix only", uri: "aws-secretsmanager://", errContains: "secret name is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, err := secretNameFromURI(tt.uri)
			if tt.errContains == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, name)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

type failingAEAD struct {
	encryptErr error
	decryptErr error
}

func (f *failingAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	if f.encryptErr != nil {
		return nil, f.encryptErr
	}
	return plaintext, nil
}

func (f *failingAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	if f.decryptErr != nil {
		return nil, f.decryptErr
	}
	return ciphertext, nil
}

// mismatchAEAD encrypts normally but returns the wrong plaintext.
type mismatchAEAD struct{}

func (m *mismatchAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	return plaintext, nil
}

func (m *mismatchAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	return []byte("wrong data"), nil
}
