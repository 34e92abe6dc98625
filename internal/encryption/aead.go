package encryption

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tink-crypto/tink-go-awskms/v3/integration/awskms"
	"github.com/tink-crypto/tink-go/v2/aead"
	"github.com/tink-crypto/tink-go/v2/insecurecleartextkeyset"
	"github.com/tink-crypto/tink-go/v2/keyset"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// Validate performs a test encryption/decryption cycle to verify the AEAD is
// working. Call this at startup to fail fast if encryption is misconfigured.
func Validate(a tink.AEAD) error {
	testPlaintext := []byte("oidc-gateway-encryption-test")
	testAAD := []byte("validation")

	ciphertext, err := a.Encrypt(testPlaintext, testAAD)
	if err != nil {
		return fmt.Errorf("validation encrypt failed: %w", err)
	}

	decrypted, err := a.Decrypt(ciphertext, testAAD)
	if err != nil {
		return fmt.Errorf("validation decrypt failed: %w", err)
	}

	if !bytes.Equal(testPlaintext, decrypted) {
		return fmt.Errorf("validation round-trip failed: plaintext mismatch")
	}

	return nil
}

// NewAEADFromFile reads a cleartext Tink JSON keyset from path. The keyset is
// unprotected at rest, so this is meant for development and tests.
func NewAEADFromFile(path string) (tink.AEAD, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening keyset file: %w", err)
	}
	defer f.Close()

	handle, err := insecurecleartextkeyset.Read(keyset.NewJSONReader(f))
	if err != nil {
		return nil, fmt.Errorf("reading keyset file %s: %w", path, err)
	}

	return newValidatedAEAD(handle)
}

// NewAEADFromKMS creates a tink.AEAD from a keyset stored in AWS Secrets
// Manager, encrypted with an AWS KMS key. The KMS key is only used to decrypt
// the keyset; encrypt and decrypt operations afterwards are local.
//
// keysetURI format: aws-secretsmanager://secret-name
// kmsEnvelopeKeyURI format: aws-kms://arn:aws:kms:region:account:key/key-id
func NewAEADFromKMS(ctx context.Context, keysetURI, kmsEnvelopeKeyURI string) (tink.AEAD, error) {
	secretName, err := secretNameFromURI(keysetURI)
	if err != nil {
		return nil, err
	}

	kmsAEAD, err := awskms.NewAEADWithContext(ctx, kmsEnvelopeKeyURI)
	if err != nil {
		return nil, fmt.Errorf("creating KMS AEAD: %w", err)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	result, err := secretsmanager.NewFromConfig(cfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretName,
	})
	if err != nil {
		return nil, fmt.Errorf("getting secret %q: %w", secretName, err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %q has no string value", secretName)
	}

	handle, err := keyset.ReadWithContext(ctx, keyset.NewJSONReader(strings.NewReader(*result.SecretString)), kmsAEAD, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting keyset: %w", err)
	}

	return newValidatedAEAD(handle)
}

func secretNameFromURI(uri string) (string, error) {
	const prefix = "aws-secretsmanager://"

	name, ok := strings.CutPrefix(uri, prefix)
	if !ok {
		return "", fmt.Errorf("invalid secrets manager URI %q: must start with %s", uri, prefix)
	}
	if name == "" {
		return "", fmt.Errorf("invalid secrets manager URI %q: secret name is empty", uri)
	}
	return name, nil
}

func newValidatedAEAD(handle *keyset.Handle) (tink.AEAD, error) {
	primitive, err := aead.New(handle)
	if err != nil {
		return nil, fmt.Errorf("creating AEAD primitive: %w", err)
	}

	if err := Validate(primitive); err != nil {
		return nil, fmt.Errorf("validating AEAD: %w", err)
	}

	return primitive, nil
}

// NewTestAEAD creates a tink.AEAD for testing without KMS.
// Only use in tests: keys are not persisted or protected.
func NewTestAEAD() (tink.AEAD, error) {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return nil, fmt.Errorf("creating test keyset handle: %w", err)
	}
	return newValidatedAEAD(handle)
}

// WriteTestKeyset generates an AES256-GCM keyset and writes it as cleartext
// JSON to path, for use with NewAEADFromFile.
func WriteTestKeyset(path string) error {
	handle, err := keyset.NewHandle(aead.AES256GCMKeyTemplate())
	if err != nil {
		return fmt.Errorf("creating test keyset handle: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating keyset file: %w", err)
	}
	defer f.Close()

	if err := insecurecleartextkeyset.Write(handle, keyset.NewJSONWriter(f)); err != nil {
		return fmt.Errorf("writing keyset file: %w", err)
	}
	return nil
}
