//go:build integration

package testhelpers

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/chinmina/oidc-gateway/internal/config"
	"github.com/chinmina/oidc-gateway/internal/encryption"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RunValkeyContainer starts a password protected Valkey container and returns
// a cache configuration pointing at it, with encryption enabled from a
// throwaway keyset file. The container is terminated via t.Cleanup().
func RunValkeyContainer(t *testing.T) config.CacheConfig {
	t.Helper()
	ctx := context.Background()

	valkeyPort := "6379"
	valkeyProtocolPort := valkeyPort + "/tcp"

	password := rand.Text()

	req := testcontainers.ContainerRequest{
		Image: "valkey/valkey:9-alpine",
		Env: map[string]string{
			"VALKEY_EXTRA_FLAGS": "--requirepass " + password,
		},
		ExposedPorts: []string{valkeyProtocolPort},
		WaitingFor: wait.ForAll(
			wait.ForLog("Ready to accept connections"),
			wait.ForListeningPort(nat.Port(valkeyProtocolPort)),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
		Logger:           log.TestLogger(t),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	port, err := container.MappedPort(ctx, nat.Port(valkeyPort))
	require.NoError(t, err)

	// Use 127.0.0.1 explicitly to avoid IPv6 issues
	endpoint := "127.0.0.1:" + port.Port()

	keysetFile := filepath.Join(t.TempDir(), "test-keyset.json")
	require.NoError(t, encryption.WriteTestKeyset(keysetFile))

	return config.CacheConfig{
		Type:             "valkey",
		MemoryMaxEntries: 100,
		Valkey: config.ValkeyConfig{
			TLS:      false,
			Address:  endpoint,
			Username: "default",
			Password: password,
		},
		Encryption: config.CacheEncryptionConfig{
			Enabled:    true,
			KeysetFile: keysetFile,
		},
	}
}
