package cache

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/chinmina/oidc-gateway/internal/config"
	"github.com/chinmina/oidc-gateway/internal/encryption"
	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// NewFromConfig creates the Store selected by cacheConfig.Type and wraps it
// with instrumentation.
//
// The cache type must be either "memory" or "valkey". Any other value returns
// an error. For "valkey", cacheConfig.Valkey.Address must be provided.
func NewFromConfig(ctx context.Context, cacheConfig config.CacheConfig) (Store, error) {
	switch cacheConfig.Type {
	case "valkey":
		log.Info().
			Str("cache_type", "valkey").
			Str("address", cacheConfig.Valkey.Address).
			Bool("tls", cacheConfig.Valkey.TLS).
			Int("db", cacheConfig.Valkey.DB).
			Msg("initializing distributed cache")

		if cacheConfig.Valkey.Address == "" {
			return nil, fmt.Errorf("valkey address is required when cache type is valkey")
		}

		valkeyClient, err := valkey.NewClient(valkeyOptions(cacheConfig.Valkey))
		if err != nil {
			return nil, fmt.Errorf("failed to create valkey client: %w", err)
		}

		var strategy EncryptionStrategy
		if cacheConfig.Encryption.Enabled {
			aead, err := newRefreshableAEAD(ctx, cacheConfig.Encryption)
			if err != nil {
				valkeyClient.Close()
				return nil, fmt.Errorf("initializing encryption: %w", err)
			}
			strategy = NewTinkEncryptionStrategy(aead)

			log.Info().Msg("cache encryption enabled with automatic keyset refresh")
		}

		return NewInstrumented(NewValkey(valkeyClient, strategy), "valkey"), nil

	case "memory":
		log.Info().
			Str("cache_type", "memory").
			Int("max_entries", cacheConfig.MemoryMaxEntries).
			Msg("initializing in-memory cache")

		memory, err := NewMemory(cacheConfig.MemoryMaxEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory cache: %w", err)
		}

		return NewInstrumented(memory, "memory"), nil

	default:
		return nil, fmt.Errorf("invalid cache type %q: must be either \"memory\" or \"valkey\"", cacheConfig.Type)
	}
}

func valkeyOptions(cfg config.ValkeyConfig) valkey.ClientOption {
	opts := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		SelectDB:          cfg.DB,
		AuthCredentialsFn: StaticCredentialsFn(cfg.Username, cfg.Password),
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return opts
}

// newRefreshableAEAD prefers a local keyset file over the Secrets Manager
// keyset when both are configured.
func newRefreshableAEAD(ctx context.Context, cfg config.CacheEncryptionConfig) (*encryption.RefreshableAEAD, error) {
	if cfg.KeysetFile != "" {
		return encryption.NewRefreshableAEADFromFile(ctx, cfg.KeysetFile)
	}
	return encryption.NewRefreshableAEAD(ctx, cfg.KeysetURI, cfg.KMSEnvelopeKeyURI)
}
