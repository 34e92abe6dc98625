package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Cache   CacheConfig
	Observe ObserveConfig
	OIDC    OIDCConfig
	Server  ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`

	// SettingsFile is an optional YAML file of runtime settings that is
	// re-read on SIGHUP. Values in the environment take precedence.
	SettingsFile string `env:"SETTINGS_FILE"`
}

// OIDCConfig describes the identity provider whose metadata is retrieved and
// cached.
type OIDCConfig struct {
	IssuerURL string `env:"OIDC_ISSUER_URL, required"`
	Audience  string `env:"OIDC_AUDIENCE, default=oidc-gateway"`

	// DiscoveryEndpoint is the address of the OpenID Connect discovery
	// document. When empty it is derived from the issuer.
	DiscoveryEndpoint string `env:"STS_DISCOVERY_ENDPOINT"`

	AutomaticRefreshSeconds int `env:"OIDC_AUTOMATIC_REFRESH_SECS, default=43200"`
	RefreshSeconds          int `env:"OIDC_REFRESH_SECS, default=300"`
	FetchTimeoutSeconds     int `env:"OIDC_FETCH_TIMEOUT_SECS, default=30"`

	// RequireHTTPS rejects metadata addresses that are not https.
	RequireHTTPS bool `env:"OIDC_REQUIRE_HTTPS, default=true"`
}

// MetadataAddress returns the discovery document address, falling back to the
// well-known location under the issuer.
func (c OIDCConfig) MetadataAddress() string {
	if c.DiscoveryEndpoint != "" {
		return c.DiscoveryEndpoint
	}
	return strings.TrimSuffix(c.IssuerURL, "/") + "/.well-known/openid-configuration"
}

// CacheConfig specifies cache configuration.
type CacheConfig struct {
	// Type selects the store implementation: "valkey" (default) or "memory".
	Type string `env:"CACHE_TYPE, default=valkey"`

	// MemoryMaxEntries bounds the in-memory store.
	MemoryMaxEntries int `env:"CACHE_MEMORY_MAX_ENTRIES, default=1000"`

	// Valkey holds distributed cache settings.
	Valkey ValkeyConfig

	// Encryption holds cache encryption settings.
	// Only supported with valkey cache type.
	Encryption CacheEncryptionConfig
}

// ValkeyConfig specifies distributed cache configuration.
type ValkeyConfig struct {
	// Address is the Valkey server address (host:port).
	Address string `env:"VALKEY_ADDRESS"`

	// TLS enables TLS connection to Valkey. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"VALKEY_TLS, default=true"`

	Username string `env:"VALKEY_USERNAME"`
	Password string `env:"VALKEY_PASSWORD"`

	// DB selects the logical database. Flushing the cache flushes this
	// database only.
	DB int `env:"VALKEY_DB, default=0"`
}

// CacheEncryptionConfig holds settings for authenticated encryption of cached
// documents. A cached key set is trusted for token validation, so encryption
// doubles as tamper detection for anything written to the shared cache.
type CacheEncryptionConfig struct {
	Enabled bool `env:"CACHE_ENCRYPTION_ENABLED, default=false"`

	// KeysetFile is a path to a cleartext Tink JSON keyset. Intended for local
	// development and integration tests.
	KeysetFile string `env:"CACHE_ENCRYPTION_KEYSET_FILE"`

	// KeysetURI is the URI to the encrypted Tink keyset.
	// Format: aws-secretsmanager://secret-name
	KeysetURI string `env:"CACHE_ENCRYPTION_KEYSET_URI"`

	// KMSEnvelopeKeyURI is the AWS KMS key URI for envelope encryption.
	// Format: aws-kms://arn:aws:kms:region:account:key/key-id
	KMSEnvelopeKeyURI string `env:"CACHE_ENCRYPTION_KMS_ENVELOPE_KEY_URI"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=oidc-gateway"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Cache.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	err = cfg.OIDC.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid OIDC configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "valkey", "memory":
	default:
		return fmt.Errorf("CACHE_TYPE must be either \"memory\" or \"valkey\", got %q", c.Type)
	}

	if c.Encryption.Enabled && c.Type != "valkey" {
		return fmt.Errorf("cache encryption requires CACHE_TYPE=valkey")
	}

	// Encryption requires a keyset: either a local file or the KMS-wrapped pair.
	if c.Encryption.Enabled && c.Encryption.KeysetFile == "" {
		if c.Encryption.KeysetURI == "" {
			return fmt.Errorf("CACHE_ENCRYPTION_KEYSET_URI required when encryption enabled")
		}
		if c.Encryption.KMSEnvelopeKeyURI == "" {
			return fmt.Errorf("CACHE_ENCRYPTION_KMS_ENVELOPE_KEY_URI required when encryption enabled")
		}
	}

	if c.Type == "valkey" && c.Valkey.Address == "" {
		return fmt.Errorf("VALKEY_ADDRESS required when CACHE_TYPE=valkey")
	}

	if c.Valkey.DB < 0 {
		return fmt.Errorf("VALKEY_DB must not be negative")
	}

	return nil
}

// Validate checks the refresh intervals are usable.
func (c *OIDCConfig) Validate() error {
	if c.RefreshSeconds <= 0 {
		return fmt.Errorf("OIDC_REFRESH_SECS must be positive")
	}
	if c.AutomaticRefreshSeconds < c.RefreshSeconds {
		return fmt.Errorf("OIDC_AUTOMATIC_REFRESH_SECS must not be less than OIDC_REFRESH_SECS")
	}
	if c.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("OIDC_FETCH_TIMEOUT_SECS must be positive")
	}
	return nil
}
