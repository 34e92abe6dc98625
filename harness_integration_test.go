//go:build integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/chinmina/oidc-gateway/internal/cache"
	"github.com/chinmina/oidc-gateway/internal/config"
	"github.com/chinmina/oidc-gateway/internal/server"
	"github.com/chinmina/oidc-gateway/internal/testhelpers"
	jwxjwt "github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
	"gopkg.in/yaml.v3"
)

// APITestHarness manages the complete test environment for API integration tests.
// It runs a mock identity provider and the API server wired to it.
type APITestHarness struct {
	DefaultAudience string
	t               *testing.T
	Server          *httptest.Server
	OIDC            *testhelpers.MockOIDCServer
	Services        services

	settingsPath   string
	settings       *config.FileLookuper
	valkeyAddr     string
	valkeyPassword string
}

// APITestHarnessOption configures the API test harness.
type APITestHarnessOption func(*config.Config)

// WithValkeyCache configures the test harness to use a Valkey cache container.
func WithValkeyCache() APITestHarnessOption {
	return func(cfg *config.Config) {
		cfg.Cache.Type = "valkey"
	}
}

// NewAPITestHarness creates a mock provider and the API server.
// Cleanup is handled automatically via t.Cleanup().
func NewAPITestHarness(t *testing.T, options ...APITestHarnessOption) *APITestHarness {
	t.Helper()
	testhelpers.SetupLogger(t)
	hooks := server.ShutdownHooks{}

	t.Cleanup(func() {
		_ = hooks.Execute(context.Background())
	})

	harness := &APITestHarness{
		DefaultAudience: "test-audience",
		t:               t,
		settingsPath:    filepath.Join(t.TempDir(), "settings.yaml"),
	}

	harness.OIDC = testhelpers.SetupMockOIDCServer(t, testhelpers.GenerateJWK(t))

	cfg := config.Config{
		OIDC: config.OIDCConfig{
			IssuerURL:               harness.OIDC.Issuer(),
			Audience:                harness.DefaultAudience,
			AutomaticRefreshSeconds: 3600,
			RefreshSeconds:          1,
			FetchTimeoutSeconds:     5,
			RequireHTTPS:            false,
		},
		Cache: config.CacheConfig{
			Type:             "memory", // Default to memory cache for tests
			MemoryMaxEntries: 100,
		},
		Observe: config.ObserveConfig{
			Enabled: false,
		},
	}

	for _, opt := range options {
		opt(&cfg)
	}

	if cfg.Cache.Type == "valkey" {
		cacheCfg := testhelpers.RunValkeyContainer(t)
		cfg.Cache = cacheCfg
		harness.valkeyAddr = cacheCfg.Valkey.Address
		harness.valkeyPassword = cacheCfg.Valkey.Password
	}

	harness.SetSettings(map[string]string{config.CacheTimeoutSetting: "300"})
	file, err := config.NewFileLookuper(harness.settingsPath)
	require.NoError(t, err)
	harness.settings = file

	store, err := cache.NewFromConfig(context.Background(), cfg.Cache)
	require.NoError(t, err)
	hooks.AddClose("cache", store)

	harness.Services = configureServices(cfg, store, config.NewSettings(file))

	handler, err := configureServerRoutes(cfg, harness.Services)
	require.NoError(t, err)

	harness.Server = httptest.NewServer(handler)
	hooks.AddContext("api-server", func(context.Context) error {
		harness.Server.Close()
		return nil
	})

	return harness
}

// SetSettings replaces the runtime settings file and, once the harness is
// running, reloads it.
func (h *APITestHarness) SetSettings(values map[string]string) {
	h.t.Helper()

	data, err := yaml.Marshal(values)
	require.NoError(h.t, err)
	require.NoError(h.t, os.WriteFile(h.settingsPath, data, 0o600))

	if h.settings != nil {
		require.NoError(h.t, h.settings.Reload())
	}
}

// Token generates a valid JWT for subject, signed with the provider's key.
func (h *APITestHarness) Token(subject string) string {
	token := jwxjwt.New()
	_ = token.Set(jwxjwt.AudienceKey, []string{h.DefaultAudience})
	_ = token.Set(jwxjwt.SubjectKey, subject)
	_ = token.Set("name", "Integration User")

	return testhelpers.CreateJWT(h.t, h.OIDC.Key, h.OIDC.Issuer(), testhelpers.ValidClaims(token))
}

// Client returns a TestClient configured for this harness.
func (h *APITestHarness) Client() *TestClient {
	return &TestClient{
		baseURL: h.Server.URL,
		client:  http.DefaultClient,
	}
}

// newTestValkeyClient returns a connected valkey client for direct Valkey
// access in tests. Skips the test if this harness does not use Valkey.
func (h *APITestHarness) newTestValkeyClient(t *testing.T) valkey.Client {
	t.Helper()

	if h.valkeyAddr == "" {
		t.Skip("not a Valkey harness")
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{h.valkeyAddr},
		Username:    "default",
		Password:    h.valkeyPassword,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

// TestClient provides typed access to the gateway API for testing.
type TestClient struct {
	baseURL string
	client  *http.Client
}

// Response wraps raw HTTP response for low-level assertions.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Request performs a low-level HTTP request and returns the raw response.
func (c *TestClient) Request(method, path, token string) (*Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bodyBytes,
		Headers:    resp.Header,
	}, nil
}

// Metadata requests the provider metadata summary.
func (c *TestClient) Metadata(token string) (*MetadataResponse, *Response, error) {
	resp, err := c.Request(http.MethodGet, "/metadata", token)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp, nil
	}

	var result MetadataResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, resp, fmt.Errorf("unmarshal metadata response: %w", err)
	}

	return &result, resp, nil
}

// ClearCache requests invalidation of the cached metadata.
func (c *TestClient) ClearCache(token string) (*CacheInvalidationResponse, *Response, error) {
	resp, err := c.Request(http.MethodDelete, "/metadata/cache", token)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, resp, nil
	}

	var result CacheInvalidationResponse
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		return nil, resp, fmt.Errorf("unmarshal invalidation response: %w", err)
	}

	return &result, resp, nil
}
