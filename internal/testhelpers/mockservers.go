package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"
)

// MockOIDCServer is an identity provider serving a discovery document and a
// key set containing the public half of Key.
type MockOIDCServer struct {
	Server *httptest.Server
	Key    jwk.Key

	// StatusCode, when set, is returned for every request instead of a
	// document.
	StatusCode atomic.Int32

	DiscoveryRequests atomic.Int32
	KeysRequests      atomic.Int32

	mu  sync.RWMutex
	set jwk.Set
}

// SetupMockOIDCServer starts a mock provider publishing key. The server is
// closed via t.Cleanup().
func SetupMockOIDCServer(t *testing.T, key jwk.Key) *MockOIDCServer {
	t.Helper()

	mock := &MockOIDCServer{Key: key}
	mock.RotateKey(t, key)

	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			mock.DiscoveryRequests.Add(1)
		case "/.well-known/jwks.json":
			mock.KeysRequests.Add(1)
		default:
			http.Error(w, "unexpected OIDC server request: "+r.URL.String(), http.StatusNotFound)
			return
		}

		if status := mock.StatusCode.Load(); status != 0 {
			http.Error(w, http.StatusText(int(status)), int(status))
			return
		}

		if r.URL.Path == "/.well-known/jwks.json" {
			mock.mu.RLock()
			set := mock.set
			mock.mu.RUnlock()

			WriteJSON(w, set)
			return
		}

		issuer := mock.Server.URL
		WriteJSON(w, map[string]any{
			"issuer":                                issuer,
			"authorization_endpoint":                issuer + "/authorize",
			"token_endpoint":                        issuer + "/oauth/token",
			"jwks_uri":                              issuer + "/.well-known/jwks.json",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	}))

	t.Cleanup(mock.Server.Close)

	return mock
}

// RotateKey replaces the published key set with the public half of key.
func (m *MockOIDCServer) RotateKey(t *testing.T, key jwk.Key) {
	t.Helper()

	publicKey, err := jwk.PublicKeyOf(key)
	require.NoError(t, err, "failed to get public key")

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(publicKey), "failed to add public key to set")

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Key = key
	m.set = set
}

// Issuer is the issuer URL the server advertises.
func (m *MockOIDCServer) Issuer() string {
	return m.Server.URL
}

// DiscoveryURL is the address of the discovery document.
func (m *MockOIDCServer) DiscoveryURL() string {
	return m.Server.URL + "/.well-known/openid-configuration"
}

// KeysURL is the address of the key set.
func (m *MockOIDCServer) KeysURL() string {
	return m.Server.URL + "/.well-known/jwks.json"
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
