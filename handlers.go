package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/chinmina/oidc-gateway/internal/audit"
	"github.com/chinmina/oidc-gateway/internal/cache"
	"github.com/chinmina/oidc-gateway/internal/jwt"
	"github.com/chinmina/oidc-gateway/internal/metadata"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// ConfigurationSource is the view of the metadata manager the handlers need.
type ConfigurationSource interface {
	GetConfiguration(ctx context.Context) (*metadata.Configuration, error)
	RequestRefresh() bool
	Address() string
}

// CacheRemover removes single entries from the metadata cache.
type CacheRemover interface {
	Remove(ctx context.Context, key string) (bool, error)
}

// TestResponse is returned by the authenticated test route.
type TestResponse struct {
	ObjectName string `json:"objectName"`
	ObjectType int    `json:"objectType"`
	Name       string `json:"name"`
}

// MetadataResponse summarises the provider configuration in use.
type MetadataResponse struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string   `json:"token_endpoint,omitempty"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
	JwksURI               string   `json:"jwks_uri,omitempty"`
	KeyIDs                []string `json:"key_ids"`
}

// CacheInvalidationResponse reports the result of clearing the metadata cache.
type CacheInvalidationResponse struct {
	Invalidated      []string `json:"invalidated"`
	RefreshRequested bool     `json:"refresh_requested"`
}

func handleGetTest() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		name := ""
		if claims := jwt.ClaimsFromContext(r.Context()); claims != nil {
			name = claims.RegisteredClaims.Subject
		}
		if profile := jwt.ProfileClaimsFromContext(r.Context()); profile != nil && profile.DisplayName() != "" {
			name = profile.DisplayName()
		}

		writeJSON(w, TestResponse{
			ObjectName: "Test",
			ObjectType: 2,
			Name:       name,
		})
	})
}

func handleGetMetadata(source ConfigurationSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		cfg, err := source.GetConfiguration(r.Context())
		if err != nil {
			status, message := errorStatus(err)
			log.Info().Err(err).Msg("metadata retrieval failed")
			writeJSONError(w, status, message)
			return
		}

		entry := audit.Log(r.Context())
		entry.Issuer = cfg.Issuer
		entry.KeyIDs = cfg.KeyIDs()

		writeJSON(w, MetadataResponse{
			Issuer:                cfg.Issuer,
			AuthorizationEndpoint: cfg.AuthorizationEndpoint,
			TokenEndpoint:         cfg.TokenEndpoint,
			UserinfoEndpoint:      cfg.UserinfoEndpoint,
			JwksURI:               cfg.JwksURI,
			KeyIDs:                cfg.KeyIDs(),
		})
	})
}

// handleDeleteMetadataCache removes the cached discovery and key set
// documents and asks the manager to reload them on next use.
func handleDeleteMetadataCache(source ConfigurationSource, remover CacheRemover) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		keys, err := invalidateMetadata(r.Context(), source, remover)

		entry := audit.Log(r.Context())
		entry.CacheInvalidated = append(entry.CacheInvalidated, keys...)

		if err != nil {
			status, message := errorStatus(err)
			log.Info().Err(err).Msg("metadata cache removal failed")
			writeJSONError(w, status, message)
			return
		}

		refreshed := source.RequestRefresh()
		entry.RefreshRequested = refreshed

		writeJSON(w, CacheInvalidationResponse{
			Invalidated:      keys,
			RefreshRequested: refreshed,
		})
	})
}

// refreshSigningKeys is used by the authorizer when a token names a key that
// the current configuration does not hold. The cached documents are dropped
// so the reload reaches the provider.
func refreshSigningKeys(source ConfigurationSource, remover CacheRemover) jwt.KeyRefreshFunc {
	return func(ctx context.Context) bool {
		if _, err := invalidateMetadata(ctx, source, remover); err != nil {
			log.Info().Err(err).Msg("metadata cache removal failed, signing key refresh skipped")
			return false
		}
		return source.RequestRefresh()
	}
}

// invalidateMetadata removes the cached discovery document and, when the
// current configuration names one, the cached key set. It stops at the first
// failed removal and returns the keys removed before it.
func invalidateMetadata(ctx context.Context, source ConfigurationSource, remover CacheRemover) ([]string, error) {
	keys := []string{source.Address()}

	// the key set address is only known from the current configuration
	cfg, err := source.GetConfiguration(ctx)
	if err != nil {
		log.Info().Err(err).Msg("current metadata unavailable, clearing discovery document only")
	} else if cfg.JwksURI != "" {
		keys = append(keys, cfg.JwksURI)
	}

	removed := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, err := remover.Remove(ctx, key); err != nil {
			return removed, fmt.Errorf("removing %s: %w", key, err)
		}
		removed = append(removed, key)
	}

	return removed, nil
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, payload any) {
	marshalledResponse, err := json.Marshal(payload)
	if err != nil {
		requestError(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(marshalledResponse); err != nil {
		// record failure to log: trying to respond to the client at this
		// point will likely fail
		log.Info().Msgf("failed to write response: %v", err)
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Error: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that are not
// recognised.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	switch {
	case errors.As(err, &statuser):
		return statuser.Status()
	case errors.Is(err, metadata.ErrParseFailure):
		return http.StatusBadGateway, "identity provider metadata invalid"
	case errors.Is(err, metadata.ErrFetchFailure):
		return http.StatusBadGateway, "identity provider metadata unavailable"
	case errors.Is(err, cache.ErrUnavailable):
		return http.StatusServiceUnavailable, "metadata cache unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, http.StatusText(http.StatusGatewayTimeout)
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		_, _ = io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
