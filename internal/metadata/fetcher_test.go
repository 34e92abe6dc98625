package metadata_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chinmina/oidc-gateway/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher_Success(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issuer":"x"}`))
	}))
	defer svr.Close()

	doc, err := metadata.NewHTTPFetcher(svr.Client(), false).Fetch(context.Background(), svr.URL)
	require.NoError(t, err)
	assert.Equal(t, `{"issuer":"x"}`, doc)
}

func TestHTTPFetcher_NilReceiver(t *testing.T) {
	var fetcher *metadata.HTTPFetcher

	_, err := fetcher.Fetch(context.Background(), "https://issuer.example")
	assert.ErrorIs(t, err, metadata.ErrArgumentMissing)
}

func TestHTTPFetcher_Status(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer svr.Close()

	_, err := metadata.NewHTTPFetcher(svr.Client(), false).Fetch(context.Background(), svr.URL+"/keys")
	require.Error(t, err)
	assert.ErrorIs(t, err, metadata.ErrFetchFailure)

	var statusErr metadata.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, svr.URL+"/keys", statusErr.Address)

	status, _ := statusErr.Status()
	assert.Equal(t, http.StatusBadGateway, status)
}

func TestHTTPFetcher_RequireHTTPS(t *testing.T) {
	called := false
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer svr.Close()

	_, err := metadata.NewHTTPFetcher(svr.Client(), true).Fetch(context.Background(), svr.URL)
	assert.ErrorIs(t, err, metadata.ErrFetchFailure)
	assert.Contains(t, err.Error(), "must use https")
	assert.False(t, called)
}

func TestHTTPFetcher_TLS(t *testing.T) {
	svr := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer svr.Close()

	doc, err := metadata.NewHTTPFetcher(svr.Client(), true).Fetch(context.Background(), svr.URL)
	require.NoError(t, err)
	assert.Equal(t, `{"keys":[]}`, doc)
}

func TestHTTPFetcher_TooLarge(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 1<<20+1)))
	}))
	defer svr.Close()

	_, err := metadata.NewHTTPFetcher(svr.Client(), false).Fetch(context.Background(), svr.URL)
	assert.ErrorIs(t, err, metadata.ErrFetchFailure)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestHTTPFetcher_Unreachable(t *testing.T) {
	svr := httptest.NewServer(http.NotFoundHandler())
	address := svr.URL
	svr.Close()

	_, err := metadata.NewHTTPFetcher(nil, false).Fetch(context.Background(), address)
	assert.ErrorIs(t, err, metadata.ErrFetchFailure)
}

func TestHTTPFetcher_Cancelled(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer svr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := metadata.NewHTTPFetcher(svr.Client(), false).Fetch(ctx, svr.URL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, metadata.ErrFetchFailure)
}
