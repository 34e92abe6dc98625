package observe

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/chinmina/oidc-gateway/internal/config"
	"github.com/chinmina/oidc-gateway/internal/testhelpers"
)

func TestConfigure_Disabled(t *testing.T) {
	testhelpers.SetupLogger(t)

	shutdown, err := Configure(context.Background(), config.ObserveConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_Stdout(t *testing.T) {
	testhelpers.SetupLogger(t)

	shutdown, err := Configure(context.Background(), config.ObserveConfig{
		Enabled:                   true,
		MetricsEnabled:            true,
		Type:                      "stdout",
		ServiceName:               "test-service",
		SDKLogLevel:               "warn",
		TraceBatchTimeoutSeconds:  1,
		MetricReadIntervalSeconds: 1,
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigure_UnsupportedType(t *testing.T) {
	testhelpers.SetupLogger(t)

	_, err := Configure(context.Background(), config.ObserveConfig{
		Enabled: true,
		Type:    "carrier-pigeon",
	})
	assert.ErrorContains(t, err, `unsupported telemetry exporter type "carrier-pigeon"`)
}

func TestHTTPTransport(t *testing.T) {
	base := http.DefaultTransport

	tests := []struct {
		name    string
		cfg     config.ObserveConfig
		wrapped bool
	}{
		{"telemetry disabled", config.ObserveConfig{Enabled: false, HTTPTransportEnabled: true}, false},
		{"transport disabled", config.ObserveConfig{Enabled: true, HTTPTransportEnabled: false}, false},
		{"enabled", config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true}, true},
		{"enabled with connection trace", config.ObserveConfig{Enabled: true, HTTPTransportEnabled: true, HTTPConnectionTraceEnabled: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := HTTPTransport(base, tt.cfg)

			if !tt.wrapped {
				assert.Same(t, base, transport)
				return
			}

			assert.IsType(t, &otelhttp.Transport{}, transport)
		})
	}
}
