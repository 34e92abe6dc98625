package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultAutomaticRefreshInterval = 12 * time.Hour
	DefaultRefreshInterval          = 5 * time.Minute

	// MinimumRefreshInterval is the floor for both intervals.
	MinimumRefreshInterval = time.Second
)

// ConfigurationRetriever loads a configuration from its address.
type ConfigurationRetriever interface {
	GetConfiguration(ctx context.Context, address string, fetcher DocumentFetcher) (*Configuration, error)
}

// Manager holds the current configuration for a single discovery address and
// decides when to reload it. Concurrent reloads are coalesced into one
// retrieval. If a reload fails while a configuration is held, the held
// configuration continues to be served and the reload is retried after the
// refresh interval.
type Manager struct {
	address   string
	retriever ConfigurationRetriever
	fetcher   DocumentFetcher
	logger    zerolog.Logger

	automaticRefresh time.Duration
	refresh          time.Duration
	now              func() time.Time

	group singleflight.Group

	mu            sync.RWMutex
	current       *Configuration
	syncAfter     time.Time
	lastRequested time.Time
}

type ManagerOption func(*Manager)

// WithAutomaticRefreshInterval sets how long a loaded configuration is
// served before it is reloaded.
func WithAutomaticRefreshInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.automaticRefresh = max(d, MinimumRefreshInterval)
	}
}

// WithRefreshInterval sets the minimum spacing of requested refreshes, and
// the retry delay after a failed reload.
func WithRefreshInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refresh = max(d, MinimumRefreshInterval)
	}
}

func withClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(address string, retriever ConfigurationRetriever, fetcher DocumentFetcher, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		address:          address,
		retriever:        retriever,
		fetcher:          fetcher,
		logger:           logger.With().Str("component", "metadata-manager").Str("address", address).Logger(),
		automaticRefresh: DefaultAutomaticRefreshInterval,
		refresh:          DefaultRefreshInterval,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Address is the discovery document address this manager loads.
func (m *Manager) Address() string {
	return m.address
}

// GetConfiguration returns the held configuration, reloading it first if it
// is due. The returned value is shared and must not be modified.
func (m *Manager) GetConfiguration(ctx context.Context) (*Configuration, error) {
	m.mu.RLock()
	current, syncAfter := m.current, m.syncAfter
	m.mu.RUnlock()

	if current != nil && m.now().Before(syncAfter) {
		return current, nil
	}

	// The shared reload is detached from this caller's cancellation so that a
	// caller giving up does not fail the others waiting on it.
	results := m.group.DoChan(m.address, func() (any, error) {
		return m.reload(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Configuration), nil
	}
}

// RequestRefresh marks the configuration for reload on the next call to
// GetConfiguration. Requests closer together than the refresh interval are
// ignored; the result reports whether this one was accepted.
func (m *Manager) RequestRefresh() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.lastRequested.IsZero() && now.Before(m.lastRequested.Add(m.refresh)) {
		m.logger.Debug().Msg("configuration refresh requested too soon, ignoring")
		return false
	}

	m.lastRequested = now
	m.syncAfter = now

	return true
}

func (m *Manager) reload(ctx context.Context) (*Configuration, error) {
	tracer := otel.Tracer("github.com/chinmina/oidc-gateway/internal/metadata")
	ctx, span := tracer.Start(ctx, "refresh_oidc_configuration")
	defer span.End()

	span.SetAttributes(attribute.String("oidc.metadata_address", m.address))

	cfg, err := m.retriever.GetConfiguration(ctx, m.address, m.fetcher)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "configuration refresh failed")

		if m.current == nil {
			return nil, err
		}

		m.syncAfter = now.Add(m.refresh)
		m.logger.Warn().Err(err).Msg("configuration refresh failed, continuing with previous configuration")

		return m.current, nil
	}

	m.current = cfg
	m.syncAfter = now.Add(m.automaticRefresh)

	span.SetAttributes(attribute.Int("oidc.signing_keys", len(cfg.SigningKeys)))
	span.SetStatus(codes.Ok, "configuration refreshed")
	m.logger.Info().
		Str("issuer", cfg.Issuer).
		Strs("kids", cfg.KeyIDs()).
		Msg("configuration refreshed")

	return cfg, nil
}
