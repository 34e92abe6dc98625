package metadata

import (
	"context"
	"time"

	"github.com/chinmina/oidc-gateway/internal/gate"
	"github.com/rs/zerolog"
)

// DocumentCache is the cache the retriever reads through and writes back to.
type DocumentCache interface {
	TryGetString(ctx context.Context, key string) (gate.Entry[string], error)
	SetString(ctx context.Context, key string, value string, ttlOverride time.Duration) error
}

// Retriever resolves a discovery address to a Configuration, consulting the
// cache before the network for both the discovery document and its key set.
//
// Concurrent misses for the same address each fetch from the source; callers
// wanting a single fetch must coalesce above this type.
type Retriever struct {
	cache  DocumentCache
	logger zerolog.Logger
}

func NewRetriever(cache DocumentCache, logger zerolog.Logger) *Retriever {
	return &Retriever{
		cache:  cache,
		logger: logger.With().Str("component", "metadata-retriever").Logger(),
	}
}

// GetConfiguration returns the configuration published at address, with its
// signing keys. Cache and fetch errors are returned as received; a document
// that cannot be decoded yields ErrParseFailure. Only an untyped nil fetcher
// is reported as ErrArgumentMissing; a nil *HTTPFetcher reports it from
// Fetch.
func (r *Retriever) GetConfiguration(ctx context.Context, address string, fetcher DocumentFetcher) (*Configuration, error) {
	if address == "" || fetcher == nil {
		return nil, ErrArgumentMissing
	}

	document, err := r.retrieve(ctx, address, fetcher)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfiguration(document)
	if err != nil {
		return nil, err
	}

	if cfg.JwksURI == "" {
		return cfg, nil
	}

	r.logger.Debug().Str("jwks_uri", cfg.JwksURI).Msg("retrieving json web keys")

	keySet, err := r.retrieve(ctx, cfg.JwksURI, fetcher)
	if err != nil {
		return nil, err
	}

	keys, err := ParseKeySet(keySet)
	if err != nil {
		return nil, err
	}
	cfg.SigningKeys = append(cfg.SigningKeys, keys...)

	return cfg, nil
}

// retrieve returns the cached document at address, fetching and caching it
// on a miss. An empty cached document is treated as a miss.
func (r *Retriever) retrieve(ctx context.Context, address string, fetcher DocumentFetcher) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	entry, err := r.cache.TryGetString(ctx, address)
	if err != nil {
		return "", err
	}
	if entry.Valid && entry.Value != "" {
		return entry.Value, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	document, err := fetcher.Fetch(ctx, address)
	if err != nil {
		return "", err
	}

	if err := r.cache.SetString(ctx, address, document, 0); err != nil {
		return "", err
	}

	r.logger.Debug().Str("address", address).Msg("metadata document cached")

	return document, nil
}
