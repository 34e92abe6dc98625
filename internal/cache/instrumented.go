package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce     sync.Once
	cacheOperations metric.Int64Counter
	cacheDuration   metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter("github.com/chinmina/oidc-gateway/internal/cache")

		var err error
		cacheOperations, err = meter.Int64Counter(
			"cache.operations",
			metric.WithDescription("Total cache store operations"),
		)
		if err != nil {
			otel.Handle(err)
		}

		cacheDuration, err = meter.Float64Histogram(
			"cache.operation.duration",
			metric.WithDescription("Cache store operation duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			otel.Handle(err)
		}
	})
}

// Instrumented wraps a Store with metrics and span attributes.
type Instrumented struct {
	wrapped   Store
	cacheType string
}

// NewInstrumented creates an instrumented store wrapper.
func NewInstrumented(store Store, cacheType string) *Instrumented {
	initMetrics()
	return &Instrumented{
		wrapped:   store,
		cacheType: cacheType,
	}
}

func (i *Instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	found, err := i.wrapped.Exists(ctx, key)

	status := "miss"
	if err != nil {
		status = "error"
	} else if found {
		status = "hit"
	}
	i.record(ctx, "exists", status, time.Since(start))

	return found, err
}

func (i *Instrumented) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	value, err := i.wrapped.Get(ctx, key)

	status := "hit"
	if errors.Is(err, ErrNotFound) {
		status = "miss"
	} else if err != nil {
		status = "error"
	}
	i.record(ctx, "get", status, time.Since(start))

	return value, err
}

func (i *Instrumented) Set(ctx context.Context, key string, value string) error {
	start := time.Now()
	err := i.wrapped.Set(ctx, key, value)
	i.record(ctx, "set", outcome(err), time.Since(start))
	return err
}

func (i *Instrumented) Expire(ctx context.Context, key string, ttl time.Duration) error {
	start := time.Now()
	err := i.wrapped.Expire(ctx, key, ttl)
	i.record(ctx, "expire", outcome(err), time.Since(start))
	return err
}

func (i *Instrumented) Delete(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	removed, err := i.wrapped.Delete(ctx, key)
	i.record(ctx, "delete", outcome(err), time.Since(start))
	return removed, err
}

func (i *Instrumented) Flush(ctx context.Context) error {
	start := time.Now()
	err := i.wrapped.Flush(ctx)
	i.record(ctx, "flush", outcome(err), time.Since(start))
	return err
}

// Close releases any resources held by the store.
func (i *Instrumented) Close() error {
	return i.wrapped.Close()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (i *Instrumented) record(ctx context.Context, operation, status string, duration time.Duration) {
	if cacheOperations != nil {
		cacheOperations.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("cache.type", i.cacheType),
				attribute.String("cache.operation", operation),
				attribute.String("cache.status", status),
			),
		)
	}

	if cacheDuration != nil {
		cacheDuration.Record(ctx, duration.Seconds(),
			metric.WithAttributes(
				attribute.String("cache.type", i.cacheType),
				attribute.String("cache.operation", operation),
			),
		)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("cache.type", i.cacheType),
		attribute.String("cache."+operation+".status", status),
		attribute.Float64("cache."+operation+".duration", duration.Seconds()),
	)
}
