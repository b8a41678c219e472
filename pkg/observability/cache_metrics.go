package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricCacheHits   = "gitperf.cache.hits"
	metricCacheMisses = "gitperf.cache.misses"
)

// CacheStatsProvider reports cumulative hit/miss counts for a cache. Satisfied
// by [github.com/gitperf/gitperf/pkg/alg/lru.Cache]'s CacheHits/CacheMisses methods.
type CacheStatsProvider interface {
	CacheHits() int64
	CacheMisses() int64
}

// RegisterCacheMetrics registers asynchronous gauges reporting cumulative
// hit/miss counts for each named cache in caches, tagged with a "cache"
// attribute carrying its name. A nil provider is skipped.
func RegisterCacheMetrics(mt metric.Meter, caches map[string]CacheStatsProvider) error {
	hits, err := mt.Int64ObservableGauge(metricCacheHits,
		metric.WithDescription("Cumulative cache hits by cache name"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", metricCacheHits, err)
	}

	misses, err := mt.Int64ObservableGauge(metricCacheMisses,
		metric.WithDescription("Cumulative cache misses by cache name"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", metricCacheMisses, err)
	}

	_, err = mt.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		for name, provider := range caches {
			if provider == nil {
				continue
			}

			attrs := metric.WithAttributes(attribute.String("cache", name))
			obs.ObserveInt64(hits, provider.CacheHits(), attrs)
			obs.ObserveInt64(misses, provider.CacheMisses(), attrs)
		}

		return nil
	}, hits, misses)
	if err != nil {
		return fmt.Errorf("register cache metrics callback: %w", err)
	}

	return nil
}
