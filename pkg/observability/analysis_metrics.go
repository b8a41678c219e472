package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricCommitsWalkedTotal = "gitperf.walk.commits.total"
	metricDecodeCacheHits    = "gitperf.walk.decode_cache.hits.total"
	metricDecodeCacheMisses  = "gitperf.walk.decode_cache.misses.total"
	metricBloomFilteredTotal = "gitperf.walk.bloom_filtered.total"

	attrCache = "cache"
)

// WalkMetrics holds OTel instruments for the commit walker's per-invocation
// decode cache and bloom pre-filter.
type WalkMetrics struct {
	commitsWalked metric.Int64Counter
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	bloomSkipped  metric.Int64Counter
}

// NewWalkMetrics creates walker metric instruments from the given meter.
func NewWalkMetrics(mt metric.Meter) (*WalkMetrics, error) {
	commits, err := mt.Int64Counter(metricCommitsWalkedTotal,
		metric.WithDescription("Total commits visited by the commit walker"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCommitsWalkedTotal, err)
	}

	hits, err := mt.Int64Counter(metricDecodeCacheHits,
		metric.WithDescription("Decode cache hits during a walk"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricDecodeCacheHits, err)
	}

	misses, err := mt.Int64Counter(metricDecodeCacheMisses,
		metric.WithDescription("Decode cache misses during a walk"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricDecodeCacheMisses, err)
	}

	skipped, err := mt.Int64Counter(metricBloomFilteredTotal,
		metric.WithDescription("Commits skipped by the has-a-note bloom pre-filter"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBloomFilteredTotal, err)
	}

	return &WalkMetrics{
		commitsWalked: commits,
		cacheHits:     hits,
		cacheMisses:   misses,
		bloomSkipped:  skipped,
	}, nil
}

// RecordCommit records one commit visited during a walk, plus whether its
// decoded records came from cache and whether the bloom filter short-circuited it.
// Safe to call on a nil receiver (no-op), so callers needn't guard every call site.
func (wm *WalkMetrics) RecordCommit(ctx context.Context, cacheHit, bloomFiltered bool) {
	if wm == nil {
		return
	}

	wm.commitsWalked.Add(ctx, 1)

	if bloomFiltered {
		wm.bloomSkipped.Add(ctx, 1, metric.WithAttributes(attribute.Bool(attrCache, false)))

		return
	}

	if cacheHit {
		wm.cacheHits.Add(ctx, 1)
	} else {
		wm.cacheMisses.Add(ctx, 1)
	}
}
