// Package walker turns the single-invocation VCS log walk into a decoded,
// pull-based sequence of per-commit measurements.
package walker

import (
	"context"
	"errors"
	"io"

	"github.com/gitperf/gitperf/internal/record"
	"github.com/gitperf/gitperf/internal/vcs"
	"github.com/gitperf/gitperf/pkg/alg/bloom"
	"github.com/gitperf/gitperf/pkg/alg/lru"
	"github.com/gitperf/gitperf/pkg/objectid"
	"github.com/gitperf/gitperf/pkg/observability"
)

// defaultBloomFP is the false-positive rate for the per-walk "commit has a
// note at all" pre-filter.
const defaultBloomFP = 0.01

// Point is one commit's decoded measurements, paired with its ancestry and
// shallow-boundary status.
type Point struct {
	Commit       objectid.Hash
	Parents      []objectid.Hash
	Measurements []record.Measurement
	Epochs       map[string]uint32
	Warnings     []record.Warning
	Shallow      bool
}

// Walker decodes note blobs returned by one VCS.Walk invocation, caching
// decode results across repeated walks of overlapping history within a
// process.
type Walker struct {
	vcs     vcs.VCS
	ref     string
	cache   *lru.Cache[objectid.Hash, record.DecodeResult]
	metrics *observability.WalkMetrics
}

// New returns a Walker reading notes under ref, caching up to cacheEntries
// decoded blobs. cacheEntries <= 0 disables the decode cache.
func New(v vcs.VCS, ref string, cacheEntries int) *Walker {
	w := &Walker{vcs: v, ref: ref}

	if cacheEntries > 0 {
		w.cache = lru.New[objectid.Hash, record.DecodeResult](
			lru.WithMaxEntries[objectid.Hash, record.DecodeResult](cacheEntries),
		)
	}

	return w
}

// WithMetrics attaches walk metrics instruments, returning w for chaining.
// A nil metrics value (the zero state) is a no-op at every record site.
func (w *Walker) WithMetrics(metrics *observability.WalkMetrics) *Walker {
	w.metrics = metrics

	return w
}

// CacheStats exposes the walker's decode cache hit/miss counters for
// observability.RegisterCacheMetrics. Returns nil if the walker was
// constructed with no decode cache.
func (w *Walker) CacheStats() observability.CacheStatsProvider {
	if w.cache == nil {
		return nil
	}

	return w.cache
}

// Walk performs one VCS invocation rooted at start (depth <= 0 means
// unbounded) and returns an Iterator over the decoded result. Restartable
// only by calling Walk again; the returned Iterator is not lazy across VCS
// calls.
func (w *Walker) Walk(ctx context.Context, start string, depth int) (*Iterator, error) {
	entries, err := w.vcs.Walk(ctx, w.ref, start, depth)
	if err != nil {
		return nil, err
	}

	shallow, err := w.vcs.ShallowCommits(ctx)
	if err != nil {
		return nil, err
	}

	return &Iterator{
		ctx:     ctx,
		entries: entries,
		shallow: shallow,
		cache:   w.cache,
		filter:  noteFilter(entries),
		metrics: w.metrics,
	}, nil
}

// All drains Walk's result into a slice, for callers that need the whole
// ordered sequence rather than pulling one commit at a time.
func (w *Walker) All(ctx context.Context, start string, depth int) ([]Point, error) {
	it, err := w.Walk(ctx, start, depth)
	if err != nil {
		return nil, err
	}

	var points []Point

	err = it.ForEach(func(p Point) error {
		points = append(points, p)

		return nil
	})

	return points, err
}

// noteFilter builds a Bloom pre-filter over commits whose raw note blob is
// non-empty, so Next can skip a cache lookup for the common case of a commit
// with no attached measurements at all.
func noteFilter(entries []vcs.WalkEntry) *bloom.Filter {
	n := uint(len(entries))
	if n == 0 {
		n = 1
	}

	filter, err := bloom.NewWithEstimates(n, defaultBloomFP)
	if err != nil {
		return nil
	}

	for _, e := range entries {
		if e.Note != "" {
			filter.Add(e.Commit[:])
		}
	}

	return filter
}

// Iterator pulls decoded commits one at a time from a single prior VCS.Walk
// invocation.
type Iterator struct {
	ctx     context.Context
	entries []vcs.WalkEntry
	idx     int
	shallow map[objectid.Hash]bool
	cache   *lru.Cache[objectid.Hash, record.DecodeResult]
	filter  *bloom.Filter
	metrics *observability.WalkMetrics
}

// Next returns the next commit's decoded Point, or io.EOF once every entry
// from the underlying walk has been consumed.
func (it *Iterator) Next() (Point, error) {
	if it.idx >= len(it.entries) {
		return Point{}, io.EOF
	}

	entry := it.entries[it.idx]
	it.idx++

	point := Point{
		Commit:  entry.Commit,
		Parents: entry.Parents,
		Shallow: it.shallow[entry.Commit],
	}

	if entry.Note == "" || (it.filter != nil && !it.filter.Test(entry.Commit[:])) {
		it.metrics.RecordCommit(it.ctx, false, true)

		return point, nil
	}

	decoded, ok := it.lookup(entry.Commit)
	if !ok {
		decoded = record.Decode(entry.Note)
		it.store(entry.Commit, decoded)
	}

	it.metrics.RecordCommit(it.ctx, ok, false)

	point.Measurements = decoded.Measurements
	point.Epochs = decoded.Epochs
	point.Warnings = decoded.Warnings

	return point, nil
}

// ForEach calls cb for each decoded commit in order, stopping at the first
// error cb returns or once the walk is exhausted.
func (it *Iterator) ForEach(cb func(Point) error) error {
	for {
		point, err := it.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return err
		}

		if err := cb(point); err != nil {
			return err
		}
	}
}

func (it *Iterator) lookup(commit objectid.Hash) (record.DecodeResult, bool) {
	if it.cache == nil {
		return record.DecodeResult{}, false
	}

	return it.cache.Get(commit)
}

func (it *Iterator) store(commit objectid.Hash, decoded record.DecodeResult) {
	if it.cache == nil {
		return
	}

	it.cache.Put(commit, decoded)
}
