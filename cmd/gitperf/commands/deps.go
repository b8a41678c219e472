// Package commands implements the gitperf CLI subcommands: each file wires
// one subcommand's cobra.Command over the core packages (notesstore,
// walker, filter, audit, changepoint, config).
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gitperf/gitperf/internal/config"
	"github.com/gitperf/gitperf/internal/notesstore"
	"github.com/gitperf/gitperf/internal/vcs"
	"github.com/gitperf/gitperf/internal/walker"
	"github.com/gitperf/gitperf/pkg/checkpoint"
	"github.com/gitperf/gitperf/pkg/observability"
)

// defaultRemote is the fixed name of the notes remote. Nothing here creates
// it; push and pull use it as already configured.
const defaultRemote = "git-perf-origin"

// defaultConfigFile is the repository-root TOML configuration file name.
const defaultConfigFile = ".gitperfconfig"

// core bundles the dependencies every subcommand needs: a VCS adapter,
// observability providers (whose Shutdown must be deferred by the caller),
// a notes store, and a parameter resolver.
type core struct {
	vcs         vcs.VCS
	providers   observability.Providers
	store       *notesstore.Store
	resolver    *config.Resolver
	walkMetrics *observability.WalkMetrics
}

// newCore wires one invocation's dependencies for repoDir: an observability
// stack, a VCS adapter instrumented with RED metrics, a notes store guarded
// by an advisory lock file and a rewrite-safety checkpoint manager, and a
// resolver loaded from repoDir's configuration file.
func newCore(ctx context.Context, repoDir, remote string) (*core, error) {
	obsCfg := observability.DefaultConfig()

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	redMetrics, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	walkMetrics, err := observability.NewWalkMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("init walk metrics: %w", err)
	}

	adapter := vcs.New(repoDir, redMetrics, providers.Tracer)

	if err := adapter.CheckVersion(ctx); err != nil {
		return nil, fmt.Errorf("check git version: %w", err)
	}

	checkpts := checkpoint.NewManager(checkpoint.DefaultDir(), checkpoint.RepoHash(repoDir))

	lockPath := filepath.Join(repoDir, ".git", "gitperf.lock")
	store := notesstore.New(adapter, lockPath, remote, repoDir, checkpts, providers.Logger)

	resolver, err := config.Load(filepath.Join(repoDir, defaultConfigFile))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &core{vcs: adapter, providers: providers, store: store, resolver: resolver, walkMetrics: walkMetrics}, nil
}

// registerWalkCache wires w's decode cache hit/miss counters into an
// asynchronous gauge tagged name, if w has a cache at all. Best-effort: a
// registration failure is logged, never fatal to the command using w.
func (c *core) registerWalkCache(name string, w *walker.Walker) {
	provider := w.CacheStats()
	if provider == nil {
		return
	}

	caches := map[string]observability.CacheStatsProvider{name: provider}
	if err := observability.RegisterCacheMetrics(c.providers.Meter, caches); err != nil {
		c.providers.Logger.Warn("register cache metrics failed", "cache", name, "error", err)
	}
}

// close flushes the observability providers. Best-effort: a flush failure
// is logged, never fatal to the command that already ran.
func (c *core) close(ctx context.Context) {
	if err := c.providers.Shutdown(ctx); err != nil {
		slog.Default().Warn("observability shutdown failed", "error", err)
	}
}

// parseSelectors parses repeated "key=value" flag values into a selector
// map. A token without "=" or with an empty key or value is dropped
// silently, matching the wire codec's own selector-parsing rule.
func parseSelectors(raw []string) map[string]string {
	if len(raw) == 0 {
		return nil
	}

	selectors := make(map[string]string, len(raw))

	for _, token := range raw {
		key, value, ok := splitSelector(token)
		if !ok {
			continue
		}

		selectors[key] = value
	}

	return selectors
}

func splitSelector(token string) (key, value string, ok bool) {
	for i := range len(token) {
		if token[i] != '=' {
			continue
		}

		key, value = token[:i], token[i+1:]

		return key, value, key != "" && value != ""
	}

	return "", "", false
}
