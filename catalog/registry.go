package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/verisim-io/verisim/log"
	"github.com/verisim-io/verisim/metrics"
	"github.com/verisim-io/verisim/types"
)

// DefaultTTL is the default catalog cache lifetime. The upstream catalog
// is read-mostly; an hour keeps resolution cheap without hammering it.
const DefaultTTL = time.Hour

// NotFoundError is returned when a simulator spec matches no catalog entry.
type NotFoundError struct {
	Spec string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("simulator %q not found in catalog", e.Spec)
}

// Registry caches the upstream simulator catalog and resolves simulator
// specs against it. The cache refreshes after its TTL elapses; a failed
// refresh falls back to the last known-good catalog rather than failing
// resolution.
type Registry struct {
	source    Source
	ttl       time.Duration
	now       func() time.Time
	logger    *log.Logger
	collector *metrics.Collector

	mu        sync.Mutex
	cached    []types.SimulatorVersion
	fetchedAt time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTTL overrides the cache lifetime.
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = ttl }
}

// WithClock injects a clock for deterministic TTL expiry in tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithCollector wires a metrics collector.
func WithCollector(c *metrics.Collector) RegistryOption {
	return func(r *Registry) { r.collector = c }
}

// NewRegistry creates a registry over the given catalog source.
func NewRegistry(source Source, logger *log.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		source: source,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logger.WithComponent("catalog"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Simulators returns the cached catalog, refreshing it when stale.
// On refresh failure a stale catalog is served if one exists; the error
// is returned only when no catalog has ever been fetched.
func (r *Registry) Simulators(ctx context.Context) ([]types.SimulatorVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := !r.fetchedAt.IsZero() && r.now().Sub(r.fetchedAt) < r.ttl
	if fresh {
		return r.cached, nil
	}

	simulators, err := r.source.FetchSimulators(ctx)
	if err != nil {
		r.collector.IncCatalogRefreshFailure()
		if r.cached != nil {
			r.collector.IncCatalogStaleServed()
			r.logger.Warn("catalog refresh failed, serving stale catalog", map[string]any{
				"error":      err.Error(),
				"fetched_at": r.fetchedAt,
			})
			return r.cached, nil
		}
		return nil, fmt.Errorf("catalog: refresh: %w", err)
	}

	r.collector.IncCatalogRefresh()
	r.cached = simulators
	r.fetchedAt = r.now()
	r.logger.Info("catalog refreshed", map[string]any{"entries": len(simulators)})
	return r.cached, nil
}

// Resolve maps a simulator spec ("name" or "name:version") to a concrete
// identity. With a version, both name and version must match exactly.
// With a name alone, the LAST matching catalog entry wins: catalog
// iteration order encodes recency upstream, so later entries are newer.
// This ordering dependence is deliberate and pinned by tests; do not
// replace it with version-string comparison.
func (r *Registry) Resolve(ctx context.Context, spec string) (*types.SimulatorVersion, error) {
	simulators, err := r.Simulators(ctx)
	if err != nil {
		return nil, err
	}

	name, version, hasVersion := strings.Cut(spec, ":")

	var match *types.SimulatorVersion
	for i := range simulators {
		sv := &simulators[i]
		if sv.ID != name {
			continue
		}
		if hasVersion {
			if sv.Version == version {
				match = sv
				break
			}
			continue
		}
		// No version given: keep scanning so the last match wins.
		match = sv
	}

	if match == nil {
		return nil, &NotFoundError{Spec: spec}
	}
	found := *match
	return &found, nil
}
