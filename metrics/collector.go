// Package metrics provides service-level metrics collection.
//
// The Collector accumulates counters across verifications. It is a leaf
// package with no internal dependencies. All increment methods are
// nil-receiver safe so components can run without a collector wired.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently.
type Snapshot struct {
	// Verification lifecycle
	VerificationsStarted   int64
	VerificationsCompleted int64
	VerificationsFailed    int64

	// Simulation runs
	RunsSubmitted int64
	RunsSucceeded int64
	RunsFailed    int64
	RunsNotFound  int64

	// Cache-key memo
	CacheHits   int64
	CacheMisses int64

	// Simulator catalog
	CatalogRefreshes      int64
	CatalogRefreshFailure int64
	CatalogStaleServed    int64

	// Object storage
	StoragePutSuccess int64
	StoragePutFailure int64
	StorageGetSuccess int64
	StorageGetFailure int64

	// Comparison engine
	ComparisonsRun       int64
	ObservablesCompared  int64
	ObservablesDisagreed int64
}

// Collector accumulates service counters. Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	verificationsStarted   int64
	verificationsCompleted int64
	verificationsFailed    int64

	runsSubmitted int64
	runsSucceeded int64
	runsFailed    int64
	runsNotFound  int64

	cacheHits   int64
	cacheMisses int64

	catalogRefreshes      int64
	catalogRefreshFailure int64
	catalogStaleServed    int64

	storagePutSuccess int64
	storagePutFailure int64
	storageGetSuccess int64
	storageGetFailure int64

	comparisonsRun       int64
	observablesCompared  int64
	observablesDisagreed int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// IncVerificationStarted increments the started-verifications counter.
func (c *Collector) IncVerificationStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verificationsStarted++
}

// IncVerificationCompleted increments the completed-verifications counter.
func (c *Collector) IncVerificationCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verificationsCompleted++
}

// IncVerificationFailed increments the failed-verifications counter.
func (c *Collector) IncVerificationFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.verificationsFailed++
}

// IncRunSubmitted increments the submitted-runs counter.
func (c *Collector) IncRunSubmitted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runsSubmitted++
}

// IncRunSucceeded increments the succeeded-runs counter.
func (c *Collector) IncRunSucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runsSucceeded++
}

// IncRunFailed increments the failed-runs counter.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runsFailed++
}

// IncRunNotFound increments the run-id-not-found counter.
func (c *Collector) IncRunNotFound() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runsNotFound++
}

// IncCacheHit increments the memo-hit counter.
func (c *Collector) IncCacheHit() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheHits++
}

// IncCacheMiss increments the memo-miss counter.
func (c *Collector) IncCacheMiss() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheMisses++
}

// IncCatalogRefresh increments the catalog-refresh counter.
func (c *Collector) IncCatalogRefresh() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalogRefreshes++
}

// IncCatalogRefreshFailure increments the catalog-refresh-failure counter.
func (c *Collector) IncCatalogRefreshFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalogRefreshFailure++
}

// IncCatalogStaleServed increments the stale-catalog-served counter.
func (c *Collector) IncCatalogStaleServed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalogStaleServed++
}

// IncStoragePutSuccess increments the storage-put-success counter.
func (c *Collector) IncStoragePutSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storagePutSuccess++
}

// IncStoragePutFailure increments the storage-put-failure counter.
func (c *Collector) IncStoragePutFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storagePutFailure++
}

// IncStorageGetSuccess increments the storage-get-success counter.
func (c *Collector) IncStorageGetSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storageGetSuccess++
}

// IncStorageGetFailure increments the storage-get-failure counter.
func (c *Collector) IncStorageGetFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storageGetFailure++
}

// IncComparisonRun increments the comparisons counter.
func (c *Collector) IncComparisonRun() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.comparisonsRun++
}

// AddObservablesCompared adds to the compared-observables counter.
func (c *Collector) AddObservablesCompared(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observablesCompared += n
}

// AddObservablesDisagreed adds to the disagreed-observables counter.
func (c *Collector) AddObservablesDisagreed(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observablesDisagreed += n
}

// Snapshot returns an immutable copy of all counters.
// Returns a zero Snapshot for a nil Collector.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		VerificationsStarted:   c.verificationsStarted,
		VerificationsCompleted: c.verificationsCompleted,
		VerificationsFailed:    c.verificationsFailed,
		RunsSubmitted:          c.runsSubmitted,
		RunsSucceeded:          c.runsSucceeded,
		RunsFailed:             c.runsFailed,
		RunsNotFound:           c.runsNotFound,
		CacheHits:              c.cacheHits,
		CacheMisses:            c.cacheMisses,
		CatalogRefreshes:       c.catalogRefreshes,
		CatalogRefreshFailure:  c.catalogRefreshFailure,
		CatalogStaleServed:     c.catalogStaleServed,
		StoragePutSuccess:      c.storagePutSuccess,
		StoragePutFailure:      c.storagePutFailure,
		StorageGetSuccess:      c.storageGetSuccess,
		StorageGetFailure:      c.storageGetFailure,
		ComparisonsRun:         c.comparisonsRun,
		ObservablesCompared:    c.observablesCompared,
		ObservablesDisagreed:   c.observablesDisagreed,
	}
}
