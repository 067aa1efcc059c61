// Package lifecycle drives one remote simulation run from submission to
// terminal state: cache-key memoization, archive submission, bounded
// status polling, and output retrieval.
//
// Managers never return errors from the run entry points. Every failure
// mode lands in the returned RunRecord instead, so one broken simulator
// cannot abort a verification that fans out across several.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/verisim-io/verisim/content"
	"github.com/verisim-io/verisim/docstore"
	"github.com/verisim-io/verisim/log"
	"github.com/verisim-io/verisim/metrics"
	"github.com/verisim-io/verisim/simrun"
	"github.com/verisim-io/verisim/task"
	"github.com/verisim-io/verisim/types"
)

// Default polling bounds.
const (
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollDuration = time.Hour
)

// Config bounds the run lifecycle.
type Config struct {
	// PollInterval is the delay between remote status polls.
	PollInterval time.Duration
	// MaxPollDuration caps the total wall-clock time spent waiting for a
	// run to reach a terminal status. Exceeding it fails the record.
	MaxPollDuration time.Duration
	// AbortOnNotFound controls the reaction to the remote service not
	// knowing a run id we submitted: when true the record terminates as
	// RUN_ID_NOT_FOUND immediately; when false the poll keeps trying
	// within its budget (the remote index can lag a fresh submission).
	AbortOnNotFound bool
	// Retry bounds the per-call retry behavior of remote API steps.
	Retry task.RetryPolicy
}

// DefaultConfig returns the standard lifecycle bounds.
func DefaultConfig() Config {
	return Config{
		PollInterval:    DefaultPollInterval,
		MaxPollDuration: DefaultMaxPollDuration,
		AbortOnNotFound: true,
		Retry:           task.DefaultRetryPolicy(),
	}
}

// RunInput describes one simulator dispatch of a cataloged archive.
type RunInput struct {
	// Archive is the cataloged archive to simulate.
	Archive *types.ArchiveRecord
	// Simulator is the resolved simulator identity to run on.
	Simulator types.SimulatorVersion
	// CacheBuster feeds the cache key; "" means the default token.
	CacheBuster string
	// Name is the remote submission name; derived from the archive when
	// empty.
	Name string
}

// Manager executes run lifecycles against the remote simulation service.
type Manager struct {
	svc       simrun.Service
	docs      docstore.Store
	archives  *content.Store
	logger    *log.Logger
	collector *metrics.Collector
	cfg       Config
	now       func() time.Time
}

// NewManager creates a lifecycle manager. The collector may be nil.
func NewManager(svc simrun.Service, docs docstore.Store, archives *content.Store, logger *log.Logger, collector *metrics.Collector, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollDuration <= 0 {
		cfg.MaxPollDuration = DefaultMaxPollDuration
	}
	return &Manager{
		svc:       svc,
		docs:      docs,
		archives:  archives,
		logger:    logger.WithComponent("lifecycle"),
		collector: collector,
		cfg:       cfg,
		now:       time.Now,
	}
}

// RunArchive runs the archive on the given simulator and returns the
// terminal record. Records are memoized by cache key: an existing
// successful record is returned with Reused set and no remote
// submission happens, an in-flight record is waited on, and only the
// manager that wins the key claim submits.
func (m *Manager) RunArchive(ctx context.Context, input RunInput) *types.RunRecord {
	key := KeyFor(input.Archive.ContentHash, input.Simulator.Image.Digest, input.CacheBuster)
	logger := m.logger.WithWorkflow(key[:12])

	record := m.newRecord(key, input.Simulator)

	raw, err := m.docs.GetRaw(ctx, docstore.RunKey(key))
	switch {
	case err == nil:
		var existing types.RunRecord
		if err := docstore.Decode(raw, &existing); err != nil {
			return m.fail(ctx, logger, record, fmt.Errorf("memo decode: %w", err))
		}
		if existing.Status == types.RunStatusSucceeded {
			m.collector.IncCacheHit()
			logger.Info("reusing cached run", map[string]any{
				"run_id":    existing.RunID,
				"simulator": input.Simulator.Key(),
			})
			existing.Reused = true
			return &existing
		}
		if !existing.Status.IsTerminal() {
			// Another manager holds the claim; wait for its outcome.
			return m.awaitMemo(ctx, key, &existing)
		}
		// Prior terminal failure: take over the key and run fresh. The
		// swap only succeeds against the exact failed record we read, so
		// concurrent takeovers of one key stay single-winner.
		record.UpdatedAt = m.now().UTC()
		swapped, err := m.docs.Swap(ctx, docstore.RunKey(key), raw, record)
		if err != nil {
			return m.fail(ctx, logger, record, fmt.Errorf("reclaim cache key: %w", err))
		}
		if !swapped {
			// Lost the takeover race; the winner's fresh record is
			// authoritative.
			return m.awaitMemo(ctx, key, nil)
		}
	case errors.Is(err, docstore.ErrNotFound):
		m.collector.IncCacheMiss()
		claimed, err := m.docs.PutIfAbsent(ctx, docstore.RunKey(key), record)
		if err != nil {
			return m.fail(ctx, logger, record, fmt.Errorf("claim cache key: %w", err))
		}
		if !claimed {
			// Lost the claim race; the winner's record is authoritative.
			return m.awaitMemo(ctx, key, nil)
		}
	default:
		return m.fail(ctx, logger, record, fmt.Errorf("memo lookup: %w", err))
	}

	return m.execute(ctx, logger, record, input)
}

// RunExisting polls an already-submitted remote run to completion and
// returns its record. No archive is uploaded and no memo is written;
// the caller owns the run id. Unknown run ids terminate the record as
// RUN_ID_NOT_FOUND regardless of the configured not-found policy,
// since a caller-supplied id that the remote never heard of will not
// appear later.
func (m *Manager) RunExisting(ctx context.Context, runID string) *types.RunRecord {
	logger := m.logger.WithWorkflow(runID)
	record := m.newRecord("", types.SimulatorVersion{})
	record.RunID = runID
	record.Status = types.RunStatusQueued

	return m.poll(ctx, logger, record, true)
}

// newRecord returns a fresh CREATED record.
func (m *Manager) newRecord(cacheKey string, sim types.SimulatorVersion) *types.RunRecord {
	now := m.now().UTC()
	return &types.RunRecord{
		CacheKey:  cacheKey,
		Simulator: sim,
		Status:    types.RunStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// execute performs the submit-poll-fetch sequence for a claimed record.
func (m *Manager) execute(ctx context.Context, logger *log.Logger, record *types.RunRecord, input RunInput) *types.RunRecord {
	data, err := m.fetchArchive(ctx, logger, input.Archive)
	if err != nil {
		return m.fail(ctx, logger, record, err)
	}

	name := input.Name
	if name == "" {
		name = "verification-" + input.Archive.ContentHash[:12]
	}

	var run *types.SimulationRun
	err = task.Execute(ctx, logger, "submit run", m.cfg.Retry, func(ctx context.Context) error {
		r, err := m.svc.SubmitRun(ctx, simrun.SubmitRequest{
			Name:             name,
			Simulator:        input.Simulator.ID,
			SimulatorVersion: input.Simulator.Version,
			MaxTime:          simrun.DefaultMaxTime,
			Filename:         input.Archive.Filename,
			Archive:          data,
		})
		if err != nil {
			if !simrun.IsTransient(err) {
				return task.Terminal(err)
			}
			return err
		}
		run = r
		return nil
	})
	if err != nil {
		return m.fail(ctx, logger, record, fmt.Errorf("submit: %w", err))
	}

	m.collector.IncRunSubmitted()
	record.RunID = run.ID
	record.Run = run
	record.Status = types.RunStatusQueued
	if err := m.persist(ctx, record); err != nil {
		logger.Warn("record persist failed", map[string]any{"error": err.Error()})
	}
	logger.Info("run submitted", map[string]any{
		"run_id":    run.ID,
		"simulator": input.Simulator.Key(),
	})

	return m.poll(ctx, logger, record, m.cfg.AbortOnNotFound)
}

// fetchArchive reads the archive bytes back from object storage, with
// retries for transient storage failures.
func (m *Manager) fetchArchive(ctx context.Context, logger *log.Logger, archive *types.ArchiveRecord) ([]byte, error) {
	var data []byte
	err := task.Execute(ctx, logger, "fetch archive", m.cfg.Retry, func(ctx context.Context) error {
		d, err := m.archives.Fetch(ctx, archive)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	return data, err
}

// poll watches the remote run until it reaches a terminal status or the
// wall-clock budget runs out, then attaches outputs on success.
func (m *Manager) poll(ctx context.Context, logger *log.Logger, record *types.RunRecord, abortOnNotFound bool) *types.RunRecord {
	deadline := m.now().Add(m.cfg.MaxPollDuration)

	for {
		var run *types.SimulationRun
		err := task.Execute(ctx, logger, "get run", m.cfg.Retry, func(ctx context.Context) error {
			r, err := m.svc.GetRun(ctx, record.RunID)
			if err != nil {
				if simrun.IsNotFound(err) || !simrun.IsTransient(err) {
					return task.Terminal(err)
				}
				return err
			}
			run = r
			return nil
		})

		switch {
		case err == nil:
			record.Run = run
			if run.Status != record.Status {
				record.Status = run.Status
				if persistErr := m.persist(ctx, record); persistErr != nil {
					logger.Warn("record persist failed", map[string]any{"error": persistErr.Error()})
				}
				logger.Debug("run status", map[string]any{
					"run_id": record.RunID,
					"status": string(run.Status),
				})
			}

			switch run.Status {
			case types.RunStatusSucceeded:
				return m.succeed(ctx, logger, record)
			case types.RunStatusFailed:
				reason := run.ErrorMessage
				if reason == "" {
					reason = "remote run failed"
				}
				return m.fail(ctx, logger, record, errors.New(reason))
			case types.RunStatusSkipped:
				// Terminal on the remote side but carries no outputs.
				return m.fail(ctx, logger, record, errors.New("remote run was skipped"))
			}

		case simrun.IsNotFound(err):
			if abortOnNotFound {
				return m.notFound(ctx, logger, record)
			}
			// The remote index can lag a fresh submission; keep polling
			// within the budget.
			logger.Debug("run id not indexed yet", map[string]any{"run_id": record.RunID})

		default:
			return m.fail(ctx, logger, record, fmt.Errorf("poll: %w", err))
		}

		if m.now().After(deadline) {
			return m.fail(ctx, logger, record, fmt.Errorf("run did not finish within %s", m.cfg.MaxPollDuration))
		}
		select {
		case <-ctx.Done():
			return m.fail(ctx, logger, record, ctx.Err())
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// succeed fetches the run's outputs and finalizes the record.
// An output-retrieval failure fails the record: a SUCCEEDED record
// always carries comparable outputs.
func (m *Manager) succeed(ctx context.Context, logger *log.Logger, record *types.RunRecord) *types.RunRecord {
	meta, outputs, err := m.fetchOutputs(ctx, logger, record.RunID)
	if err != nil {
		return m.fail(ctx, logger, record, fmt.Errorf("fetch outputs: %w", err))
	}

	record.Status = types.RunStatusSucceeded
	record.Results = meta
	record.Outputs = outputs
	if err := m.persist(ctx, record); err != nil {
		logger.Warn("record persist failed", map[string]any{"error": err.Error()})
	}

	m.collector.IncRunSucceeded()
	logger.Info("run succeeded", map[string]any{
		"run_id":      record.RunID,
		"observables": len(outputs),
	})
	return record
}

// fetchOutputs retrieves dataset metadata and values, reshaping each
// row-major value block into one series per labeled observable.
func (m *Manager) fetchOutputs(ctx context.Context, logger *log.Logger, runID string) (*types.ResultsMeta, map[string][]float64, error) {
	var meta *types.ResultsMeta
	err := task.Execute(ctx, logger, "get results metadata", m.cfg.Retry, func(ctx context.Context) error {
		r, err := m.svc.GetResultsMetadata(ctx, runID)
		if err != nil {
			if !simrun.IsTransient(err) {
				return task.Terminal(err)
			}
			return err
		}
		meta = r
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	datasets := meta.Datasets()
	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	outputs := make(map[string][]float64)
	for _, name := range names {
		ds := datasets[name]
		labels := ds.Labels()
		if labels == nil {
			logger.Warn("dataset has no observable labels, skipping", map[string]any{
				"run_id":  runID,
				"dataset": name,
			})
			continue
		}

		var values *types.DataValues
		err := task.Execute(ctx, logger, "get dataset values", m.cfg.Retry, func(ctx context.Context) error {
			v, err := m.svc.GetDatasetValues(ctx, runID, name)
			if err != nil {
				if !simrun.IsTransient(err) {
					return task.Terminal(err)
				}
				return err
			}
			values = v
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dataset %s: %w", name, err)
		}

		series, err := reshape(labels, values)
		if err != nil {
			logger.Warn("dataset shape does not match labels, skipping", map[string]any{
				"run_id":  runID,
				"dataset": name,
				"error":   err.Error(),
			})
			continue
		}
		for label, row := range series {
			outputs[label] = row
		}
	}

	return meta, outputs, nil
}

// reshape splits a row-major value block into one row per label.
// A 1D block is a single row.
func reshape(labels []string, values *types.DataValues) (map[string][]float64, error) {
	rows := 1
	if len(values.Shape) > 1 {
		rows = values.Shape[0]
	}
	if rows != len(labels) {
		return nil, fmt.Errorf("%d rows for %d labels", rows, len(labels))
	}
	if rows == 0 || len(values.Values)%rows != 0 {
		return nil, fmt.Errorf("%d values do not divide into %d rows", len(values.Values), rows)
	}

	cols := len(values.Values) / rows
	series := make(map[string][]float64, rows)
	for i, label := range labels {
		series[label] = values.Values[i*cols : (i+1)*cols]
	}
	return series, nil
}

// awaitMemo polls the memo record written by the claim winner until it
// turns terminal. last is the most recent view, if any.
func (m *Manager) awaitMemo(ctx context.Context, key string, last *types.RunRecord) *types.RunRecord {
	logger := m.logger.WithWorkflow(key[:12])
	deadline := m.now().Add(m.cfg.MaxPollDuration)

	for {
		var record types.RunRecord
		err := m.docs.Get(ctx, docstore.RunKey(key), &record)
		if err == nil {
			last = &record
			if record.Status.IsTerminal() {
				if record.Status == types.RunStatusSucceeded {
					m.collector.IncCacheHit()
				}
				record.Reused = true
				logger.Info("adopted concurrent run", map[string]any{
					"run_id": record.RunID,
					"status": string(record.Status),
				})
				return &record
			}
		} else if !errors.Is(err, docstore.ErrNotFound) {
			logger.Warn("memo poll failed", map[string]any{"error": err.Error()})
		}

		if m.now().After(deadline) {
			record := m.takeOrSynthesize(key, last)
			return m.fail(ctx, logger, record, fmt.Errorf("concurrent run did not finish within %s", m.cfg.MaxPollDuration))
		}
		select {
		case <-ctx.Done():
			record := m.takeOrSynthesize(key, last)
			return m.fail(ctx, logger, record, ctx.Err())
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// takeOrSynthesize returns the last seen memo record, or a fresh one
// when the waiter never saw the winner's write. The failure record is
// kept local (not persisted) so the winner's memo stays authoritative.
func (m *Manager) takeOrSynthesize(key string, last *types.RunRecord) *types.RunRecord {
	if last != nil {
		r := *last
		r.CacheKey = "" // do not overwrite the winner's memo
		return &r
	}
	return m.newRecord("", types.SimulatorVersion{})
}

// notFound terminates the record as RUN_ID_NOT_FOUND. This is a normal
// terminal outcome, not an error: retrying an id the remote does not
// know cannot help.
func (m *Manager) notFound(ctx context.Context, logger *log.Logger, record *types.RunRecord) *types.RunRecord {
	record.Status = types.RunStatusRunIDNotFound
	record.Error = fmt.Sprintf("run %s not known to the remote service", record.RunID)
	if err := m.persist(ctx, record); err != nil {
		logger.Warn("record persist failed", map[string]any{"error": err.Error()})
	}
	m.collector.IncRunNotFound()
	logger.Warn("run id not found", map[string]any{"run_id": record.RunID})
	return record
}

// fail terminates the record as FAILED with the given cause.
func (m *Manager) fail(ctx context.Context, logger *log.Logger, record *types.RunRecord, cause error) *types.RunRecord {
	record.Status = types.RunStatusFailed
	record.Error = cause.Error()
	if err := m.persist(ctx, record); err != nil {
		logger.Warn("record persist failed", map[string]any{"error": err.Error()})
	}
	m.collector.IncRunFailed()
	logger.Error("run failed", map[string]any{
		"run_id": record.RunID,
		"error":  cause.Error(),
	})
	return record
}

// persist upserts the memo record for keyed runs. Passthrough records
// (no cache key) are not memoized.
func (m *Manager) persist(ctx context.Context, record *types.RunRecord) error {
	record.UpdatedAt = m.now().UTC()
	if record.CacheKey == "" {
		return nil
	}
	return m.docs.Put(ctx, docstore.RunKey(record.CacheKey), record)
}
