// Package verify orchestrates verification workflows: archive intake,
// simulator resolution, fan-out across lifecycle managers, and the final
// comparison report.
//
// Submission is asynchronous. VerifyArchive and VerifyRuns validate the
// request, start a workflow, and return its initial state immediately;
// callers follow progress through Status.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verisim-io/verisim/catalog"
	"github.com/verisim-io/verisim/compare"
	"github.com/verisim-io/verisim/content"
	"github.com/verisim-io/verisim/lifecycle"
	"github.com/verisim-io/verisim/log"
	"github.com/verisim-io/verisim/metrics"
	"github.com/verisim-io/verisim/task"
	"github.com/verisim-io/verisim/types"
)

// Default workflow id prefixes.
const (
	DefaultArchivePrefix = "omex-verification-"
	DefaultRunsPrefix    = "runs-verification-"
)

// ErrNotFound is returned by Status for unknown workflow ids.
var ErrNotFound = errors.New("verification not found")

// ValidationError marks a request rejected before any workflow started.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid request: %s: %v", e.Reason, e.Err)
	}
	return "invalid request: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ArchiveRequest asks for an archive to be run on several simulators and
// the outputs compared.
type ArchiveRequest struct {
	// Filename is the submitted archive filename.
	Filename string
	// Archive is the model archive bytes.
	Archive []byte
	// Simulators are simulator specs, "name" or "name:version".
	Simulators []string
	// Settings overrides the default comparison settings when non-nil.
	Settings *types.CompareSettings
	// CacheBuster forces fresh runs when changed; "" means the default.
	CacheBuster string
	// WorkflowIDPrefix overrides the default workflow id prefix.
	WorkflowIDPrefix string
}

// RunsRequest asks for existing remote runs to be fetched and compared.
type RunsRequest struct {
	// RunIDs are the remote run ids, verbatim.
	RunIDs []string
	// Settings overrides the default comparison settings when non-nil.
	Settings *types.CompareSettings
	// WorkflowIDPrefix overrides the default workflow id prefix.
	WorkflowIDPrefix string
}

// Verifier starts and tracks verification workflows.
type Verifier struct {
	engine    *task.Engine
	archives  *content.Store
	registry  *catalog.Registry
	runs      *lifecycle.Manager
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time
}

// NewVerifier creates a verifier. The collector may be nil.
func NewVerifier(engine *task.Engine, archives *content.Store, registry *catalog.Registry, runs *lifecycle.Manager, logger *log.Logger, collector *metrics.Collector) *Verifier {
	return &Verifier{
		engine:    engine,
		archives:  archives,
		registry:  registry,
		runs:      runs,
		logger:    logger.WithComponent("verify"),
		collector: collector,
		now:       time.Now,
	}
}

// VerifyArchive validates the request, catalogs the archive, and starts
// an archive verification workflow. The returned state is the PENDING
// snapshot; the workflow advances it in the background.
//
// Simulator resolution is fail-fast: one unknown spec rejects the whole
// request before anything is stored or submitted.
func (v *Verifier) VerifyArchive(ctx context.Context, req ArchiveRequest) (*types.VerificationState, error) {
	if len(req.Archive) == 0 {
		return nil, &ValidationError{Reason: "empty archive"}
	}
	if len(req.Simulators) == 0 {
		return nil, &ValidationError{Reason: "no simulators requested"}
	}

	resolved := make([]types.SimulatorVersion, 0, len(req.Simulators))
	for _, spec := range req.Simulators {
		sv, err := v.registry.Resolve(ctx, spec)
		if err != nil {
			var nf *catalog.NotFoundError
			if errors.As(err, &nf) {
				return nil, &ValidationError{Reason: "unknown simulator", Err: err}
			}
			return nil, fmt.Errorf("resolve simulator %q: %w", spec, err)
		}
		resolved = append(resolved, *sv)
	}

	archive, err := v.archives.Submit(ctx, req.Filename, req.Archive)
	if err != nil {
		return nil, fmt.Errorf("catalog archive: %w", err)
	}

	cacheBuster := req.CacheBuster
	if cacheBuster == "" {
		cacheBuster = types.DefaultCacheBuster
	}

	state := &types.VerificationState{
		WorkflowID:  v.workflowID(req.WorkflowIDPrefix, DefaultArchivePrefix),
		Status:      types.VerificationPending,
		Settings:    settingsOrDefault(req.Settings),
		Archive:     archive,
		Simulators:  resolved,
		CacheBuster: cacheBuster,
		SubmittedAt: v.now().UTC(),
	}
	state.UpdatedAt = state.SubmittedAt

	run := func(ctx context.Context, h *task.Handle, state *types.VerificationState) {
		v.fanOut(ctx, h, state, len(resolved), func(ctx context.Context, i int) *types.RunRecord {
			return v.runs.RunArchive(ctx, lifecycle.RunInput{
				Archive:     archive,
				Simulator:   resolved[i],
				CacheBuster: cacheBuster,
			})
		})
	}
	return v.start(ctx, state, run)
}

// VerifyRuns starts a run-id verification workflow: each remote run is
// polled to completion and its outputs join the comparison. No archive
// is uploaded and nothing is submitted to the remote service.
func (v *Verifier) VerifyRuns(ctx context.Context, req RunsRequest) (*types.VerificationState, error) {
	if len(req.RunIDs) == 0 {
		return nil, &ValidationError{Reason: "no run ids given"}
	}

	runIDs := append([]string(nil), req.RunIDs...)
	state := &types.VerificationState{
		WorkflowID:  v.workflowID(req.WorkflowIDPrefix, DefaultRunsPrefix),
		Status:      types.VerificationPending,
		Settings:    settingsOrDefault(req.Settings),
		RunIDs:      runIDs,
		CacheBuster: types.DefaultCacheBuster,
		SubmittedAt: v.now().UTC(),
	}
	state.UpdatedAt = state.SubmittedAt

	run := func(ctx context.Context, h *task.Handle, state *types.VerificationState) {
		v.fanOut(ctx, h, state, len(runIDs), func(ctx context.Context, i int) *types.RunRecord {
			return v.runs.RunExisting(ctx, runIDs[i])
		})
	}
	return v.start(ctx, state, run)
}

// Status returns the latest state snapshot of a verification workflow.
func (v *Verifier) Status(ctx context.Context, workflowID string) (*types.VerificationState, error) {
	var state types.VerificationState
	err := v.engine.Query(ctx, workflowID, &state)
	if errors.Is(err, task.ErrWorkflowNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// workflowID builds a prefixed workflow id.
func (v *Verifier) workflowID(prefix, fallback string) string {
	if prefix == "" {
		prefix = fallback
	}
	return prefix + uuid.NewString()
}

// settingsOrDefault returns the caller's settings or the defaults.
func settingsOrDefault(s *types.CompareSettings) types.CompareSettings {
	if s == nil {
		return types.DefaultCompareSettings()
	}
	return *s
}

// start launches the workflow and publishes its PENDING snapshot. The
// workflow body is gated on that first publish, so a Status call issued
// right after submission always finds the workflow. The returned state
// is a copy taken before the workflow is released; the workflow owns the
// original from then on.
func (v *Verifier) start(ctx context.Context, state *types.VerificationState, run func(ctx context.Context, h *task.Handle, state *types.VerificationState)) (*types.VerificationState, error) {
	ready := make(chan struct{})
	h, err := v.engine.Start(state.WorkflowID, func(ctx context.Context, h *task.Handle) {
		select {
		case <-ready:
		case <-ctx.Done():
			return
		}
		run(ctx, h, state)
	})
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}

	v.collector.IncVerificationStarted()
	h.Publish(ctx, state)
	pending := *state
	close(ready)

	v.logger.Info("verification submitted", map[string]any{
		"workflow_id": pending.WorkflowID,
		"simulators":  len(pending.Simulators),
		"run_ids":     len(pending.RunIDs),
	})
	return &pending, nil
}

// fanOut runs n dispatches concurrently, each owning one Runs slot, then
// compares the successful outputs and finalizes the state.
//
// Partial failures are contained: a failed or not-found run stays in the
// state as its terminal record and the comparison proceeds over the
// survivors. The workflow only fails outright when no run produced
// outputs to compare.
func (v *Verifier) fanOut(ctx context.Context, h *task.Handle, state *types.VerificationState, n int, dispatch func(ctx context.Context, i int) *types.RunRecord) {
	logger := v.logger.WithWorkflow(state.WorkflowID)

	var mu sync.Mutex
	publish := func() {
		state.UpdatedAt = v.now().UTC()
		h.Publish(ctx, state)
	}

	mu.Lock()
	state.Status = types.VerificationRunning
	state.Runs = make([]*types.RunRecord, n)
	publish()
	mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record := dispatch(ctx, i)
			mu.Lock()
			state.Runs[i] = record
			publish()
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	outputs := make(compare.Outputs)
	for _, record := range state.Runs {
		if record == nil || record.Status != types.RunStatusSucceeded {
			continue
		}
		outputs[record.Key()] = record.Outputs
	}

	mu.Lock()
	defer mu.Unlock()

	if len(outputs) == 0 {
		state.Status = types.VerificationFailed
		state.Error = "no simulator run produced outputs"
		publish()
		v.collector.IncVerificationFailed()
		logger.Error("verification failed", map[string]any{"error": state.Error})
		return
	}

	report := compare.Compare(outputs, state.Settings)
	v.collector.IncComparisonRun()
	v.collector.AddObservablesCompared(int64(len(report.Observables)))
	var disagreed int64
	for _, obs := range report.Observables {
		if !obs.Agree {
			disagreed++
		}
	}
	v.collector.AddObservablesDisagreed(disagreed)

	state.Report = report
	state.Status = types.VerificationCompleted
	publish()
	v.collector.IncVerificationCompleted()
	logger.Info("verification completed", map[string]any{
		"runs":        len(state.Runs),
		"observables": len(report.Observables),
		"agreement":   report.OverallAgreement,
	})
}
