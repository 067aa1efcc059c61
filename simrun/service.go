// Package simrun provides the client for the remote simulation-execution
// and dataset-retrieval APIs.
//
// The remote services are black boxes reachable over HTTP: runs are
// submitted and polled against the run API, and completed output datasets
// are retrieved from the data API.
package simrun

import (
	"context"
	"fmt"
	"sync"

	"github.com/verisim-io/verisim/types"
)

// DefaultMaxTime is the maximum simulation wall-clock budget requested on
// submission, in minutes.
const DefaultMaxTime = 600

// SubmitRequest describes one run submission.
type SubmitRequest struct {
	// Name is the submission name shown by the remote service.
	Name string
	// Simulator is the simulator name, e.g. "copasi".
	Simulator string
	// SimulatorVersion is the simulator release version.
	SimulatorVersion string
	// MaxTime is the simulation budget in minutes (default 600).
	MaxTime int
	// Filename is the archive filename for the multipart upload.
	Filename string
	// Archive is the model archive bytes.
	Archive []byte
}

// Service is the remote simulation API surface used by lifecycle
// managers. Implementations must return errors classified per errors.go
// so callers can distinguish not-found from transient failures.
type Service interface {
	// SubmitRun uploads the archive and starts a run.
	SubmitRun(ctx context.Context, req SubmitRequest) (*types.SimulationRun, error)

	// GetRun returns the current remote state of a run.
	GetRun(ctx context.Context, runID string) (*types.SimulationRun, error)

	// GetResultsMetadata returns the output-dataset metadata of a
	// completed run.
	GetResultsMetadata(ctx context.Context, runID string) (*types.ResultsMeta, error)

	// GetDatasetValues returns the raw value block of one dataset.
	GetDatasetValues(ctx context.Context, runID, datasetName string) (*types.DataValues, error)
}

// StubService is an in-memory Service for tests. Runs advance through a
// scripted status sequence on successive GetRun calls.
type StubService struct {
	mu sync.Mutex

	// StatusSequence is the status progression served per run, one entry
	// per GetRun call; the final entry repeats. Defaults to an immediate
	// SUCCEEDED.
	StatusSequence []types.RunStatus
	// Results is the metadata served for any succeeded run.
	Results *types.ResultsMeta
	// Values maps dataset name to its value block.
	Values map[string]*types.DataValues
	// SubmitErr, when set, fails every submission.
	SubmitErr error
	// GetRunErr, when set, fails every status poll.
	GetRunErr error

	// Submissions records every SubmitRun request in order.
	Submissions []SubmitRequest
	// StatusCalls counts GetRun calls per run id.
	StatusCalls map[string]int

	nextID int
}

// NewStubService creates a stub that reports immediate success and
// serves no datasets.
func NewStubService() *StubService {
	return &StubService{
		StatusSequence: []types.RunStatus{types.RunStatusSucceeded},
		Values:         make(map[string]*types.DataValues),
		StatusCalls:    make(map[string]int),
	}
}

// SubmitRun implements Service.
func (s *StubService) SubmitRun(_ context.Context, req SubmitRequest) (*types.SimulationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SubmitErr != nil {
		return nil, s.SubmitErr
	}
	s.Submissions = append(s.Submissions, req)
	s.nextID++
	return &types.SimulationRun{
		ID:               fmt.Sprintf("stubrun%04d", s.nextID),
		Name:             req.Name,
		Simulator:        req.Simulator,
		SimulatorVersion: req.SimulatorVersion,
		Status:           types.RunStatusQueued,
	}, nil
}

// GetRun implements Service.
func (s *StubService) GetRun(_ context.Context, runID string) (*types.SimulationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetRunErr != nil {
		s.StatusCalls[runID]++
		return nil, s.GetRunErr
	}
	call := s.StatusCalls[runID]
	s.StatusCalls[runID]++
	idx := call
	if idx >= len(s.StatusSequence) {
		idx = len(s.StatusSequence) - 1
	}
	return &types.SimulationRun{
		ID:     runID,
		Status: s.StatusSequence[idx],
	}, nil
}

// GetResultsMetadata implements Service.
func (s *StubService) GetResultsMetadata(_ context.Context, runID string) (*types.ResultsMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Results == nil {
		return &types.ResultsMeta{ID: runID}, nil
	}
	return s.Results, nil
}

// GetDatasetValues implements Service.
func (s *StubService) GetDatasetValues(_ context.Context, _ string, datasetName string) (*types.DataValues, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values, ok := s.Values[datasetName]
	if !ok {
		return nil, fmt.Errorf("stub: no values for dataset %s", datasetName)
	}
	return values, nil
}

// SubmitCount returns the number of recorded submissions.
func (s *StubService) SubmitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Submissions)
}

// Verify StubService implements Service.
var _ Service = (*StubService)(nil)
