package types

import "time"

// RunStatus is the status of a remote simulation run.
// The values mirror the remote run-status API verbatim.
type RunStatus string

// Run status constants.
const (
	RunStatusCreated       RunStatus = "CREATED"
	RunStatusQueued        RunStatus = "QUEUED"
	RunStatusRunning       RunStatus = "RUNNING"
	RunStatusSkipped       RunStatus = "SKIPPED"
	RunStatusProcessing    RunStatus = "PROCESSING"
	RunStatusSucceeded     RunStatus = "SUCCEEDED"
	RunStatusFailed        RunStatus = "FAILED"
	RunStatusRunIDNotFound RunStatus = "RUN_ID_NOT_FOUND"
	RunStatusUnknown       RunStatus = "UNKNOWN"
)

// IsTerminal returns true if no further transition occurs from this status.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusRunIDNotFound, RunStatusSkipped:
		return true
	}
	return false
}

// SimulationRun is the state of a remote run as reported by the
// simulation-execution API (GET /runs/{id}).
type SimulationRun struct {
	// ID is the remote run identifier.
	ID string `msgpack:"id" json:"id"`
	// Name is the submission name.
	Name string `msgpack:"name" json:"name"`
	// Simulator is the simulator name the run executes on.
	Simulator string `msgpack:"simulator" json:"simulator"`
	// SimulatorVersion is the simulator release version.
	SimulatorVersion string `msgpack:"simulator_version" json:"simulatorVersion"`
	// SimulatorDigest is the container image digest of the simulator.
	SimulatorDigest string `msgpack:"simulator_digest" json:"simulatorDigest"`
	// Status is the remote run status.
	Status RunStatus `msgpack:"status" json:"status"`
	// ErrorMessage is set when the remote run failed.
	ErrorMessage string `msgpack:"error_message,omitempty" json:"errorMessage,omitempty"`
}

// RunRecord is the durable record of one simulator dispatch.
// It is created when a lifecycle manager claims a cache key, mutated only
// by the claiming manager, and immutable once Status is terminal. Records
// are retained and reused by later requests sharing the same CacheKey.
type RunRecord struct {
	// RunID is the remote run identifier, empty until submission succeeds.
	RunID string `msgpack:"run_id" json:"run_id"`
	// CacheKey is the dedup key derived from (content hash, image digest,
	// cache buster). Empty for run-id passthrough records.
	CacheKey string `msgpack:"cache_key" json:"cache_key"`
	// Simulator is the resolved simulator identity for this dispatch.
	Simulator SimulatorVersion `msgpack:"simulator" json:"simulator"`
	// Status is the record status.
	Status RunStatus `msgpack:"status" json:"status"`
	// Reused is true when this record was served from the cache-key memo
	// instead of a fresh remote submission.
	Reused bool `msgpack:"reused" json:"reused"`
	// Run is the last remote run state observed, if any.
	Run *SimulationRun `msgpack:"run,omitempty" json:"run,omitempty"`
	// Results is the output-dataset metadata, attached on success.
	Results *ResultsMeta `msgpack:"results,omitempty" json:"results,omitempty"`
	// Outputs maps observable name to its time series, attached on success.
	Outputs map[string][]float64 `msgpack:"outputs,omitempty" json:"outputs,omitempty"`
	// Error describes the failure for FAILED / RUN_ID_NOT_FOUND records.
	Error string `msgpack:"error,omitempty" json:"error,omitempty"`
	// CreatedAt is the record creation timestamp (UTC).
	CreatedAt time.Time `msgpack:"created_at" json:"created_at"`
	// UpdatedAt is the last transition timestamp (UTC).
	UpdatedAt time.Time `msgpack:"updated_at" json:"updated_at"`
}

// Key returns the label under which this record's outputs appear in a
// comparison report: the simulator identity when known, else the run id.
func (r *RunRecord) Key() string {
	if r.Simulator.ID != "" {
		return r.Simulator.Key()
	}
	if r.Run != nil && r.Run.Simulator != "" {
		return r.Run.Simulator + ":" + r.Run.SimulatorVersion
	}
	return r.RunID
}
