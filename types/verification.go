package types

import "time"

// VerificationStatus is the top-level verification workflow status.
type VerificationStatus string

// Verification status constants.
const (
	VerificationPending   VerificationStatus = "PENDING"
	VerificationRunning   VerificationStatus = "RUNNING"
	VerificationCompleted VerificationStatus = "COMPLETED"
	VerificationFailed    VerificationStatus = "FAILED"
)

// IsTerminal returns true if no further transition occurs from this status.
func (s VerificationStatus) IsTerminal() bool {
	return s == VerificationCompleted || s == VerificationFailed
}

// VerificationState is the externally queryable state of one verification
// workflow. Snapshots returned by status queries are copies; callers never
// observe a partially written state.
//
// A single logical owner (the workflow) mutates the state. Individual run
// records are each written by the lifecycle manager owning that slot, so
// ownership is delegated per-slot, never shared-write.
type VerificationState struct {
	// WorkflowID is the verification workflow identifier.
	WorkflowID string `msgpack:"workflow_id" json:"workflow_id"`
	// Status is the workflow status.
	Status VerificationStatus `msgpack:"status" json:"status"`
	// Settings is the comparison configuration for this verification.
	Settings CompareSettings `msgpack:"settings" json:"settings"`
	// Archive is the deduplicated archive record for archive verifications,
	// nil for run-id verifications.
	Archive *ArchiveRecord `msgpack:"archive,omitempty" json:"archive,omitempty"`
	// Simulators are the resolved simulator identities, in request order.
	Simulators []SimulatorVersion `msgpack:"simulators,omitempty" json:"simulators,omitempty"`
	// RunIDs are the remote run ids for run-id verifications, verbatim.
	RunIDs []string `msgpack:"run_ids,omitempty" json:"run_ids,omitempty"`
	// CacheBuster is the caller-supplied cache-busting token.
	CacheBuster string `msgpack:"cache_buster" json:"cache_buster"`
	// Runs holds one record per dispatched simulator, in dispatch order.
	Runs []*RunRecord `msgpack:"runs,omitempty" json:"runs,omitempty"`
	// Report is the comparison report, attached on completion.
	Report *ComparisonReport `msgpack:"report,omitempty" json:"report,omitempty"`
	// Error describes a request-level failure for FAILED workflows.
	Error string `msgpack:"error,omitempty" json:"error,omitempty"`
	// SubmittedAt is the submission timestamp (UTC).
	SubmittedAt time.Time `msgpack:"submitted_at" json:"submitted_at"`
	// UpdatedAt is the last transition timestamp (UTC).
	UpdatedAt time.Time `msgpack:"updated_at" json:"updated_at"`
}
