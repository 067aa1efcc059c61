package types

// PairResult is the agreement outcome for one simulator pair on one
// observable.
type PairResult struct {
	// A and B identify the compared simulators (sorted, A < B).
	A string `msgpack:"a" json:"a"`
	B string `msgpack:"b" json:"b"`
	// Agree is true when every point is within tolerance.
	Agree bool `msgpack:"agree" json:"agree"`
	// MaxAbsDiff is the largest absolute difference observed.
	MaxAbsDiff float64 `msgpack:"max_abs_diff" json:"max_abs_diff"`
	// MaxRelDiff is the largest relative difference observed.
	MaxRelDiff float64 `msgpack:"max_rel_diff" json:"max_rel_diff"`
	// Reason describes a structural failure (e.g. length mismatch).
	// Empty for ordinary numeric comparisons.
	Reason string `msgpack:"reason,omitempty" json:"reason,omitempty"`
}

// ObservableResult is the comparison outcome for one observable.
type ObservableResult struct {
	// Name is the observable name.
	Name string `msgpack:"name" json:"name"`
	// Pairs holds one result per distinct pair of simulators that both
	// produced this observable.
	Pairs []PairResult `msgpack:"pairs" json:"pairs"`
	// MissingFrom lists simulators whose outputs lack this observable.
	// Missing observables are reported, not silently skipped, and are
	// excluded from the overall agreement computation.
	MissingFrom []string `msgpack:"missing_from,omitempty" json:"missing_from,omitempty"`
	// Agree is true when every pair of this observable agrees.
	Agree bool `msgpack:"agree" json:"agree"`
	// Values holds the raw series per simulator, attached only when
	// CompareSettings.IncludeOutputs is set.
	Values map[string][]float64 `msgpack:"values,omitempty" json:"values,omitempty"`
}

// ComparisonReport is the aggregate numeric agreement report.
// Derived data: never mutated once attached to a terminal state.
type ComparisonReport struct {
	// Observables holds per-observable results, sorted by name.
	Observables []ObservableResult `msgpack:"observables" json:"observables"`
	// OverallAgreement is true iff every observable's every pair agrees.
	OverallAgreement bool `msgpack:"overall_agreement" json:"overall_agreement"`
}
