package types

// Default comparison tolerances. These match the upstream verification
// service defaults and the documented tolerance formula:
//
//	atol = max(AbsTolMin, max(|a|,|b|) * AbsTolScale)
//	agree iff |a-b| <= atol + RelTol * max(|a|,|b|)
const (
	DefaultRelTol      = 0.0001
	DefaultAbsTolMin   = 0.001
	DefaultAbsTolScale = 0.00001
)

// DefaultCacheBuster is the cache-buster token used when the caller does
// not supply one. Any other value forces fresh remote simulations.
const DefaultCacheBuster = "0"

// CompareSettings configures the numeric comparison of simulator outputs.
type CompareSettings struct {
	// Description is a caller-supplied description of the verification.
	Description string `msgpack:"description" json:"description"`
	// IncludeOutputs attaches raw values to the report when true.
	// Controls payload size, not correctness.
	IncludeOutputs bool `msgpack:"include_outputs" json:"include_outputs"`
	// RelTol is the relative tolerance term.
	RelTol float64 `msgpack:"rel_tol" json:"rel_tol"`
	// AbsTolMin is the absolute tolerance floor.
	AbsTolMin float64 `msgpack:"abs_tol_min" json:"abs_tol_min"`
	// AbsTolScale scales the absolute tolerance by value magnitude.
	AbsTolScale float64 `msgpack:"abs_tol_scale" json:"abs_tol_scale"`
	// Observables restricts comparison to the named observables.
	// Nil or empty compares every observable present in the outputs.
	Observables []string `msgpack:"observables,omitempty" json:"observables,omitempty"`
}

// DefaultCompareSettings returns settings with the standard tolerances.
func DefaultCompareSettings() CompareSettings {
	return CompareSettings{
		RelTol:      DefaultRelTol,
		AbsTolMin:   DefaultAbsTolMin,
		AbsTolScale: DefaultAbsTolScale,
	}
}
