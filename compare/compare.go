// Package compare reduces raw simulator outputs into a tolerance-based
// numeric agreement report.
//
// Two values agree when
//
//	atol = max(abs_tol_min, max(|a|,|b|) * abs_tol_scale)
//	|a-b| <= atol + rel_tol * max(|a|,|b|)
//
// Note the magnitude term is max(|a|,|b|), not a fixed reference value;
// the formula is symmetric in a and b.
package compare

import (
	"fmt"
	"math"
	"sort"

	"github.com/verisim-io/verisim/types"
)

// Outputs maps simulator key -> observable name -> time series.
type Outputs map[string]map[string][]float64

// withinTolerance reports whether a and b agree under the settings.
// NaN at the same point in both series counts as agreement (both
// simulators produced no value there); a lone NaN never agrees.
func withinTolerance(a, b float64, s types.CompareSettings) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	magnitude := math.Max(math.Abs(a), math.Abs(b))
	atol := math.Max(s.AbsTolMin, magnitude*s.AbsTolScale)
	return math.Abs(a-b) <= atol+s.RelTol*magnitude
}

// comparePair compares two equal-length series point by point.
func comparePair(a, b []float64, s types.CompareSettings) (agree bool, maxAbs, maxRel float64) {
	agree = true
	for i := range a {
		av, bv := a[i], b[i]
		if math.IsNaN(av) || math.IsNaN(bv) {
			if math.IsNaN(av) && math.IsNaN(bv) {
				continue
			}
			agree = false
			maxAbs = math.Inf(1)
			maxRel = math.Inf(1)
			continue
		}

		absDiff := math.Abs(av - bv)
		if absDiff > maxAbs {
			maxAbs = absDiff
		}
		if magnitude := math.Max(math.Abs(av), math.Abs(bv)); magnitude > 0 {
			if relDiff := absDiff / magnitude; relDiff > maxRel {
				maxRel = relDiff
			}
		}
		if !withinTolerance(av, bv, s) {
			agree = false
		}
	}
	return agree, maxAbs, maxRel
}

// Compare computes the agreement report for the given outputs.
//
// Every observable named by any simulator (or by the settings filter,
// when set) appears in the report. Observables absent from some
// simulators are reported as missing for those simulators and their
// remaining pairs are still compared; shape mismatches fail the affected
// pair with a reason instead of aborting the report. Overall agreement
// is true iff every compared pair of every observable agrees.
func Compare(outputs Outputs, settings types.CompareSettings) *types.ComparisonReport {
	simulators := make([]string, 0, len(outputs))
	for sim := range outputs {
		simulators = append(simulators, sim)
	}
	sort.Strings(simulators)

	observables := observableNames(outputs, settings)

	report := &types.ComparisonReport{OverallAgreement: true}
	for _, name := range observables {
		result := compareObservable(name, simulators, outputs, settings)
		if !result.Agree {
			report.OverallAgreement = false
		}
		report.Observables = append(report.Observables, result)
	}
	return report
}

// observableNames returns the sorted set of observables to compare:
// the settings filter when given, else the union across all outputs.
func observableNames(outputs Outputs, settings types.CompareSettings) []string {
	if len(settings.Observables) > 0 {
		filtered := append([]string(nil), settings.Observables...)
		sort.Strings(filtered)
		return filtered
	}

	seen := make(map[string]struct{})
	for _, series := range outputs {
		for name := range series {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// compareObservable compares one observable across every simulator pair.
func compareObservable(name string, simulators []string, outputs Outputs, settings types.CompareSettings) types.ObservableResult {
	result := types.ObservableResult{Name: name, Agree: true}

	var present []string
	for _, sim := range simulators {
		if _, ok := outputs[sim][name]; ok {
			present = append(present, sim)
		} else {
			result.MissingFrom = append(result.MissingFrom, sim)
		}
	}

	for i := 0; i < len(present); i++ {
		for j := i + 1; j < len(present); j++ {
			a, b := present[i], present[j]
			pair := types.PairResult{A: a, B: b}

			seriesA, seriesB := outputs[a][name], outputs[b][name]
			if len(seriesA) != len(seriesB) {
				pair.Reason = fmt.Sprintf("length mismatch (%d vs %d)", len(seriesA), len(seriesB))
			} else {
				pair.Agree, pair.MaxAbsDiff, pair.MaxRelDiff = comparePair(seriesA, seriesB, settings)
			}

			if !pair.Agree {
				result.Agree = false
			}
			result.Pairs = append(result.Pairs, pair)
		}
	}

	if settings.IncludeOutputs {
		result.Values = make(map[string][]float64, len(present))
		for _, sim := range present {
			result.Values[sim] = outputs[sim][name]
		}
	}
	return result
}
