package harness

import (
	"fmt"
	"maps"
	"slices"

	"github.com/roach88/vlayer/internal/feature"
)

// checkStep compares a step's output with its expectations and returns one
// message per mismatch.
func checkStep(step Step, sr StepResult) []string {
	var errs []string

	if step.ExpectError != sr.ErrorCode {
		errs = append(errs, fmt.Sprintf("expected error %q, got %q", step.ExpectError, sr.ErrorCode))
	}
	if step.ExpectIDs != nil && !slices.Equal(step.ExpectIDs, sr.IDs()) {
		errs = append(errs, fmt.Sprintf("expected ids %v, got %v", step.ExpectIDs, sr.IDs()))
	}

	for _, want := range step.Expect {
		i := slices.IndexFunc(sr.Features, func(f FeatureRecord) bool { return f.Fid == want.Fid })
		if i < 0 {
			errs = append(errs, fmt.Sprintf("feature %d: not emitted", want.Fid))
			continue
		}
		got := sr.Features[i]
		if want.Geometry != "" && want.Geometry != got.Geometry {
			errs = append(errs, fmt.Sprintf("feature %d: expected geometry %s, got %s", want.Fid, want.Geometry, got.Geometry))
		}
		errs = append(errs, matchAttributes(want, got, sr.Fields)...)
	}
	return errs
}

// matchAttributes checks the named attributes only. A YAML null expects a
// null value.
func matchAttributes(want ExpectFeature, got FeatureRecord, fields []string) []string {
	var errs []string
	for _, name := range slices.Sorted(maps.Keys(want.Attributes)) {
		idx := slices.Index(fields, name)
		if idx < 0 {
			errs = append(errs, fmt.Sprintf("feature %d: unknown field %q", want.Fid, name))
			continue
		}
		var actual any
		if idx < len(got.Values) {
			actual = got.Values[idx]
		}
		expected := feature.Normalize(want.Attributes[name])
		if !sameValue(expected, actual) {
			errs = append(errs, fmt.Sprintf("feature %d: %s: expected %s, got %s",
				want.Fid, name, FormatValue(expected), FormatValue(actual)))
		}
	}
	return errs
}

func sameValue(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	return feature.ValuesEqual(expected, actual)
}
