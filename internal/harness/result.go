package harness

import (
	"fmt"
	"strconv"
	"strings"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// Pass is true if every step check held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Errors contains check failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// StepResult is what one step drained.
type StepResult struct {
	Index     int             `json:"index"`
	Dataset   string          `json:"dataset"`
	Request   string          `json:"request"`
	Fields    []string        `json:"fields"`
	Features  []FeatureRecord `json:"features"`
	ErrorCode string          `json:"error_code,omitempty"`
}

// IDs returns the drained ids in order.
func (s StepResult) IDs() []int64 {
	ids := make([]int64, len(s.Features))
	for i, f := range s.Features {
		ids[i] = f.Fid
	}
	return ids
}

// FeatureRecord is one drained feature.
type FeatureRecord struct {
	Fid      int64  `json:"fid"`
	Geometry string `json:"geometry"`
	Values   []any  `json:"values"`
}

// NewResult creates a passing result.
func NewResult(scenario string) *Result {
	return &Result{Scenario: scenario, Pass: true, Steps: []StepResult{}, Errors: []string{}}
}

// AddError records a check failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// FormatResult renders r as stable text:
//
//	scenario: rect_with_overlay
//	step 1: roads filter=rect rect=[-1 -1 2 2]
//	  fields: name, lanes
//	  -1 POINT(1 1) "New" NULL
//	  1 POINT(0 0) "Main" 2
func FormatResult(r *Result) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", r.Scenario)
	for _, step := range r.Steps {
		fmt.Fprintf(&buf, "step %d: %s %s\n", step.Index, step.Dataset, step.Request)
		fmt.Fprintf(&buf, "  fields: %s\n", strings.Join(step.Fields, ", "))
		for _, f := range step.Features {
			fmt.Fprintf(&buf, "  %d %s", f.Fid, f.Geometry)
			for _, v := range f.Values {
				buf.WriteByte(' ')
				buf.WriteString(FormatValue(v))
			}
			buf.WriteByte('\n')
		}
		if step.ErrorCode != "" {
			fmt.Fprintf(&buf, "  error: %s\n", step.ErrorCode)
		}
	}
	if !r.Pass {
		buf.WriteString("failures:\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&buf, "  %s\n", e)
		}
	}
	return buf.String()
}

// FormatValue renders an attribute value: NULL, quoted strings, plain
// numbers and booleans.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return strconv.Quote(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
