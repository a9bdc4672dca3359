package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vlayer/internal/edit"
	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/project"
	"github.com/roach88/vlayer/internal/schema"
)

// Scenario defines a read scenario: datasets, their pending edits, and the
// reads to check.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ExpressionEngine is "expr" (default) or "cel".
	ExpressionEngine string `yaml:"expression_engine,omitempty"`

	// SessionID is the fixed edit-session id. Defaults to "test-session".
	SessionID string `yaml:"session_id,omitempty"`

	Datasets []DatasetSpec `yaml:"datasets"`
	Steps    []Step        `yaml:"steps"`
}

// DatasetSpec declares a dataset, its seed rows, joins and pending edits.
type DatasetSpec struct {
	ID       string            `yaml:"id"`
	Fields   []project.Field   `yaml:"fields"`
	Features []project.Feature `yaml:"features,omitempty"`
	Joins    []project.Join    `yaml:"joins,omitempty"`
	Edits    []edit.Edit       `yaml:"edits,omitempty"`
}

// Step drains one iterator and checks the output.
type Step struct {
	Dataset string      `yaml:"dataset"`
	Request RequestSpec `yaml:"request,omitempty"`

	// Remove unregisters a dataset before the read.
	Remove string `yaml:"remove,omitempty"`

	// RewindAfter reads this many features, rewinds, then drains.
	RewindAfter int `yaml:"rewind_after,omitempty"`

	ExpectIDs   []int64         `yaml:"expect_ids,omitempty"`
	Expect      []ExpectFeature `yaml:"expect,omitempty"`
	ExpectError string          `yaml:"expect_error,omitempty"`
}

// ExpectFeature is a subset match against one emitted feature.
type ExpectFeature struct {
	Fid        int64          `yaml:"fid"`
	Geometry   string         `yaml:"geometry,omitempty"`
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

// RequestSpec is a request with attributes named rather than indexed.
// At most one of Fid, Rect and Where may be set.
type RequestSpec struct {
	Fid        *int64    `yaml:"fid,omitempty"`
	Rect       []float64 `yaml:"rect,omitempty"`
	Where      string    `yaml:"where,omitempty"`
	Fields     []string  `yaml:"fields,omitempty"`
	NoGeometry bool      `yaml:"no_geometry,omitempty"`
}

// Build resolves the spec against fields.
func (r RequestSpec) Build(fields schema.Fields) (feature.Request, error) {
	req := feature.NewRequest()
	filters := 0
	if r.Fid != nil {
		req = req.WithFid(*r.Fid)
		filters++
	}
	if r.Rect != nil {
		if len(r.Rect) != 4 {
			return req, fmt.Errorf("rect: want 4 numbers, got %d", len(r.Rect))
		}
		req = req.WithRect(feature.NewRect(r.Rect[0], r.Rect[1], r.Rect[2], r.Rect[3]))
		filters++
	}
	if r.Where != "" {
		req = req.WithExpression(r.Where)
		filters++
	}
	if filters > 1 {
		return req, fmt.Errorf("at most one of fid, rect and where may be set")
	}
	if r.Fields != nil {
		subset := make([]int, 0, len(r.Fields))
		for _, name := range r.Fields {
			idx := fields.IndexFromName(name)
			if idx < 0 {
				return req, fmt.Errorf("unknown field %q", name)
			}
			subset = append(subset, idx)
		}
		req = req.WithSubset(subset...)
	}
	return req.WithSkipGeometry(r.NoGeometry), nil
}

// LoadScenario reads and parses a scenario YAML file. Unknown keys are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario held in memory.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, `/\ `) {
		return fmt.Errorf("name %q must not contain path separators or spaces", s.Name)
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Datasets) == 0 {
		return fmt.Errorf("datasets list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	ids := make(map[string]bool, len(s.Datasets))
	for i, ds := range s.Datasets {
		if ds.ID == "" {
			return fmt.Errorf("datasets[%d]: id is required", i)
		}
		if ids[ds.ID] {
			return fmt.Errorf("datasets[%d]: duplicate id %q", i, ds.ID)
		}
		ids[ds.ID] = true
		if len(ds.Fields) == 0 {
			return fmt.Errorf("datasets[%d]: fields are required", i)
		}
	}

	for i, step := range s.Steps {
		if step.Dataset == "" {
			return fmt.Errorf("steps[%d]: dataset is required", i)
		}
		if !ids[step.Dataset] {
			return fmt.Errorf("steps[%d]: unknown dataset %q", i, step.Dataset)
		}
		if step.Remove != "" && !ids[step.Remove] {
			return fmt.Errorf("steps[%d]: remove: unknown dataset %q", i, step.Remove)
		}
		if step.RewindAfter < 0 {
			return fmt.Errorf("steps[%d]: rewind_after must be non-negative", i)
		}
	}
	return nil
}

// projectConfig converts the scenario into an in-memory project.
func (s *Scenario) projectConfig() *project.Config {
	cfg := &project.Config{
		Database:         ":memory:",
		ExpressionEngine: s.ExpressionEngine,
		Datasets:         make(map[string]project.Dataset, len(s.Datasets)),
	}
	for _, ds := range s.Datasets {
		fields := make([]project.Field, len(ds.Fields))
		for i, f := range ds.Fields {
			if f.Type == "" {
				f.Type = string(schema.TypeText)
			}
			fields[i] = f
		}
		cfg.Datasets[ds.ID] = project.Dataset{
			Fields:   fields,
			Features: ds.Features,
			Joins:    ds.Joins,
		}
	}
	return cfg
}
