// Package project loads vlayer project files and opens their datasets.
//
// A project file is CUE unified with the embedded #Project schema:
//
//	database: "roads.db"
//	expression_engine: "cel"
//	datasets: {
//		countries: {
//			fields: [{name: "code"}, {name: "name"}]
//		}
//		cities: {
//			fields: [{name: "city"}, {name: "country_code"}]
//			joins: [{dataset: "countries", join_field: "code", target_field: "country_code", cache: true}]
//		}
//	}
package project

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/vlayer/internal/edit"
)

//go:embed schema.cue
var schemaCUE string

// Config is a decoded project file.
type Config struct {
	Database         string             `json:"database" yaml:"database"`
	ExpressionEngine string             `json:"expression_engine" yaml:"expression_engine"`
	PageSize         int                `json:"page_size" yaml:"page_size"`
	Datasets         map[string]Dataset `json:"datasets" yaml:"datasets"`
}

// Dataset declares one table-backed dataset.
type Dataset struct {
	Table    string    `json:"table,omitempty" yaml:"table,omitempty"`
	Fields   []Field   `json:"fields,omitempty" yaml:"fields,omitempty"`
	Features []Feature `json:"features,omitempty" yaml:"features,omitempty"`
	Joins    []Join    `json:"joins,omitempty" yaml:"joins,omitempty"`
}

// TableName returns the table backing the dataset with id.
func (d Dataset) TableName(id string) string {
	if d.Table != "" {
		return d.Table
	}
	return id
}

// Field declares a column.
type Field struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Feature is a seed row.
type Feature struct {
	Fid        int64              `json:"fid" yaml:"fid"`
	Geometry   *edit.GeometrySpec `json:"geometry,omitempty" yaml:"geometry,omitempty"`
	Attributes map[string]any     `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Join declares a join relationship on the owning dataset.
type Join struct {
	Dataset     string `json:"dataset" yaml:"dataset"`
	JoinField   string `json:"join_field" yaml:"join_field"`
	TargetField string `json:"target_field" yaml:"target_field"`
	Cache       bool   `json:"cache" yaml:"cache"`
	Prefix      string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// ConfigError reports an invalid project file.
type ConfigError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ConfigError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and validates the project file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project: %w", err)
	}
	return parse(data, path)
}

// Parse validates a project file held in memory.
func Parse(src []byte) (*Config, error) {
	return parse(src, "project.cue")
}

func parse(src []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile project schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Project"))

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v = def.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, formatCUEError(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks what the CUE schema cannot express: joins refer to
// declared datasets and seed features have fields to bind to.
func (c *Config) Validate() error {
	if len(c.Datasets) == 0 {
		return &ConfigError{Field: "datasets", Message: "at least one dataset is required"}
	}
	for id, ds := range c.Datasets {
		for i, j := range ds.Joins {
			if _, ok := c.Datasets[j.Dataset]; !ok {
				return &ConfigError{
					Field:   fmt.Sprintf("datasets.%s.joins[%d]", id, i),
					Message: fmt.Sprintf("unknown dataset %q", j.Dataset),
				}
			}
		}
		if len(ds.Features) > 0 && len(ds.Fields) == 0 {
			return &ConfigError{
				Field:   fmt.Sprintf("datasets.%s.features", id),
				Message: "seed features need declared fields",
			}
		}
	}
	return nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	pos := token.NoPos
	if positions := errors.Positions(first); len(positions) > 0 {
		pos = positions[0]
	}
	return &ConfigError{Field: "cue", Message: first.Error(), Pos: pos}
}
