package edit

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/go-spatial/geom"
	"gopkg.in/yaml.v3"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/schema"
)

// Op names an edit operation in a Script.
type Op string

const (
	OpAdd              Op = "add"
	OpDelete           Op = "delete"
	OpChangeGeometry   Op = "change_geometry"
	OpChangeAttributes Op = "change_attributes"
)

// Script is an ordered list of edits.
//
//	edits:
//	  - op: add
//	    geometry: {point: [1, 2]}
//	    attributes: {name: "new"}
//	  - op: change_geometry
//	    fid: 3
//	    geometry: {bbox: [0, 0, 10, 10]}
//	  - op: change_attributes
//	    fid: 3
//	    attributes: {name: "renamed"}
//	  - op: delete
//	    fid: 4
//
// Added features get ids -1, -2, ... in order on a fresh buffer, so later
// edits can refer to them.
type Script struct {
	Edits []Edit `yaml:"edits"`
}

// Edit is one operation of a Script.
type Edit struct {
	Op         Op             `yaml:"op"`
	Fid        int64          `yaml:"fid,omitempty"`
	Geometry   *GeometrySpec  `yaml:"geometry,omitempty"`
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

// GeometrySpec is a YAML-friendly geometry. Exactly one field must be set.
type GeometrySpec struct {
	Point      []float64     `json:"point,omitempty" yaml:"point,omitempty"`
	LineString [][]float64   `json:"linestring,omitempty" yaml:"linestring,omitempty"`
	Polygon    [][][]float64 `json:"polygon,omitempty" yaml:"polygon,omitempty"`
	BBox       []float64     `json:"bbox,omitempty" yaml:"bbox,omitempty"`
}

// Geometry converts the spec into a feature geometry.
func (s *GeometrySpec) Geometry() (*feature.Geometry, error) {
	if s == nil {
		return nil, nil
	}
	set := 0
	for _, present := range []bool{s.Point != nil, s.LineString != nil, s.Polygon != nil, s.BBox != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("geometry must set exactly one of point, linestring, polygon, bbox")
	}

	switch {
	case s.Point != nil:
		pt, err := coord(s.Point)
		if err != nil {
			return nil, fmt.Errorf("point: %w", err)
		}
		return feature.NewGeometry(geom.Point(pt))
	case s.LineString != nil:
		line, err := coords(s.LineString)
		if err != nil {
			return nil, fmt.Errorf("linestring: %w", err)
		}
		return feature.NewGeometry(geom.LineString(line))
	case s.Polygon != nil:
		poly := make(geom.Polygon, 0, len(s.Polygon))
		for i, ring := range s.Polygon {
			pts, err := coords(ring)
			if err != nil {
				return nil, fmt.Errorf("polygon ring %d: %w", i, err)
			}
			poly = append(poly, pts)
		}
		return feature.NewGeometry(poly)
	default:
		if len(s.BBox) != 4 {
			return nil, fmt.Errorf("bbox: want 4 numbers, got %d", len(s.BBox))
		}
		return feature.RectGeometry(feature.NewRect(s.BBox[0], s.BBox[1], s.BBox[2], s.BBox[3])), nil
	}
}

func coord(xy []float64) ([2]float64, error) {
	if len(xy) != 2 {
		return [2]float64{}, fmt.Errorf("want [x, y], got %d numbers", len(xy))
	}
	return [2]float64{xy[0], xy[1]}, nil
}

func coords(list [][]float64) ([][2]float64, error) {
	out := make([][2]float64, 0, len(list))
	for i, xy := range list {
		pt, err := coord(xy)
		if err != nil {
			return nil, fmt.Errorf("coordinate %d: %w", i, err)
		}
		out = append(out, pt)
	}
	return out, nil
}

// ParseScript parses a YAML edit script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse edit script: %w", err)
	}
	for i, e := range s.Edits {
		switch e.Op {
		case OpAdd, OpDelete, OpChangeGeometry, OpChangeAttributes:
		default:
			return nil, fmt.Errorf("edit %d: unknown op %q", i, e.Op)
		}
	}
	return &s, nil
}

// LoadScript reads and parses a YAML edit script.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read edit script: %w", err)
	}
	return ParseScript(data)
}

// Apply runs the script against b. Attribute names are resolved through
// fields, whose width is also the width of added features. Returns the ids
// assigned to added features in order.
func (s *Script) Apply(b *Buffer, fields schema.Fields) ([]int64, error) {
	var added []int64
	for i, e := range s.Edits {
		switch e.Op {
		case OpAdd:
			f, err := NewFeature(0, fields, e.Geometry, e.Attributes)
			if err != nil {
				return added, fmt.Errorf("edit %d: %w", i, err)
			}
			added = append(added, b.AddFeature(f))

		case OpDelete:
			if err := b.DeleteFeature(e.Fid); err != nil {
				return added, fmt.Errorf("edit %d: %w", i, err)
			}

		case OpChangeGeometry:
			if e.Geometry == nil {
				return added, fmt.Errorf("edit %d: change_geometry needs a geometry", i)
			}
			g, err := e.Geometry.Geometry()
			if err != nil {
				return added, fmt.Errorf("edit %d: %w", i, err)
			}
			if err := b.ChangeGeometry(e.Fid, g); err != nil {
				return added, fmt.Errorf("edit %d: %w", i, err)
			}

		case OpChangeAttributes:
			if err := setAttributes(fields, e.Attributes, func(idx int, v any) error {
				return b.ChangeAttribute(e.Fid, idx, v)
			}); err != nil {
				return added, fmt.Errorf("edit %d: %w", i, err)
			}

		default:
			return added, fmt.Errorf("edit %d: unknown op %q", i, e.Op)
		}
	}
	return added, nil
}

// NewFeature builds a feature of the width of fields from a geometry spec
// and attribute values by field name.
func NewFeature(fid int64, fields schema.Fields, g *GeometrySpec, attrs map[string]any) (*feature.Feature, error) {
	f := feature.New(fid, fields.Count())
	geometry, err := g.Geometry()
	if err != nil {
		return nil, err
	}
	f.SetGeometry(geometry)
	err = setAttributes(fields, attrs, func(idx int, v any) error {
		f.SetAttribute(idx, feature.Normalize(v))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// setAttributes resolves names in sorted order so errors are deterministic.
func setAttributes(fields schema.Fields, attrs map[string]any, set func(int, any) error) error {
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		idx := fields.IndexFromName(name)
		if idx < 0 {
			return fmt.Errorf("unknown field %q", name)
		}
		if err := set(idx, attrs[name]); err != nil {
			return err
		}
	}
	return nil
}
