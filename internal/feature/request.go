package feature

import (
	"fmt"
	"slices"
)

// FilterType selects how a request restricts the features it returns.
type FilterType int

const (
	// FilterNone returns every feature.
	FilterNone FilterType = iota
	// FilterFid returns at most the single feature with the requested id.
	FilterFid
	// FilterRect returns features whose geometry intersects a rectangle.
	FilterRect
	// FilterExpression returns features matching a boolean expression.
	FilterExpression
)

func (t FilterType) String() string {
	switch t {
	case FilterNone:
		return "none"
	case FilterFid:
		return "fid"
	case FilterRect:
		return "rect"
	case FilterExpression:
		return "expression"
	default:
		return fmt.Sprintf("FilterType(%d)", int(t))
	}
}

// Request describes a read against a dataset. The zero value requests every
// feature with every attribute and geometry.
type Request struct {
	filterType   FilterType
	fid          int64
	rect         Rect
	expression   string
	subset       []int
	hasSubset    bool
	skipGeometry bool
}

// NewRequest returns a request for all features, attributes and geometry.
func NewRequest() Request { return Request{} }

// FilterType returns the active filter.
func (r Request) FilterType() FilterType { return r.filterType }

// Fid returns the requested id for FilterFid requests.
func (r Request) Fid() int64 { return r.fid }

// Rect returns the filter rectangle for FilterRect requests.
func (r Request) Rect() Rect { return r.rect }

// Expression returns the filter expression for FilterExpression requests.
func (r Request) Expression() string { return r.expression }

// HasSubset reports whether the request projects a subset of attributes.
func (r Request) HasSubset() bool { return r.hasSubset }

// Subset returns a copy of the projected attribute indices, or nil when all
// attributes are requested.
func (r Request) Subset() []int {
	if !r.hasSubset {
		return nil
	}
	return slices.Clone(r.subset)
}

// Wants reports whether attribute index is part of the projection.
func (r Request) Wants(index int) bool {
	if !r.hasSubset {
		return true
	}
	return slices.Contains(r.subset, index)
}

// AttributesRequested is false only for an empty subset projection.
func (r Request) AttributesRequested() bool {
	return !r.hasSubset || len(r.subset) > 0
}

// SkipGeometry reports whether geometry is suppressed.
func (r Request) SkipGeometry() bool { return r.skipGeometry }

// WithFid returns a copy filtering on a single feature id.
func (r Request) WithFid(fid int64) Request {
	r.filterType = FilterFid
	r.fid = fid
	r.expression = ""
	return r
}

// WithRect returns a copy filtering on rect.
func (r Request) WithRect(rect Rect) Request {
	r.filterType = FilterRect
	r.rect = rect
	r.expression = ""
	return r
}

// WithExpression returns a copy filtering on a boolean expression.
func (r Request) WithExpression(expression string) Request {
	r.filterType = FilterExpression
	r.expression = expression
	return r
}

// WithNoFilter returns a copy without any filter.
func (r Request) WithNoFilter() Request {
	r.filterType = FilterNone
	r.expression = ""
	return r
}

// WithSubset returns a copy projecting the given attribute indices.
// Duplicates are removed and order is preserved.
func (r Request) WithSubset(indices ...int) Request {
	subset := make([]int, 0, len(indices))
	for _, idx := range indices {
		if !slices.Contains(subset, idx) {
			subset = append(subset, idx)
		}
	}
	r.subset = subset
	r.hasSubset = true
	return r
}

// WithAllAttributes returns a copy projecting every attribute.
func (r Request) WithAllAttributes() Request {
	r.subset = nil
	r.hasSubset = false
	return r
}

// WithSkipGeometry returns a copy with geometry suppressed or restored.
func (r Request) WithSkipGeometry(skip bool) Request {
	r.skipGeometry = skip
	return r
}

// String describes the request for logs.
func (r Request) String() string {
	s := "filter=" + r.filterType.String()
	switch r.filterType {
	case FilterFid:
		s += fmt.Sprintf(" fid=%d", r.fid)
	case FilterRect:
		s += fmt.Sprintf(" rect=%v", [4]float64(r.rect))
	case FilterExpression:
		s += fmt.Sprintf(" expression=%q", r.expression)
	}
	if r.hasSubset {
		s += fmt.Sprintf(" subset=%v", r.subset)
	}
	if r.skipGeometry {
		s += " no-geometry"
	}
	return s
}
