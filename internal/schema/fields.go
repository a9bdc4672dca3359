// Package schema describes the attribute layout of a dataset.
//
// A dataset's fields are its provider fields followed by the fields
// contributed by each join relationship. Every field carries its origin so
// that readers can tell which attributes come from the backing store and
// which must be resolved through a join.
package schema

import (
	"fmt"
	"strings"
)

// Origin tells where a field's values come from.
type Origin int

const (
	// OriginProvider fields are read from the backing store.
	OriginProvider Origin = iota
	// OriginJoin fields are resolved through a join relationship.
	OriginJoin
)

func (o Origin) String() string {
	switch o {
	case OriginProvider:
		return "provider"
	case OriginJoin:
		return "join"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

// Type is the storage type of a field.
type Type string

const (
	TypeInteger Type = "integer"
	TypeReal    Type = "real"
	TypeText    Type = "text"
)

// ParseType parses a field type name.
func ParseType(s string) (Type, error) {
	switch Type(strings.ToLower(s)) {
	case TypeInteger:
		return TypeInteger, nil
	case TypeReal:
		return TypeReal, nil
	case TypeText, "":
		return TypeText, nil
	default:
		return "", fmt.Errorf("unknown field type %q", s)
	}
}

// Field is one column of a dataset.
type Field struct {
	Name string
	Type Type

	// Origin and OriginIndex locate the field in its source: the provider's
	// field index for provider fields, the joined dataset's field index for
	// join fields.
	Origin      Origin
	OriginIndex int

	// JoinIndex is the position of the owning join relationship. Only
	// meaningful for join fields.
	JoinIndex int
}

// Fields is an ordered field list.
type Fields []Field

// NewProviderFields builds provider-origin fields, in order.
func NewProviderFields(fields ...Field) Fields {
	out := make(Fields, len(fields))
	for i, f := range fields {
		f.Origin = OriginProvider
		f.OriginIndex = i
		f.JoinIndex = -1
		if f.Type == "" {
			f.Type = TypeText
		}
		out[i] = f
	}
	return out
}

// Count returns the number of fields.
func (fs Fields) Count() int { return len(fs) }

// At returns the field at index.
func (fs Fields) At(index int) (Field, bool) {
	if index < 0 || index >= len(fs) {
		return Field{}, false
	}
	return fs[index], true
}

// IndexFromName returns the index of the named field or -1.
// Lookup is case-insensitive, mirroring how most backing stores treat
// column names.
func (fs Fields) IndexFromName(name string) int {
	for i, f := range fs {
		if strings.EqualFold(f.Name, name) {
			return i
		}
	}
	return -1
}

// FieldOrigin returns the origin of the field at index.
func (fs Fields) FieldOrigin(index int) Origin {
	if index < 0 || index >= len(fs) {
		return OriginProvider
	}
	return fs[index].Origin
}

// FieldOriginIndex returns the index of the field within its source, or -1.
func (fs Fields) FieldOriginIndex(index int) int {
	if index < 0 || index >= len(fs) {
		return -1
	}
	return fs[index].OriginIndex
}

// JoinOffset returns the first index owned by join relationship joinIndex,
// or -1 when the join contributes no fields.
func (fs Fields) JoinOffset(joinIndex int) int {
	for i, f := range fs {
		if f.Origin == OriginJoin && f.JoinIndex == joinIndex {
			return i
		}
	}
	return -1
}

// AllIndices returns 0..Count()-1.
func (fs Fields) AllIndices() []int {
	out := make([]int, len(fs))
	for i := range fs {
		out[i] = i
	}
	return out
}

// Names returns the field names in order.
func (fs Fields) Names() []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

// Indices resolves field names to indices.
func (fs Fields) Indices(names ...string) ([]int, error) {
	out := make([]int, 0, len(names))
	for _, name := range names {
		idx := fs.IndexFromName(name)
		if idx < 0 {
			return nil, fmt.Errorf("unknown field %q", name)
		}
		out = append(out, idx)
	}
	return out, nil
}

// Clone returns a copy of the list.
func (fs Fields) Clone() Fields {
	out := make(Fields, len(fs))
	copy(out, fs)
	return out
}
