package provider

import (
	"fmt"
	"strings"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/schema"
)

// Predicate is a filter condition over provider fields.
//
// This is a sealed interface - only types in this package implement it, so
// backends can switch over every case:
//
//	switch p := pred.(type) {
//	case Equals, *Equals:
//	case And, *And:
//	}
type Predicate interface {
	predicateNode()
}

// Equals matches features whose Field equals Value.
//
// Values are compared by canonical string form (see feature.CanonicalKey),
// so int64(5) matches "5". Null never equals anything.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// And matches when every predicate matches. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Combine returns existing AND extra, flattening nil operands.
func Combine(existing, extra Predicate) Predicate {
	switch {
	case existing == nil:
		return extra
	case extra == nil:
		return existing
	default:
		return And{Predicates: []Predicate{existing, extra}}
	}
}

// Match evaluates p against attrs laid out per fields. A nil predicate
// matches everything.
func Match(p Predicate, fields schema.Fields, attrs feature.Attributes) (bool, error) {
	if p == nil {
		return true, nil
	}
	switch pred := p.(type) {
	case Equals:
		return matchEquals(pred, fields, attrs)
	case *Equals:
		return matchEquals(*pred, fields, attrs)
	case And:
		return matchAnd(pred, fields, attrs)
	case *And:
		return matchAnd(*pred, fields, attrs)
	default:
		return false, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func matchEquals(eq Equals, fields schema.Fields, attrs feature.Attributes) (bool, error) {
	idx := fields.IndexFromName(eq.Field)
	if idx < 0 {
		return false, fmt.Errorf("unknown field %q in predicate", eq.Field)
	}
	if idx >= len(attrs) {
		return false, nil
	}
	return feature.ValuesEqual(attrs[idx], eq.Value), nil
}

func matchAnd(and And, fields schema.Fields, attrs feature.Attributes) (bool, error) {
	for i, sub := range and.Predicates {
		ok, err := Match(sub, fields, attrs)
		if err != nil {
			return false, fmt.Errorf("and[%d]: %w", i, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// ReferencedFields returns the field names referenced by p, in order of
// first appearance.
func ReferencedFields(p Predicate) []string {
	var names []string
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch pred := p.(type) {
		case Equals:
			names = appendName(names, pred.Field)
		case *Equals:
			names = appendName(names, pred.Field)
		case And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		case *And:
			for _, sub := range pred.Predicates {
				walk(sub)
			}
		}
	}
	walk(p)
	return names
}

func appendName(names []string, name string) []string {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return names
		}
	}
	return append(names, name)
}
