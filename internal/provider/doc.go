// Package provider defines the contract between vlayer and a backing store.
//
// A backing store is the authoritative source of committed features. It
// knows nothing about uncommitted edits or joins; those are layered on top
// by package layer. Providers expose:
//
//	Provider        Fields() + Features(ctx, request) -> Iterator
//	Iterator        Next / Feature / Err / Rewind / Close
//	PointQuerier    optional single-id lookup
//	SubsetFilterer  optional "current filter predicate" slot
//
// ATTRIBUTE LAYOUT:
//
// Provider iterators always return attribute vectors at the provider's own
// schema width. When a request projects a subset, positions outside the
// subset are null. Geometry is nil when the request suppresses it.
//
// SUBSET FILTERS:
//
// A SubsetFilterer carries a persistent predicate applied to every read, in
// addition to the request's own filter. Direct joins temporarily replace it
// to look up a single join key and restore it afterwards. Filter predicates
// form a sealed tree (Equals, And) so backends can translate them
// exhaustively; see package sqlite for the SQL translation.
//
// Server-side filtering is an optimisation only. The overlay iterator never
// relies on a provider honoring a rectangle or predicate for correctness of
// its own at-most-once and delete-precedence guarantees.
package provider
