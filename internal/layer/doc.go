// Package layer implements editable vector datasets and their overlay
// iterator.
//
// A Layer combines a backing-store provider, an optional editing session
// (edit.Buffer) and join relationships (join.Buffer). Its schema is the
// provider fields followed by the fields each join contributes. Layers are
// registered in a Registry, which joins use to resolve the datasets they
// refer to.
//
// ITERATION:
//
// Layer.Features opens a FeatureIterator: a single pass over the logical
// union of the provider and the edit overlay, without materialising it.
//
//	by id       deleted -> nothing; changed geometry, added feature or a
//	            single provider lookup, in that order; at most one result
//	streaming   A: changed geometries (rectangle filter only)
//	            B: added features
//	            C: provider stream, minus every considered id
//
// Each pass keeps a considered set seeded with the deleted ids and grown by
// every changed geometry phase A visits, whether or not it matched. Phase C
// skips considered ids, so a feature is emitted at most once per pass and a
// deleted feature is never emitted.
//
// Emitted features are built fresh per call: attributes rebound to the
// layer's full width, attribute deltas and overlay geometry applied, then
// join slots filled through a join.Plan computed when the iterator opened.
//
// ERRORS:
//
// Iterators never fail from Next. Construction failures (dangling join,
// invalid expression, provider open error) leave the iterator closed with
// Err set to an *IteratorError. A provider failure mid-scan ends the stream
// and is reported through Err as well.
//
// LIFETIME:
//
// An iterator refers to its layer without owning it. The layer must outlive
// every iterator opened on it, and callers must Close iterators they do not
// drain.
package layer
