// Package edit holds the uncommitted edits of a dataset's editing session.
//
// A Buffer is the edit overlay: features added during the session (with
// negative, session-local ids), replacement geometries and sparse attribute
// deltas for committed features, and the ids of deleted committed features.
// The buffer keeps its own invariants:
//
//   - an id is never both added and deleted
//   - changed geometries and attribute deltas never refer to a deleted id
//   - edits to an added feature modify that feature in place
//
// Readers (package layer) walk the overlay by position through the ordered
// accessors (AddedAt, ChangedGeometryAt). There is no snapshot isolation: a
// reader that rewinds observes the buffer as it is at that moment.
//
// Script is a YAML description of a sequence of edits, used by the CLI and
// the scenario harness to build an overlay without code.
package edit
