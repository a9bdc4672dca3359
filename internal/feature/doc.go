// Package feature defines the record model shared by every vlayer component.
//
// A Feature is one record of a vector dataset: a stable int64 identity, an
// optional geometry and a positional attribute vector bound to the dataset
// schema. Attribute values are plain Go values (int64, float64, string,
// bool) and nil stands for null.
//
// Request describes what a consumer wants from a dataset: an optional
// filter (by id, by rectangle or by expression), an attribute projection and
// whether geometry is needed. Requests are values; the With* builders return
// modified copies so a request handed to an iterator is never mutated
// behind the caller's back.
//
// Geometries wrap github.com/go-spatial/geom shapes. The only spatial
// operation this module relies on is Geometry.Intersects(Rect), a bounding
// box overlap test. Geometry algorithms are out of scope.
package feature
