// Package harness runs feature-read scenarios against layers backed by an
// in-memory SQLite store.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: rect_with_overlay
//	description: "Added features come before provider features"
//	expression_engine: expr
//	datasets:
//	  - id: roads
//	    fields: [{name: name}, {name: lanes, type: integer}]
//	    features:
//	      - {fid: 1, geometry: {point: [0, 0]}, attributes: {name: Main, lanes: 2}}
//	    edits:
//	      - {op: add, geometry: {point: [1, 1]}, attributes: {name: New}}
//	steps:
//	  - dataset: roads
//	    request: {rect: [-1, -1, 2, 2]}
//	    expect_ids: [-1, 1]
//	    expect:
//	      - {fid: -1, attributes: {name: New, lanes: null}}
//
// Datasets are created, seeded and joined the way a project file does it;
// edits are then applied to each dataset's editing session in order.
//
// A step drains one iterator. It may first remove a dataset from the
// registry (remove), or read rewind_after features, rewind, and drain from
// the start. Checks:
//
//   - expect_ids: the exact id sequence
//   - expect: per-feature subset match of attributes by field name, and of
//     the geometry's text form
//   - expect_error: the iterator error code, e.g. DANGLING_JOIN
//
// # Deterministic Output
//
// Edit sessions use a fixed id and added features get ids -1, -2, ... so
// FormatResult is byte-stable and suitable for golden files:
//
//	go test ./internal/harness -update
package harness
