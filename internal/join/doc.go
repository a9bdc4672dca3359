// Package join resolves attributes of a dataset from other datasets.
//
// A Relationship declares that rows of this dataset whose target field
// equals the join field of a joined dataset receive that row's attributes.
// Joins have left-outer semantics: a feature without a match keeps null
// join attributes, and only the first matching row is used.
//
// LIFECYCLE:
//
//	Buffer          the ordered relationships declared on a dataset
//	JoinedFields    the join-origin fields appended to the dataset schema
//	Prepare         per iterator: which joins the projection needs (Plan)
//	Plan.Enrich     per feature: fill the join slots of one feature
//
// Enrichment takes one of two paths. A relationship whose cache has been
// built (Relationship.Cache) is answered from memory by the canonical key
// of the target value. Otherwise the joined dataset is queried directly:
// Source.ScanMatching opens a scan narrowed to "join field = value" and
// the first matching row wins.
package join
