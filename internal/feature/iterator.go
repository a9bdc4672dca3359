package feature

// Iterator walks a sequence of features.
//
//	for it.Next() {
//	    f := it.Feature()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	// Next advances to the next feature. Returns false at end of stream.
	Next() bool
	// Feature returns the current feature, or nil before the first Next
	// or after end of stream.
	Feature() *Feature
	// Err returns the error that ended the stream early, if any.
	Err() error
	// Close releases resources. Safe to call more than once.
	Close() error
}

// Drain collects every remaining feature of it and closes it.
func Drain(it Iterator) ([]*Feature, error) {
	defer it.Close()
	var out []*Feature
	for it.Next() {
		out = append(out, it.Feature())
	}
	return out, it.Err()
}

// IDs returns the ids of feats in order.
func IDs(feats []*Feature) []int64 {
	ids := make([]int64, len(feats))
	for i, f := range feats {
		ids[i] = f.ID()
	}
	return ids
}
