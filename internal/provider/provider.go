package provider

import (
	"context"
	"errors"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/schema"
)

// ErrClosed is returned by Rewind on a closed iterator.
var ErrClosed = errors.New("provider: iterator closed")

// Provider is a read-oriented backing store.
type Provider interface {
	// Fields returns the provider schema. Every field has OriginProvider.
	Fields() schema.Fields

	// Features opens an iterator for req. Attribute indices in req are
	// provider field indices.
	Features(ctx context.Context, req feature.Request) (Iterator, error)
}

// Iterator is a rewindable provider cursor.
type Iterator interface {
	feature.Iterator

	// Rewind restarts the iterator from the first feature.
	Rewind() error
}

// PointQuerier is implemented by providers with an efficient single-id
// lookup. req carries the projection and geometry flags; its filter is
// ignored.
type PointQuerier interface {
	FeatureAt(ctx context.Context, fid int64, req feature.Request) (*feature.Feature, bool, error)
}

// SubsetFilterer is implemented by providers that carry a persistent filter
// predicate applied to every read.
type SubsetFilterer interface {
	SubsetFilter() Predicate
	SetSubsetFilter(p Predicate) error
}

// FeatureAt fetches a single feature from p, using its point query when
// available and a FilterFid scan otherwise.
func FeatureAt(ctx context.Context, p Provider, fid int64, req feature.Request) (*feature.Feature, bool, error) {
	if pq, ok := p.(PointQuerier); ok {
		return pq.FeatureAt(ctx, fid, req)
	}
	it, err := p.Features(ctx, req.WithFid(fid))
	if err != nil {
		return nil, false, err
	}
	defer it.Close()
	if it.Next() {
		return it.Feature(), true, nil
	}
	return nil, false, it.Err()
}

// SubsetFilterOf returns the current subset filter of p, or nil when p has
// none or does not support subset filters.
func SubsetFilterOf(p Provider) Predicate {
	if sf, ok := p.(SubsetFilterer); ok {
		return sf.SubsetFilter()
	}
	return nil
}
