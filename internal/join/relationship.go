package join

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/provider"
	"github.com/roach88/vlayer/internal/schema"
)

var (
	// ErrDanglingJoin is returned when a relationship refers to a dataset
	// the resolver does not know.
	ErrDanglingJoin = errors.New("join: joined dataset not found")

	// ErrUnknownField is returned when a join or target field does not
	// exist.
	ErrUnknownField = errors.New("join: unknown field")

	// ErrDuplicateJoin is returned when a dataset is joined twice.
	ErrDuplicateJoin = errors.New("join: dataset already joined")
)

// Source is a joined dataset.
type Source interface {
	// ID returns the dataset's stable reference id.
	ID() string
	// Fields returns the dataset schema.
	Fields() schema.Fields
	// Scan opens an iterator over the dataset.
	Scan(ctx context.Context, req feature.Request) feature.Iterator
	// ScanMatching opens an iterator restricted to pred ANDed with the
	// dataset's subset filter. The restriction holds only for the returned
	// iterator; other reads of the dataset never observe it. A source that
	// cannot filter on pred returns an unrestricted iterator and callers
	// check matches themselves.
	ScanMatching(ctx context.Context, pred provider.Predicate, req feature.Request) (feature.Iterator, error)
}

// Resolver finds datasets by reference id.
type Resolver interface {
	Resolve(id string) (Source, bool)
}

// Relationship is a join from this dataset's TargetField to the JoinField
// of dataset JoinDatasetID.
type Relationship struct {
	JoinDatasetID   string
	JoinFieldName   string
	TargetFieldName string

	// MemoryCache requests that the joined dataset be cached by
	// Buffer.CacheAll.
	MemoryCache bool

	// Prefix is prepended to joined field names. Empty means
	// "<JoinDatasetID>_".
	Prefix string

	mu     sync.RWMutex
	cache  map[string]feature.Attributes
	cached bool
}

// FieldPrefix returns the prefix applied to joined field names.
func (r *Relationship) FieldPrefix() string {
	if r.Prefix != "" {
		return r.Prefix
	}
	return r.JoinDatasetID + "_"
}

// CachedAttributes returns the cached joined rows keyed by the canonical
// join value. The second result is false until Cache has run. The map must
// not be modified.
func (r *Relationship) CachedAttributes() (map[string]feature.Attributes, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache, r.cached
}

// Cache reads every row of src and indexes it by the canonical value of the
// join field. Rows with a null join value are skipped and the first row
// wins for duplicate keys, matching the direct path.
func (r *Relationship) Cache(ctx context.Context, src Source) error {
	joinIdx := src.Fields().IndexFromName(r.JoinFieldName)
	if joinIdx < 0 {
		return fmt.Errorf("%w: %q in dataset %q", ErrUnknownField, r.JoinFieldName, src.ID())
	}

	it := src.Scan(ctx, feature.NewRequest().WithSkipGeometry(true))
	defer it.Close()

	rows := make(map[string]feature.Attributes)
	for it.Next() {
		f := it.Feature()
		key, ok := feature.CanonicalKey(f.Attribute(joinIdx))
		if !ok {
			continue
		}
		if _, dup := rows[key]; dup {
			continue
		}
		rows[key] = f.Attributes().Clone()
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("cache join %q: %w", r.JoinDatasetID, err)
	}

	r.mu.Lock()
	r.cache = rows
	r.cached = true
	r.mu.Unlock()

	slog.Debug("join cached", "dataset", r.JoinDatasetID, "rows", len(rows))
	return nil
}

// InvalidateCache drops the cache. Later lookups use the direct path until
// Cache runs again.
func (r *Relationship) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = nil
	r.cached = false
}
