package layer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/vlayer/internal/edit"
	"github.com/roach88/vlayer/internal/expression"
	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/join"
	"github.com/roach88/vlayer/internal/provider"
	"github.com/roach88/vlayer/internal/schema"
)

// Layer is an editable vector dataset.
//
// Thread-safety: layer methods are safe for concurrent use. Provider opens,
// point queries and subset filter changes share one query-state lock, so a
// direct join lookup's temporary filter is never seen by other reads. An
// editing session must not be mutated while another goroutine iterates the
// layer unless the iterating code accepts that it observes edits as they
// happen.
type Layer struct {
	id        string
	provider  provider.Provider
	logger    *slog.Logger
	evaluator expression.Evaluator

	mu       sync.RWMutex
	registry *Registry
	fields   schema.Fields
	edits    *edit.Buffer
	joins    *join.Buffer

	// queryMu guards the provider's subset filter. Opens and point queries
	// hold it for reading; ScanMatching holds it for writing while its
	// narrowed filter is installed.
	queryMu sync.RWMutex
}

var _ join.Source = (*Layer)(nil)

// Option configures a Layer.
type Option func(*Layer)

// WithLogger sets the logger for the layer and its iterators.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Layer) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithEvaluator sets the engine used for expression filters.
func WithEvaluator(ev expression.Evaluator) Option {
	return func(l *Layer) {
		if ev != nil {
			l.evaluator = ev
		}
	}
}

// New creates a layer over p. Its schema starts as the provider fields.
func New(id string, p provider.Provider, opts ...Option) *Layer {
	l := &Layer{
		id:        id,
		provider:  p,
		logger:    slog.Default(),
		evaluator: expression.NewExprEvaluator(),
		fields:    p.Fields(),
		joins:     join.NewBuffer(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ID implements join.Source.
func (l *Layer) ID() string { return l.id }

// Provider returns the backing store.
func (l *Layer) Provider() provider.Provider { return l.provider }

// Fields implements join.Source. It returns a copy of the layer schema.
func (l *Layer) Fields() schema.Fields {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fields.Clone()
}

// Joins returns the layer's join buffer.
func (l *Layer) Joins() *join.Buffer { return l.joins }

func (l *Layer) setRegistry(r *Registry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registry = r
}

func (l *Layer) resolver() join.Resolver {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.registry == nil {
		return noResolver{}
	}
	return l.registry
}

// StartEditing opens an editing session, or returns the open one.
func (l *Layer) StartEditing(opts ...edit.Option) *edit.Buffer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.edits == nil {
		l.edits = edit.NewBuffer(opts...)
		l.logger.Debug("editing started", "dataset", l.id, "session", l.edits.SessionID())
	}
	return l.edits
}

// EditBuffer returns the open editing session, or nil.
func (l *Layer) EditBuffer() *edit.Buffer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.edits
}

// IsEditing reports whether an editing session is open.
func (l *Layer) IsEditing() bool { return l.EditBuffer() != nil }

// StopEditing discards the editing session and its edits.
func (l *Layer) StopEditing() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.edits != nil {
		l.logger.Debug("editing stopped", "dataset", l.id, "session", l.edits.SessionID())
		l.edits.RollBack()
		l.edits = nil
	}
}

// AddJoin declares a join and updates the schema. The layer must be
// registered so the joined dataset can be resolved.
func (l *Layer) AddJoin(rel *join.Relationship) error {
	if rel.JoinDatasetID == l.id {
		return fmt.Errorf("%w: %q joins itself", ErrJoinCycle, l.id)
	}
	resolver := l.resolver()
	src, ok := resolver.Resolve(rel.JoinDatasetID)
	if !ok {
		return fmt.Errorf("%w: %q", join.ErrDanglingJoin, rel.JoinDatasetID)
	}
	if joined, ok := src.(*Layer); ok && joined.joins.DependsOn(l.id, l.joinBuffers) {
		return fmt.Errorf("%w: %q already depends on %q", ErrJoinCycle, rel.JoinDatasetID, l.id)
	}
	if err := l.joins.AddJoin(rel); err != nil {
		return err
	}
	if err := l.UpdateFields(); err != nil {
		l.joins.RemoveJoin(rel.JoinDatasetID)
		return err
	}
	return nil
}

// RemoveJoin removes the join to datasetID and updates the schema.
func (l *Layer) RemoveJoin(datasetID string) bool {
	if !l.joins.RemoveJoin(datasetID) {
		return false
	}
	if err := l.UpdateFields(); err != nil {
		l.logger.Warn("schema update after join removal failed", "dataset", l.id, "error", err)
	}
	return true
}

func (l *Layer) joinBuffers(id string) (*join.Buffer, bool) {
	src, ok := l.resolver().Resolve(id)
	if !ok {
		return nil, false
	}
	joined, ok := src.(*Layer)
	if !ok {
		return nil, false
	}
	return joined.joins, true
}

// UpdateFields rebuilds the schema from the provider fields and the joins.
func (l *Layer) UpdateFields() error {
	joined, err := l.joins.JoinedFields(l.resolver())
	if err != nil {
		return err
	}
	fields := append(l.provider.Fields(), joined...)

	l.mu.Lock()
	l.fields = fields
	l.mu.Unlock()
	return nil
}

// CacheJoins builds the cache of every join marked MemoryCache.
func (l *Layer) CacheJoins(ctx context.Context) error {
	return l.joins.CacheAll(ctx, l.resolver())
}

// SubsetFilter returns the provider's subset filter.
func (l *Layer) SubsetFilter() provider.Predicate {
	l.queryMu.RLock()
	defer l.queryMu.RUnlock()
	return provider.SubsetFilterOf(l.provider)
}

// SetSubsetFilter sets the provider's subset filter. Iterators already
// open keep the filter they were opened with.
func (l *Layer) SetSubsetFilter(p provider.Predicate) error {
	sf, ok := l.provider.(provider.SubsetFilterer)
	if !ok {
		return ErrNoSubsetFilter
	}
	l.queryMu.Lock()
	defer l.queryMu.Unlock()
	return sf.SetSubsetFilter(p)
}

// ScanMatching implements join.Source. The narrowed filter is installed,
// the provider opened and the previous filter restored without releasing
// the query-state lock; providers capture their filter at open, so the
// returned iterator keeps the restriction after the lock is released.
func (l *Layer) ScanMatching(ctx context.Context, pred provider.Predicate, req feature.Request) (feature.Iterator, error) {
	sf, ok := l.provider.(provider.SubsetFilterer)
	if !ok || !l.providerCanFilter(pred) {
		return l.Features(ctx, req), nil
	}

	l.queryMu.Lock()
	defer l.queryMu.Unlock()

	prev := sf.SubsetFilter()
	if err := sf.SetSubsetFilter(provider.Combine(prev, pred)); err != nil {
		return nil, fmt.Errorf("install subset filter on %q: %w", l.id, err)
	}
	defer func() {
		if err := sf.SetSubsetFilter(prev); err != nil {
			l.logger.Error("restore subset filter failed", "dataset", l.id, "error", err)
		}
	}()
	return newFeatureIterator(ctx, l, req, l.provider.Features), nil
}

// openProvider opens a provider scan under the query-state read lock.
func (l *Layer) openProvider(ctx context.Context, req feature.Request) (provider.Iterator, error) {
	l.queryMu.RLock()
	defer l.queryMu.RUnlock()
	return l.provider.Features(ctx, req)
}

// featureAt runs a point query under the query-state read lock.
func (l *Layer) featureAt(ctx context.Context, fid int64, req feature.Request) (*feature.Feature, bool, error) {
	l.queryMu.RLock()
	defer l.queryMu.RUnlock()
	return provider.FeatureAt(ctx, l.provider, fid, req)
}

// providerCanFilter reports whether every field pred references is a
// provider field.
func (l *Layer) providerCanFilter(pred provider.Predicate) bool {
	fields := l.Fields()
	for _, name := range provider.ReferencedFields(pred) {
		idx := fields.IndexFromName(name)
		if idx < 0 || fields.FieldOrigin(idx) != schema.OriginProvider {
			return false
		}
	}
	return true
}

// Features opens an overlay iterator for req. It never returns nil; a
// construction failure yields a closed iterator whose Err is set.
func (l *Layer) Features(ctx context.Context, req feature.Request) *FeatureIterator {
	return newFeatureIterator(ctx, l, req, l.openProvider)
}

// Scan implements join.Source.
func (l *Layer) Scan(ctx context.Context, req feature.Request) feature.Iterator {
	return l.Features(ctx, req)
}
