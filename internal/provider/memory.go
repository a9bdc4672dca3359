package provider

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/roach88/vlayer/internal/feature"
	"github.com/roach88/vlayer/internal/schema"
)

// Memory is an in-process provider over an ordered feature table.
// It supports every optional capability and is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	fields   schema.Fields
	features []*feature.Feature
	index    map[int64]int
	subset   Predicate

	opens   atomic.Int64
	lookups atomic.Int64
}

// NewMemory creates a memory provider with the given schema and features.
func NewMemory(fields schema.Fields, feats ...*feature.Feature) *Memory {
	m := &Memory{
		fields: fields.Clone(),
		index:  make(map[int64]int),
	}
	m.Put(feats...)
	return m
}

// Put inserts or replaces features by id. Insertion order is scan order.
func (m *Memory) Put(feats ...*feature.Feature) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range feats {
		stored := f.Clone()
		stored.Resize(len(m.fields))
		if pos, ok := m.index[f.ID()]; ok {
			m.features[pos] = stored
			continue
		}
		m.index[f.ID()] = len(m.features)
		m.features = append(m.features, stored)
	}
}

// Fields implements Provider.
func (m *Memory) Fields() schema.Fields {
	return m.fields.Clone()
}

// Features implements Provider. The iterator reads a snapshot of the table
// and of the subset filter taken at open time.
func (m *Memory) Features(_ context.Context, req feature.Request) (Iterator, error) {
	m.opens.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot := make([]*feature.Feature, len(m.features))
	copy(snapshot, m.features)
	return &memoryIterator{
		fields:   m.fields,
		features: snapshot,
		req:      req,
		subset:   m.subset,
	}, nil
}

// FeatureAt implements PointQuerier.
func (m *Memory) FeatureAt(_ context.Context, fid int64, req feature.Request) (*feature.Feature, bool, error) {
	m.lookups.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.index[fid]
	if !ok {
		return nil, false, nil
	}
	src := m.features[pos]
	match, err := Match(m.subset, m.fields, src.Attributes())
	if err != nil || !match {
		return nil, false, err
	}
	return project(src, req, len(m.fields)), true, nil
}

// SubsetFilter implements SubsetFilterer.
func (m *Memory) SubsetFilter() Predicate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subset
}

// SetSubsetFilter implements SubsetFilterer.
func (m *Memory) SetSubsetFilter(p Predicate) error {
	for _, name := range ReferencedFields(p) {
		if m.fields.IndexFromName(name) < 0 {
			return &UnknownFieldError{Field: name}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subset = p
	return nil
}

// Opens returns how many iterators have been opened. Used by tests to
// check that a read did not touch the backing store.
func (m *Memory) Opens() int64 { return m.opens.Load() }

// Lookups returns how many point queries have been served.
func (m *Memory) Lookups() int64 { return m.lookups.Load() }

type memoryIterator struct {
	fields   schema.Fields
	features []*feature.Feature
	req      feature.Request
	subset   Predicate
	pos      int
	current  *feature.Feature
	err      error
	closed   bool
}

func (it *memoryIterator) Next() bool {
	it.current = nil
	if it.closed || it.err != nil {
		return false
	}
	for it.pos < len(it.features) {
		src := it.features[it.pos]
		it.pos++
		ok, err := it.accept(src)
		if err != nil {
			it.err = err
			return false
		}
		if ok {
			it.current = project(src, it.req, len(it.fields))
			return true
		}
	}
	return false
}

func (it *memoryIterator) accept(f *feature.Feature) (bool, error) {
	switch it.req.FilterType() {
	case feature.FilterFid:
		if f.ID() != it.req.Fid() {
			return false, nil
		}
	case feature.FilterRect:
		if !f.Geometry().Intersects(it.req.Rect()) {
			return false, nil
		}
	}
	return Match(it.subset, it.fields, f.Attributes())
}

func (it *memoryIterator) Feature() *feature.Feature { return it.current }

func (it *memoryIterator) Err() error { return it.err }

func (it *memoryIterator) Rewind() error {
	if it.closed {
		return ErrClosed
	}
	it.pos = 0
	it.err = nil
	it.current = nil
	return nil
}

func (it *memoryIterator) Close() error {
	it.closed = true
	it.current = nil
	return nil
}

// project copies src applying the request's projection and geometry flag.
func project(src *feature.Feature, req feature.Request, width int) *feature.Feature {
	out := feature.New(src.ID(), width)
	attrs := src.Attributes()
	for i := 0; i < width && i < len(attrs); i++ {
		if req.Wants(i) {
			out.SetAttribute(i, attrs[i])
		}
	}
	if !req.SkipGeometry() {
		out.SetGeometry(src.Geometry())
	}
	return out
}
