package join

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/vlayer/internal/schema"
)

// Buffer holds the join relationships of one dataset, in declaration order.
// A relationship's position is its join index in the dataset schema.
type Buffer struct {
	mu    sync.RWMutex
	joins []*Relationship
}

// NewBuffer returns an empty join buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// AddJoin appends rel. A dataset can be joined at most once.
func (b *Buffer) AddJoin(rel *Relationship) error {
	if rel.JoinDatasetID == "" || rel.JoinFieldName == "" || rel.TargetFieldName == "" {
		return fmt.Errorf("join: dataset, join field and target field are required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.joins {
		if existing.JoinDatasetID == rel.JoinDatasetID {
			return fmt.Errorf("%w: %q", ErrDuplicateJoin, rel.JoinDatasetID)
		}
	}
	b.joins = append(b.joins, rel)
	return nil
}

// RemoveJoin removes the join to datasetID. Returns false if there was none.
func (b *Buffer) RemoveJoin(datasetID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.IndexFunc(b.joins, func(r *Relationship) bool { return r.JoinDatasetID == datasetID })
	if i < 0 {
		return false
	}
	b.joins = slices.Delete(b.joins, i, i+1)
	return true
}

// Relationships returns the relationships in order.
func (b *Buffer) Relationships() []*Relationship {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.joins)
}

// Len returns the number of relationships.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.joins)
}

// JoinForFieldIndex returns the relationship owning field index of fields.
func (b *Buffer) JoinForFieldIndex(fields schema.Fields, index int) (*Relationship, bool) {
	f, ok := fields.At(index)
	if !ok || f.Origin != schema.OriginJoin {
		return nil, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if f.JoinIndex < 0 || f.JoinIndex >= len(b.joins) {
		return nil, false
	}
	return b.joins[f.JoinIndex], true
}

// CacheAll builds the cache of every relationship marked MemoryCache.
func (b *Buffer) CacheAll(ctx context.Context, resolver Resolver) error {
	for _, rel := range b.Relationships() {
		if !rel.MemoryCache {
			continue
		}
		src, ok := resolver.Resolve(rel.JoinDatasetID)
		if !ok {
			return fmt.Errorf("%w: %q", ErrDanglingJoin, rel.JoinDatasetID)
		}
		if err := rel.Cache(ctx, src); err != nil {
			return err
		}
	}
	return nil
}

// JoinedFields returns the join-origin fields contributed by the buffer:
// for each relationship in order, the joined dataset's fields minus its
// join field, renamed with the relationship's prefix.
func (b *Buffer) JoinedFields(resolver Resolver) (schema.Fields, error) {
	var out schema.Fields
	for joinIndex, rel := range b.Relationships() {
		src, ok := resolver.Resolve(rel.JoinDatasetID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrDanglingJoin, rel.JoinDatasetID)
		}
		srcFields := src.Fields()
		joinIdx := srcFields.IndexFromName(rel.JoinFieldName)
		if joinIdx < 0 {
			return nil, fmt.Errorf("%w: %q in dataset %q", ErrUnknownField, rel.JoinFieldName, rel.JoinDatasetID)
		}
		for i, f := range srcFields {
			if i == joinIdx {
				continue
			}
			out = append(out, schema.Field{
				Name:        rel.FieldPrefix() + f.Name,
				Type:        f.Type,
				Origin:      schema.OriginJoin,
				OriginIndex: i,
				JoinIndex:   joinIndex,
			})
		}
	}
	return out, nil
}

// DependsOn reports whether following joins from this buffer reaches
// datasetID. Used to reject cyclic joins.
func (b *Buffer) DependsOn(datasetID string, buffers func(id string) (*Buffer, bool)) bool {
	seen := make(map[string]bool)
	var walk func(*Buffer) bool
	walk = func(buf *Buffer) bool {
		for _, rel := range buf.Relationships() {
			id := rel.JoinDatasetID
			if id == datasetID {
				return true
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			if next, ok := buffers(id); ok && walk(next) {
				return true
			}
		}
		return false
	}
	return walk(b)
}
