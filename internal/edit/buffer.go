package edit

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/vlayer/internal/feature"
)

var (
	// ErrUnknownFeature is returned when an edit refers to an added id that
	// does not exist in the session.
	ErrUnknownFeature = errors.New("edit: unknown feature")

	// ErrDeleted is returned when an edit refers to a deleted feature.
	ErrDeleted = errors.New("edit: feature is deleted")
)

// Buffer is the edit overlay of one editing session.
//
// Thread-safety: all methods are safe for concurrent use. Readers that walk
// the overlay by position see whatever state the buffer is in at each call.
type Buffer struct {
	mu        sync.RWMutex
	idGen     SessionIDGenerator
	sessionID string
	nextID    int64

	added []*feature.Feature

	// changedOrder keeps changed-geometry ids in first-change order.
	changedOrder []int64
	changedGeom  map[int64]*feature.Geometry

	changedAttrs map[int64]map[int]any
	deleted      map[int64]struct{}
}

// NewBuffer opens an empty editing session.
func NewBuffer(opts ...Option) *Buffer {
	b := &Buffer{
		idGen:        UUIDv7Generator{},
		nextID:       -1,
		changedGeom:  make(map[int64]*feature.Geometry),
		changedAttrs: make(map[int64]map[int]any),
		deleted:      make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.sessionID = b.idGen.Generate()
	slog.Debug("edit session opened", "session", b.sessionID)
	return b
}

// SessionID returns the id of the editing session.
func (b *Buffer) SessionID() string { return b.sessionID }

// AddFeature adds a copy of f to the session under the next negative id and
// returns that id. The id f carries is ignored.
func (b *Buffer) AddFeature(f *feature.Feature) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID--

	added := f.Clone()
	added.SetID(id)
	added.SetValid(true)
	b.added = append(b.added, added)

	slog.Debug("feature added", "session", b.sessionID, "fid", id)
	return id
}

// AddedCount returns the number of added features.
func (b *Buffer) AddedCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.added)
}

// AddedAt returns a copy of the i-th added feature in insertion order.
func (b *Buffer) AddedAt(i int) (*feature.Feature, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.added) {
		return nil, false
	}
	return b.added[i].Clone(), true
}

// AddedFeature returns a copy of the added feature with the given id.
func (b *Buffer) AddedFeature(id int64) (*feature.Feature, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i := b.addedIndex(id); i >= 0 {
		return b.added[i].Clone(), true
	}
	return nil, false
}

// IsAdded reports whether id belongs to an added feature.
func (b *Buffer) IsAdded(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.addedIndex(id) >= 0
}

func (b *Buffer) addedIndex(id int64) int {
	return slices.IndexFunc(b.added, func(f *feature.Feature) bool { return f.ID() == id })
}

// ChangeGeometry replaces the geometry of feature id. An added feature is
// modified in place; a committed feature gets an overlay geometry.
func (b *Buffer) ChangeGeometry(id int64, g *feature.Geometry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkEditable(id); err != nil {
		return err
	}
	if i := b.addedIndex(id); i >= 0 {
		b.added[i].SetGeometry(g)
		return nil
	}
	if _, ok := b.changedGeom[id]; !ok {
		b.changedOrder = append(b.changedOrder, id)
	}
	b.changedGeom[id] = g
	slog.Debug("geometry changed", "session", b.sessionID, "fid", id)
	return nil
}

// ChangedGeometryCount returns the number of committed features with an
// overlay geometry.
func (b *Buffer) ChangedGeometryCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.changedOrder)
}

// ChangedGeometryAt returns the i-th changed geometry in first-change order.
func (b *Buffer) ChangedGeometryAt(i int) (int64, *feature.Geometry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.changedOrder) {
		return 0, nil, false
	}
	id := b.changedOrder[i]
	return id, b.changedGeom[id], true
}

// ChangedGeometry returns the overlay geometry of committed feature id.
func (b *Buffer) ChangedGeometry(id int64) (*feature.Geometry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	g, ok := b.changedGeom[id]
	return g, ok
}

// ChangeAttribute sets attribute index of feature id to value.
func (b *Buffer) ChangeAttribute(id int64, index int, value any) error {
	if index < 0 {
		return fmt.Errorf("attribute index %d out of range", index)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkEditable(id); err != nil {
		return err
	}
	value = feature.Normalize(value)
	if i := b.addedIndex(id); i >= 0 {
		f := b.added[i]
		if index >= len(f.Attributes()) {
			f.Resize(index + 1)
		}
		f.SetAttribute(index, value)
		return nil
	}
	delta, ok := b.changedAttrs[id]
	if !ok {
		delta = make(map[int]any)
		b.changedAttrs[id] = delta
	}
	delta[index] = value
	slog.Debug("attribute changed", "session", b.sessionID, "fid", id, "index", index)
	return nil
}

// HasAttributeChanges reports whether committed feature id has attribute
// deltas.
func (b *Buffer) HasAttributeChanges(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.changedAttrs[id]
	return ok
}

// ApplyAttributeChanges writes the attribute deltas of f's id onto f.
// Deltas beyond f's attribute width are ignored.
func (b *Buffer) ApplyAttributeChanges(f *feature.Feature) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for index, value := range b.changedAttrs[f.ID()] {
		f.SetAttribute(index, value)
	}
}

// DeleteFeature deletes feature id. Deleting an added feature removes it
// from the session; deleting a committed feature drops its pending changes.
func (b *Buffer) DeleteFeature(id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i := b.addedIndex(id); i >= 0 {
		b.added = slices.Delete(b.added, i, i+1)
		slog.Debug("added feature removed", "session", b.sessionID, "fid", id)
		return nil
	}
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownFeature, id)
	}
	if _, ok := b.changedGeom[id]; ok {
		delete(b.changedGeom, id)
		b.changedOrder = slices.DeleteFunc(b.changedOrder, func(c int64) bool { return c == id })
	}
	delete(b.changedAttrs, id)
	b.deleted[id] = struct{}{}
	slog.Debug("feature deleted", "session", b.sessionID, "fid", id)
	return nil
}

// IsDeleted reports whether committed feature id is deleted.
func (b *Buffer) IsDeleted(id int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.deleted[id]
	return ok
}

// DeletedIDs returns a copy of the deleted id set.
func (b *Buffer) DeletedIDs() map[int64]struct{} {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.deleted)
}

// IsModified reports whether the session holds any edit.
func (b *Buffer) IsModified() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.added) > 0 || len(b.changedGeom) > 0 || len(b.changedAttrs) > 0 || len(b.deleted) > 0
}

// RollBack discards every edit. Ids already handed out are not reused.
func (b *Buffer) RollBack() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.added = nil
	b.changedOrder = nil
	b.changedGeom = make(map[int64]*feature.Geometry)
	b.changedAttrs = make(map[int64]map[int]any)
	b.deleted = make(map[int64]struct{})
	slog.Debug("edit session rolled back", "session", b.sessionID)
}

func (b *Buffer) checkEditable(id int64) error {
	if _, ok := b.deleted[id]; ok {
		return fmt.Errorf("%w: %d", ErrDeleted, id)
	}
	if id < 0 && b.addedIndex(id) < 0 {
		return fmt.Errorf("%w: %d", ErrUnknownFeature, id)
	}
	return nil
}
