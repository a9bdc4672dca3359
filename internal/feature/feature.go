package feature

// Feature is a single record of a vector dataset.
//
// Features handed out by iterators are freshly built for every emission;
// callers own them and may mutate them freely.
type Feature struct {
	id         int64
	geometry   *Geometry
	attributes Attributes
	valid      bool
}

// New creates a valid feature with the given id and a null attribute vector
// of the given width.
func New(id int64, width int) *Feature {
	return &Feature{
		id:         id,
		attributes: make(Attributes, width),
		valid:      true,
	}
}

// ID returns the feature id.
func (f *Feature) ID() int64 { return f.id }

// SetID sets the feature id.
func (f *Feature) SetID(id int64) { f.id = id }

// Geometry returns the geometry or nil when the feature has none.
func (f *Feature) Geometry() *Geometry { return f.geometry }

// SetGeometry replaces the geometry. A nil geometry clears it.
func (f *Feature) SetGeometry(g *Geometry) { f.geometry = g }

// HasGeometry reports whether a geometry is set.
func (f *Feature) HasGeometry() bool { return f.geometry != nil }

// Attributes returns the attribute vector. The slice is owned by the feature.
func (f *Feature) Attributes() Attributes { return f.attributes }

// SetAttributes replaces the attribute vector with a copy of attrs.
func (f *Feature) SetAttributes(attrs Attributes) {
	f.attributes = attrs.Clone()
}

// Attribute returns the value at index, or nil when index is out of range.
func (f *Feature) Attribute(index int) any {
	if index < 0 || index >= len(f.attributes) {
		return nil
	}
	return f.attributes[index]
}

// SetAttribute sets the value at index. Returns false if index is out of range.
func (f *Feature) SetAttribute(index int, value any) bool {
	if index < 0 || index >= len(f.attributes) {
		return false
	}
	f.attributes[index] = value
	return true
}

// Resize rebinds the attribute vector to width, truncating extra values or
// padding with nulls.
func (f *Feature) Resize(width int) {
	f.attributes = f.attributes.Resized(width)
}

// IsValid reports whether the feature holds a record.
func (f *Feature) IsValid() bool { return f.valid }

// SetValid sets the validity flag.
func (f *Feature) SetValid(valid bool) { f.valid = valid }

// Clone returns a deep copy of the attribute vector with the geometry shared.
// Geometries are immutable so sharing them is safe.
func (f *Feature) Clone() *Feature {
	if f == nil {
		return nil
	}
	return &Feature{
		id:         f.id,
		geometry:   f.geometry,
		attributes: f.attributes.Clone(),
		valid:      f.valid,
	}
}
