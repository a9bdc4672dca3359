package feature

import (
	"math"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeature_ResizePadsAndTruncates(t *testing.T) {
	f := New(1, 2)
	f.SetAttribute(0, "a")
	f.SetAttribute(1, int64(2))

	f.Resize(4)
	assert.Equal(t, Attributes{"a", int64(2), nil, nil}, f.Attributes())

	f.Resize(1)
	assert.Equal(t, Attributes{"a"}, f.Attributes())
}

func TestFeature_SetAttributeOutOfRange(t *testing.T) {
	f := New(1, 1)
	assert.False(t, f.SetAttribute(3, "x"))
	assert.False(t, f.SetAttribute(-1, "x"))
	assert.Nil(t, f.Attribute(3))
}

func TestFeature_CloneDoesNotShareAttributes(t *testing.T) {
	f := New(7, 1)
	f.SetAttribute(0, "before")
	f.SetGeometry(PointGeometry(1, 2))

	c := f.Clone()
	c.SetAttribute(0, "after")

	assert.Equal(t, "before", f.Attribute(0))
	assert.Equal(t, int64(7), c.ID())
	assert.Same(t, f.Geometry(), c.Geometry())
}

func TestSetAttributes_Copies(t *testing.T) {
	attrs := Attributes{"a"}
	f := New(1, 0)
	f.SetAttributes(attrs)
	attrs[0] = "b"
	assert.Equal(t, "a", f.Attribute(0))
}

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
		ok    bool
	}{
		{"null", nil, "", false},
		{"int", 5, "5", true},
		{"int64", int64(-3), "-3", true},
		{"whole float", 5.0, "5", true},
		{"fraction", 2.5, "2.5", true},
		{"string", "abc", "abc", true},
		{"bool", true, "true", true},
		{"nfc", "é", "é", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CanonicalKey(tt.value)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(int64(5), "5"))
	assert.True(t, ValuesEqual(5, 5.0))
	assert.False(t, ValuesEqual(nil, nil))
	assert.False(t, ValuesEqual("a", "b"))
}

func TestNormalize_Unsigned(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"uint", uint(7), int64(7)},
		{"uint64", uint64(7), int64(7)},
		{"uint64 max int64", uint64(math.MaxInt64), int64(math.MaxInt64)},
		{"uint64 above int64", uint64(math.MaxUint64), float64(math.MaxUint64)},
		{"uint32", uint32(math.MaxUint32), int64(math.MaxUint32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
	assert.True(t, ValuesEqual(uint64(5), int64(5)))
}

func TestGeometry_Intersects(t *testing.T) {
	square := RectGeometry(NewRect(0, 0, 10, 10))

	assert.True(t, square.Intersects(NewRect(5, 5, 20, 20)))
	assert.True(t, square.Intersects(NewRect(10, 10, 20, 20)), "touching edges intersect")
	assert.False(t, square.Intersects(NewRect(11, 11, 20, 20)))

	var missing *Geometry
	assert.False(t, missing.Intersects(NewRect(0, 0, 1, 1)))
}

func TestNewGeometry_Bounds(t *testing.T) {
	g, err := NewGeometry(geom.LineString{{1, 5}, {3, -2}, {-4, 0}})
	require.NoError(t, err)
	assert.Equal(t, NewRect(-4, -2, 3, 5), g.Bounds())
}

func TestNewGeometry_Rejects(t *testing.T) {
	_, err := NewGeometry(geom.LineString{})
	assert.ErrorIs(t, err, ErrEmptyGeometry)

	_, err = NewGeometry(nil)
	assert.Error(t, err)
}

func TestNewRect_NormalisesCorners(t *testing.T) {
	assert.Equal(t, Rect{0, 1, 2, 3}, NewRect(2, 3, 0, 1))
}

func TestGeometry_String(t *testing.T) {
	assert.Equal(t, "POINT(1 2)", PointGeometry(1, 2).String())
	assert.Equal(t, "BOX(0 0, 2 3)", RectGeometry(NewRect(0, 0, 2, 3)).String())
}

func TestRequest_BuildersCopy(t *testing.T) {
	base := NewRequest()
	rect := base.WithRect(NewRect(0, 0, 1, 1)).WithSubset(2, 0, 2)

	assert.Equal(t, FilterNone, base.FilterType())
	assert.False(t, base.HasSubset())

	assert.Equal(t, FilterRect, rect.FilterType())
	assert.Equal(t, []int{2, 0}, rect.Subset())
	assert.True(t, rect.Wants(0))
	assert.False(t, rect.Wants(1))

	subset := rect.Subset()
	subset[0] = 9
	assert.Equal(t, []int{2, 0}, rect.Subset(), "Subset returns a copy")
}

func TestRequest_AttributesRequested(t *testing.T) {
	assert.True(t, NewRequest().AttributesRequested())
	assert.True(t, NewRequest().WithSubset(1).AttributesRequested())
	assert.False(t, NewRequest().WithSubset().AttributesRequested())
}

func TestRequest_String(t *testing.T) {
	req := NewRequest().WithFid(3).WithSubset(1).WithSkipGeometry(true)
	assert.Equal(t, "filter=fid fid=3 subset=[1] no-geometry", req.String())
}
