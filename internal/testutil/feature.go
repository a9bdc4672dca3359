package testutil

import "github.com/roach88/vlayer/internal/feature"

// PointFeature builds a feature with a point geometry and the given
// attributes, normalized.
func PointFeature(id int64, x, y float64, attrs ...any) *feature.Feature {
	f := feature.New(id, len(attrs))
	for i, v := range attrs {
		f.SetAttribute(i, feature.Normalize(v))
	}
	f.SetGeometry(feature.PointGeometry(x, y))
	return f
}

// BareFeature builds a feature without geometry.
func BareFeature(id int64, attrs ...any) *feature.Feature {
	f := feature.New(id, len(attrs))
	for i, v := range attrs {
		f.SetAttribute(i, feature.Normalize(v))
	}
	return f
}
