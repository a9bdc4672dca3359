package feature

import (
	"errors"
	"fmt"

	"github.com/go-spatial/geom"
)

// Rect is an axis aligned rectangle: [minX, minY, maxX, maxY].
type Rect = geom.Extent

// NewRect builds a Rect from its corners, normalising swapped bounds.
func NewRect(minX, minY, maxX, maxY float64) Rect {
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return Rect{minX, minY, maxX, maxY}
}

// RectsIntersect reports whether two rectangles overlap. Touching edges count.
func RectsIntersect(a, b Rect) bool {
	return a[0] <= b[2] && b[0] <= a[2] && a[1] <= b[3] && b[1] <= a[3]
}

// ErrEmptyGeometry is returned when a shape has no coordinates.
var ErrEmptyGeometry = errors.New("geometry has no coordinates")

// Geometry is an immutable shape with precomputed bounds.
type Geometry struct {
	shape  geom.Geometry
	bounds Rect
}

// NewGeometry wraps a go-spatial shape. Supported shapes are points,
// multipoints, linestrings, multilinestrings, polygons and multipolygons.
func NewGeometry(shape geom.Geometry) (*Geometry, error) {
	points, err := collectPoints(shape)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, ErrEmptyGeometry
	}
	ext := geom.NewExtent(points...)
	return &Geometry{shape: shape, bounds: *ext}, nil
}

// MustGeometry is NewGeometry that panics on error. Intended for tests and
// static fixtures.
func MustGeometry(shape geom.Geometry) *Geometry {
	g, err := NewGeometry(shape)
	if err != nil {
		panic(err)
	}
	return g
}

// PointGeometry returns a point geometry.
func PointGeometry(x, y float64) *Geometry {
	return MustGeometry(geom.Point{x, y})
}

// RectGeometry returns a closed polygon covering r.
func RectGeometry(r Rect) *Geometry {
	return MustGeometry(geom.Polygon{{
		{r[0], r[1]}, {r[2], r[1]}, {r[2], r[3]}, {r[0], r[3]}, {r[0], r[1]},
	}})
}

// Shape returns the wrapped go-spatial geometry.
func (g *Geometry) Shape() geom.Geometry { return g.shape }

// Bounds returns the bounding rectangle.
func (g *Geometry) Bounds() Rect { return g.bounds }

// Intersects reports whether the geometry's bounds overlap r.
func (g *Geometry) Intersects(r Rect) bool {
	if g == nil {
		return false
	}
	return RectsIntersect(g.bounds, r)
}

// String returns a compact description used in logs and CLI output.
func (g *Geometry) String() string {
	if g == nil {
		return "EMPTY"
	}
	b := g.bounds
	if b[0] == b[2] && b[1] == b[3] {
		return fmt.Sprintf("POINT(%g %g)", b[0], b[1])
	}
	return fmt.Sprintf("BOX(%g %g, %g %g)", b[0], b[1], b[2], b[3])
}

func collectPoints(shape geom.Geometry) ([][2]float64, error) {
	switch s := shape.(type) {
	case geom.Point:
		return [][2]float64{s}, nil
	case *geom.Point:
		return [][2]float64{*s}, nil
	case geom.MultiPoint:
		return append([][2]float64(nil), s...), nil
	case geom.LineString:
		return append([][2]float64(nil), s...), nil
	case geom.MultiLineString:
		var pts [][2]float64
		for _, line := range s {
			pts = append(pts, line...)
		}
		return pts, nil
	case geom.Polygon:
		var pts [][2]float64
		for _, ring := range s {
			pts = append(pts, ring...)
		}
		return pts, nil
	case geom.MultiPolygon:
		var pts [][2]float64
		for _, poly := range s {
			for _, ring := range poly {
				pts = append(pts, ring...)
			}
		}
		return pts, nil
	case nil:
		return nil, ErrEmptyGeometry
	default:
		return nil, fmt.Errorf("unsupported geometry type %T", shape)
	}
}
