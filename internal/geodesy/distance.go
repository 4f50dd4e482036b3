package geodesy

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// parts is a geometry decomposed into the primitives the distance
// computation works on: isolated vertices, boundary segments, and polygon
// rings for containment tests.
type parts struct {
	points [][2]float64
	segs   [][4]float64 // x1, y1, x2, y2
	rings  [][]float64  // flat XY exterior/interior rings
}

// Distance returns the minimum planar distance between two geometries in
// coordinate units. If either geometry lies inside the other's polygon
// interior, or their boundaries cross, the distance is zero. The minimum
// distance between two polylines is otherwise attained at a vertex of one
// against a segment of the other, which is what this computes.
func Distance(a, b geom.T) float64 {
	pa := decompose(a)
	pb := decompose(b)

	if containsAny(pa.rings, pb) || containsAny(pb.rings, pa) {
		return 0
	}
	if segmentsCross(pa.segs, pb.segs) {
		return 0
	}

	min := math.Inf(1)
	for _, p := range pa.allVertices() {
		if d := pb.distanceToPoint(p); d < min {
			min = d
		}
	}
	for _, p := range pb.allVertices() {
		if d := pa.distanceToPoint(p); d < min {
			min = d
		}
	}
	return min
}

// decompose flattens any go-geom geometry into points, segments, and rings.
func decompose(g geom.T) parts {
	var p parts
	p.add(g)
	return p
}

func (p *parts) add(g geom.T) {
	switch t := g.(type) {
	case *geom.Point:
		c := t.Coords()
		p.points = append(p.points, [2]float64{c[0], c[1]})
	case *geom.MultiPoint:
		for i := 0; i < t.NumPoints(); i++ {
			p.add(t.Point(i))
		}
	case *geom.LineString:
		p.addLine(t.FlatCoords(), t.Stride())
	case *geom.MultiLineString:
		for i := 0; i < t.NumLineStrings(); i++ {
			p.add(t.LineString(i))
		}
	case *geom.LinearRing:
		p.addLine(t.FlatCoords(), t.Stride())
	case *geom.Polygon:
		for i := 0; i < t.NumLinearRings(); i++ {
			ring := t.LinearRing(i)
			p.addLine(ring.FlatCoords(), ring.Stride())
			if i == 0 {
				p.rings = append(p.rings, ringXY(ring.FlatCoords(), ring.Stride()))
			}
		}
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			p.add(t.Polygon(i))
		}
	case *geom.GeometryCollection:
		for _, sub := range t.Geoms() {
			p.add(sub)
		}
	}
}

// addLine records the vertices of a coordinate sequence as segments (or a
// lone point for a single-vertex sequence).
func (p *parts) addLine(flat []float64, stride int) {
	n := len(flat) / stride
	if n == 0 {
		return
	}
	if n == 1 {
		p.points = append(p.points, [2]float64{flat[0], flat[1]})
		return
	}
	for i := 0; i < n-1; i++ {
		p.segs = append(p.segs, [4]float64{
			flat[i*stride], flat[i*stride+1],
			flat[(i+1)*stride], flat[(i+1)*stride+1],
		})
	}
}

// ringXY re-strides a flat coordinate sequence to plain XY for xy.IsPointInRing.
func ringXY(flat []float64, stride int) []float64 {
	if stride == 2 {
		return flat
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

// allVertices returns every vertex of the decomposition.
func (p *parts) allVertices() [][2]float64 {
	out := make([][2]float64, 0, len(p.points)+len(p.segs)*2)
	out = append(out, p.points...)
	for _, s := range p.segs {
		out = append(out, [2]float64{s[0], s[1]}, [2]float64{s[2], s[3]})
	}
	return out
}

// distanceToPoint returns the minimum distance from pt to any primitive.
func (p *parts) distanceToPoint(pt [2]float64) float64 {
	min := math.Inf(1)
	for _, q := range p.points {
		if d := math.Hypot(pt[0]-q[0], pt[1]-q[1]); d < min {
			min = d
		}
	}
	for _, s := range p.segs {
		if d := pointSegmentDistance(pt, s); d < min {
			min = d
		}
	}
	return min
}

// containsAny reports whether any ring contains a vertex of the other geometry.
func containsAny(rings [][]float64, other parts) bool {
	if len(rings) == 0 {
		return false
	}
	for _, v := range other.allVertices() {
		c := geom.Coord{v[0], v[1]}
		for _, ring := range rings {
			if xy.IsPointInRing(geom.XY, c, ring) {
				return true
			}
		}
	}
	return false
}

// pointSegmentDistance returns the distance from pt to the segment s.
func pointSegmentDistance(pt [2]float64, s [4]float64) float64 {
	dx, dy := s[2]-s[0], s[3]-s[1]
	if dx == 0 && dy == 0 {
		return math.Hypot(pt[0]-s[0], pt[1]-s[1])
	}
	t := ((pt[0]-s[0])*dx + (pt[1]-s[1])*dy) / (dx*dx + dy*dy)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return math.Hypot(pt[0]-(s[0]+t*dx), pt[1]-(s[1]+t*dy))
}

// segmentsCross reports whether any segment of a properly intersects any
// segment of b.
func segmentsCross(a, b [][4]float64) bool {
	for _, s1 := range a {
		for _, s2 := range b {
			if segmentsIntersect(s1, s2) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(s1, s2 [4]float64) bool {
	d1 := cross(s2[0], s2[1], s2[2], s2[3], s1[0], s1[1])
	d2 := cross(s2[0], s2[1], s2[2], s2[3], s1[2], s1[3])
	d3 := cross(s1[0], s1[1], s1[2], s1[3], s2[0], s2[1])
	d4 := cross(s1[0], s1[1], s1[2], s1[3], s2[2], s2[3])
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// cross returns the cross product of (p2-p1) and (p3-p1).
func cross(x1, y1, x2, y2, x3, y3 float64) float64 {
	return (x2-x1)*(y3-y1) - (y2-y1)*(x3-x1)
}
