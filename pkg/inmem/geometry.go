// Package inmem is the reference storage: plain Go structs holding flat
// float64 coordinates, and the default backend every algorithm is checked
// against.
package inmem

import (
	"errors"
	"fmt"
	"geo-access/pkg/geom"
	"math"
)

var (
	errLayout         = errors.New("geometry has no layout")
	errLengthStride   = errors.New("flat coordinates length is not a multiple of the stride")
	errOutOfOrderEnd  = errors.New("part ends are out of order")
	errIncorrectEnd   = errors.New("last part end does not match the coordinate count")
	errTooFewCoords   = errors.New("too few coordinates for geometry type")
	errUnclosedRing   = errors.New("polygon ring is not closed")
	errUnexpectedPart = errors.New("unexpected number of parts for geometry type")
	errMembers        = errors.New("members do not cover the parts in order")
)

// Geometry is one geometry in flat form. Ends holds the cumulative coordinate
// count at the end of each part, so part p spans coordinates
// [Ends[p-1], Ends[p]). Members is only set on composite geometries.
type Geometry struct {
	Type    geom.GeometryType
	Layout  geom.Layout
	Flat    []float64
	Ends    []int
	Members []geom.Member
}

func NewPoint(layout geom.Layout, c geom.Coordinate) Geometry {
	return Geometry{
		Type:   geom.POINT,
		Layout: layout,
		Flat:   c.AppendFlat(nil, layout),
		Ends:   []int{1},
	}
}

// NewEmpty returns a geometry of type typ without coordinates.
func NewEmpty(typ geom.GeometryType, layout geom.Layout) Geometry {
	return Geometry{Type: typ, Layout: layout, Flat: []float64{}, Ends: []int{}}
}

func NewLineString(layout geom.Layout, coords []geom.Coordinate) (Geometry, error) {
	return NewGeometry(geom.LINESTRING, layout, [][]geom.Coordinate{coords})
}

func NewMultiPoint(layout geom.Layout, coords []geom.Coordinate) (Geometry, error) {
	return NewGeometry(geom.MULTIPOINT, layout, [][]geom.Coordinate{coords})
}

// NewPolygon builds a polygon from its exterior ring followed by its holes.
func NewPolygon(layout geom.Layout, rings [][]geom.Coordinate) (Geometry, error) {
	return NewGeometry(geom.POLYGON, layout, rings)
}

func NewMultiLineString(layout geom.Layout, lines [][]geom.Coordinate) (Geometry, error) {
	return NewGeometry(geom.MULTILINESTRING, layout, lines)
}

// NewMultiPolygon builds a multi polygon from polygons given as rings, the
// exterior ring of each first.
func NewMultiPolygon(layout geom.Layout, polygons [][][]geom.Coordinate) (Geometry, error) {
	members := make([]Geometry, 0, len(polygons))
	for i, rings := range polygons {
		p, err := NewPolygon(layout, rings)
		if err != nil {
			return Geometry{}, fmt.Errorf("polygon %d: %w", i, err)
		}
		members = append(members, p)
	}
	return newComposite(geom.MULTIPOLYGON, layout, members)
}

// NewCollection builds a geometry collection. Members can not be composite
// themselves.
func NewCollection(layout geom.Layout, members ...Geometry) (Geometry, error) {
	return newComposite(geom.GEOMETRYCOLLECTION, layout, members)
}

// NewComposite builds a composite geometry from its parts and the part ranges
// of its members.
func NewComposite(typ geom.GeometryType, layout geom.Layout, parts [][]geom.Coordinate, members []geom.Member) (Geometry, error) {
	if !typ.Composite() {
		return Geometry{}, fmt.Errorf("%s is not a composite type", typ)
	}

	geoms := make([]Geometry, 0, len(members))
	next := 0
	for k, m := range members {
		if m.StartPart != next || m.EndPart < m.StartPart || m.EndPart > len(parts) {
			return Geometry{}, fmt.Errorf("%w: member %d spans parts [%d, %d) of %d", errMembers, k, m.StartPart, m.EndPart, len(parts))
		}
		next = m.EndPart
		g, err := NewGeometry(m.Type, layout, parts[m.StartPart:m.EndPart])
		if err != nil {
			return Geometry{}, fmt.Errorf("member %d: %w", k, err)
		}
		geoms = append(geoms, g)
	}
	if next != len(parts) {
		return Geometry{}, fmt.Errorf("%w: %d of %d parts covered", errMembers, next, len(parts))
	}
	return newComposite(typ, layout, geoms)
}

func newComposite(typ geom.GeometryType, layout geom.Layout, members []Geometry) (Geometry, error) {
	g := Geometry{Type: typ, Layout: layout, Flat: []float64{}, Ends: []int{}, Members: []geom.Member{}}

	for i, m := range members {
		if m.Type.Composite() {
			return Geometry{}, fmt.Errorf("member %d: nested %s", i, m.Type)
		}
		if m.Layout != layout {
			return Geometry{}, fmt.Errorf("member %d: layout %s does not match %s", i, m.Layout, layout)
		}

		base := g.NumCoords()
		start := len(g.Ends)
		g.Flat = append(g.Flat, m.Flat...)
		for _, end := range m.Ends {
			g.Ends = append(g.Ends, base+end)
		}
		g.Members = append(g.Members, geom.Member{Type: m.Type, StartPart: start, EndPart: len(g.Ends)})
	}

	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

// Member returns member k of a composite geometry as a geometry of its own,
// sharing storage.
func (g *Geometry) Member(k int) Geometry {
	m := g.Members[k]
	stride := g.Layout.Stride()

	base := 0
	if m.StartPart > 0 {
		base = g.Ends[m.StartPart-1]
	}
	ends := make([]int, 0, m.EndPart-m.StartPart)
	for _, end := range g.Ends[m.StartPart:m.EndPart] {
		ends = append(ends, end-base)
	}
	last := base
	if m.EndPart > m.StartPart {
		last = g.Ends[m.EndPart-1]
	}

	return Geometry{Type: m.Type, Layout: g.Layout, Flat: g.Flat[base*stride : last*stride], Ends: ends}
}

// memberOf returns the type of the geometry holding part p.
func (g *Geometry) memberOf(p int) geom.GeometryType {
	if !g.Type.Composite() {
		return g.Type
	}
	for _, m := range g.Members {
		if p >= m.StartPart && p < m.EndPart {
			return m.Type
		}
	}
	return ""
}

// NewGeometry builds and validates a geometry from its parts. Empty parts are
// dropped, so a geometry whose parts are all empty is the empty geometry.
func NewGeometry(typ geom.GeometryType, layout geom.Layout, parts [][]geom.Coordinate) (Geometry, error) {
	g := Geometry{Type: typ, Layout: layout, Flat: []float64{}, Ends: []int{}}

	n := 0
	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		for _, c := range part {
			g.Flat = c.AppendFlat(g.Flat, layout)
		}
		n += len(part)
		g.Ends = append(g.Ends, n)
	}

	if err := g.Validate(); err != nil {
		return Geometry{}, err
	}
	return g, nil
}

// NumCoords is the number of coordinates of the geometry.
func (g *Geometry) NumCoords() int {
	stride := g.Layout.Stride()
	if stride == 0 {
		return 0
	}
	return len(g.Flat) / stride
}

// Coord returns the i-th coordinate without bounds checks beyond the slice's.
func (g *Geometry) Coord(i int) geom.Coordinate {
	stride := g.Layout.Stride()
	return geom.FromFlat(g.Flat[i*stride:(i+1)*stride], g.Layout)
}

// Validate checks the flat representation and the coordinate count rules of
// the geometry type.
func (g *Geometry) Validate() error {
	if !g.Type.Valid() {
		return fmt.Errorf("unsupported geometry type %q", g.Type)
	}

	stride := g.Layout.Stride()
	if stride == 0 {
		return errLayout
	}
	if len(g.Flat)%stride != 0 {
		return errLengthStride
	}

	n := len(g.Flat) / stride
	prev := 0
	for _, end := range g.Ends {
		if end <= prev {
			return errOutOfOrderEnd
		}
		prev = end
	}
	if prev != n {
		return errIncorrectEnd
	}

	switch g.Type {
	case geom.POINT:
		if n > 1 {
			return fmt.Errorf("%w: point with %d coordinates", errUnexpectedPart, n)
		}
	case geom.LINESTRING:
		if len(g.Ends) > 1 {
			return fmt.Errorf("%w: line string with %d parts", errUnexpectedPart, len(g.Ends))
		}
		if n == 1 {
			return fmt.Errorf("%w: line string with 1 coordinate", errTooFewCoords)
		}
	case geom.MULTIPOINT:
		if len(g.Ends) > 1 {
			return fmt.Errorf("%w: multi point with %d parts", errUnexpectedPart, len(g.Ends))
		}
	case geom.MULTILINESTRING:
		start := 0
		for _, end := range g.Ends {
			if end-start < 2 {
				return fmt.Errorf("%w: line with %d coordinates", errTooFewCoords, end-start)
			}
			start = end
		}
	case geom.POLYGON:
		start := 0
		for _, end := range g.Ends {
			if end-start < 4 {
				return fmt.Errorf("%w: ring with %d coordinates", errTooFewCoords, end-start)
			}
			first, last := g.Coord(start), g.Coord(end-1)
			if first.X != last.X || first.Y != last.Y {
				return errUnclosedRing
			}
			start = end
		}
	}

	if !g.Type.Composite() {
		if g.Members != nil {
			return fmt.Errorf("%s can not have members", g.Type)
		}
		return nil
	}
	return g.validateMembers()
}

func (g *Geometry) validateMembers() error {
	next := 0
	for k, m := range g.Members {
		if m.StartPart != next || m.EndPart < m.StartPart {
			return fmt.Errorf("%w: member %d spans parts [%d, %d)", errMembers, k, m.StartPart, m.EndPart)
		}
		if m.Type.Composite() || !m.Type.Valid() {
			return fmt.Errorf("member %d: unsupported member type %q", k, m.Type)
		}
		if g.Type == geom.MULTIPOLYGON && m.Type != geom.POLYGON {
			return fmt.Errorf("member %d: multi polygon member is a %s", k, m.Type)
		}
		next = m.EndPart
	}
	if next != len(g.Ends) || (len(g.Members) == 0 && len(g.Ends) > 0) {
		return fmt.Errorf("%w: %d of %d parts covered", errMembers, next, len(g.Ends))
	}

	for k := range g.Members {
		member := g.Member(k)
		if err := member.Validate(); err != nil {
			return fmt.Errorf("member %d: %w", k, err)
		}
	}
	return nil
}

// Length is the planar length: the sum of the segment lengths of every part.
// Points and multi points, alone or as members, have zero length.
func (g *Geometry) Length() float64 {
	stride := g.Layout.Stride()
	var total float64
	start := 0
	for p, end := range g.Ends {
		if typ := g.memberOf(p); typ != geom.POINT && typ != geom.MULTIPOINT {
			for j := start + 1; j < end; j++ {
				x0, y0 := g.Flat[(j-1)*stride], g.Flat[(j-1)*stride+1]
				x1, y1 := g.Flat[j*stride], g.Flat[j*stride+1]
				total += math.Hypot(x1-x0, y1-y0)
			}
		}
		start = end
	}
	return total
}

// polygonAreas returns the signed area of every polygon of the geometry, the
// geometry itself or its polygon members, in storage order.
func (g *Geometry) polygonAreas() []float64 {
	var polygons [][2]int
	switch {
	case g.Type == geom.POLYGON && len(g.Ends) > 0:
		polygons = append(polygons, [2]int{0, len(g.Ends)})
	case g.Type.Composite():
		for _, m := range g.Members {
			if m.Type == geom.POLYGON && m.EndPart > m.StartPart {
				polygons = append(polygons, [2]int{m.StartPart, m.EndPart})
			}
		}
	}
	if len(polygons) == 0 {
		return nil
	}

	stride := g.Layout.Stride()
	rings := make([]float64, 0, len(g.Ends))
	start := 0
	for _, end := range g.Ends {
		var sum float64
		for j := start + 1; j < end; j++ {
			x0, y0 := g.Flat[(j-1)*stride], g.Flat[(j-1)*stride+1]
			x1, y1 := g.Flat[j*stride], g.Flat[j*stride+1]
			sum += x0*y1 - x1*y0
		}
		xf, yf := g.Flat[start*stride], g.Flat[start*stride+1]
		xl, yl := g.Flat[(end-1)*stride], g.Flat[(end-1)*stride+1]
		sum += xl*yf - xf*yl
		rings = append(rings, sum/2)
		start = end
	}

	out := make([]float64, 0, len(polygons))
	for _, p := range polygons {
		out = append(out, signedPolygonArea(rings[p[0]:p[1]]))
	}
	return out
}

// signedPolygonArea combines the areas of an exterior ring and its holes.
func signedPolygonArea(rings []float64) float64 {
	area := math.Abs(rings[0])
	for _, hole := range rings[1:] {
		area -= math.Abs(hole)
	}
	if rings[0] < 0 {
		return -area
	}
	return area
}

// SignedArea is the planar area of a polygon, positive for a counter
// clockwise exterior ring. Holes are subtracted whatever their winding. The
// signed area of a composite geometry sums those of its polygons. Other
// geometries have zero area.
func (g *Geometry) SignedArea() float64 {
	var total float64
	for _, a := range g.polygonAreas() {
		total += a
	}
	return total
}

// Area is the unsigned planar area, summed over polygons.
func (g *Geometry) Area() float64 {
	var total float64
	for _, a := range g.polygonAreas() {
		total += math.Abs(a)
	}
	return total
}

// Bounds is the X/Y envelope, empty for an empty geometry.
func (g *Geometry) Bounds() geom.Bounds {
	b := geom.EmptyBounds()
	for i := range g.NumCoords() {
		b = b.Extend(g.Coord(i))
	}
	return b
}
