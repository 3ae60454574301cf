// Package algorithm holds geometry algorithms written against the access
// capabilities only. Functions are generic so the backend is bound at compile
// time; only sequential access is used, so they also run on backends without
// random access.
package algorithm

import (
	"fmt"
	"geo-access/pkg/geom"
	"math"
)

const earthRadius = 6371000.0 // m

// partEnds returns the cumulative part ends of a geometry.
func partEnds[D geom.PartAccessor](ds D, id geom.GeometryID) ([]int, error) {
	n, err := ds.NumParts(id)
	if err != nil {
		return nil, err
	}
	ends := make([]int, n)
	for p := range n {
		_, end, err := ds.PartRange(id, p)
		if err != nil {
			return nil, err
		}
		ends[p] = end
	}
	return ends, nil
}

// segments calls fn for every segment inside a part, in storage order, with
// the part index, and start for the first coordinate of every part.
func segments[D geom.Dataset](ds D, id geom.GeometryID, start func(c geom.Coordinate), fn func(part int, a, b geom.Coordinate)) error {
	ends, err := partEnds(ds, id)
	if err != nil {
		return err
	}
	seq, err := ds.Coordinates(id)
	if err != nil {
		return err
	}

	var prev geom.Coordinate
	i, part, partStart := 0, 0, 0
	for c := range seq {
		for part < len(ends) && i >= ends[part] {
			partStart = ends[part]
			part++
		}
		if i == partStart {
			if start != nil {
				start(c)
			}
		} else {
			fn(part, prev, c)
		}
		prev = c
		i++
	}
	return nil
}

// linearParts reports for every part whether it belongs to a line or a ring,
// rather than to a point or multi point. ok is false when no part does.
func linearParts[D geom.Dataset](ds D, id geom.GeometryID) (linear []bool, ok bool, err error) {
	members, err := geom.Members(ds, id)
	if err != nil {
		return nil, false, err
	}
	for _, m := range members {
		isLinear := m.Type != geom.POINT && m.Type != geom.MULTIPOINT
		for range m.EndPart - m.StartPart {
			linear = append(linear, isLinear)
		}
		ok = ok || (isLinear && m.EndPart > m.StartPart)
	}
	return linear, ok, nil
}

// segmentSum adds up measure over the segments of the linear parts.
func segmentSum[D geom.Dataset](ds D, id geom.GeometryID, measure func(a, b geom.Coordinate) float64) (float64, error) {
	linear, ok, err := linearParts(ds, id)
	if err != nil || !ok {
		return 0, err
	}

	var total float64
	err = segments(ds, id, nil, func(part int, a, b geom.Coordinate) {
		if part < len(linear) && linear[part] {
			total += measure(a, b)
		}
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Length is the planar length of a geometry: the sum of the segment lengths
// of every part. Points and multi points, alone or as members of a
// collection, have zero length.
func Length[D geom.Dataset](ds D, id geom.GeometryID) (float64, error) {
	return segmentSum(ds, id, func(a, b geom.Coordinate) float64 {
		return math.Hypot(b.X-a.X, b.Y-a.Y)
	})
}

// HaversineLength is the great circle length in meters of a geometry whose X
// and Y are longitude and latitude in degrees.
func HaversineLength[D geom.Dataset](ds D, id geom.GeometryID) (float64, error) {
	return segmentSum(ds, id, Haversine)
}

// Haversine is the great circle distance in meters between two lon/lat
// coordinates.
func Haversine(a, b geom.Coordinate) float64 {
	lat1 := a.Y * math.Pi / 180
	lat2 := b.Y * math.Pi / 180
	dLat := (b.Y - a.Y) * math.Pi / 180
	dLon := (b.X - a.X) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

// planar maps a coordinate to itself.
func planar(c geom.Coordinate) (float64, float64) {
	return c.X, c.Y
}

// equalArea maps lon/lat degrees to the Lambert cylindrical equal-area
// projection of the unit sphere.
func equalArea(c geom.Coordinate) (float64, float64) {
	return c.X * math.Pi / 180, math.Sin(c.Y * math.Pi / 180)
}

// polygonAreas returns the signed area of every polygon of a geometry, the
// geometry itself or the polygon members of a composite, in storage order.
// Coordinates go through proj first.
func polygonAreas[D geom.Dataset](ds D, id geom.GeometryID, proj func(geom.Coordinate) (float64, float64)) ([]float64, error) {
	members, err := geom.Members(ds, id)
	if err != nil {
		return nil, err
	}
	var polygons []geom.Member
	for _, m := range members {
		if m.Type == geom.POLYGON && m.EndPart > m.StartPart {
			polygons = append(polygons, m)
		}
	}
	if len(polygons) == 0 {
		return nil, nil
	}

	ends, err := partEnds(ds, id)
	if err != nil {
		return nil, err
	}
	seq, err := ds.Coordinates(id)
	if err != nil {
		return nil, err
	}

	rings := make([]float64, 0, len(ends))
	var sum float64
	var firstX, firstY, prevX, prevY float64
	i, part, start := 0, 0, 0
	for c := range seq {
		x, y := proj(c)
		if i == start {
			firstX, firstY = x, y
			sum = 0
		} else {
			sum += prevX*y - x*prevY
		}
		prevX, prevY = x, y
		i++
		if part < len(ends) && i == ends[part] {
			sum += prevX*firstY - firstX*prevY
			rings = append(rings, sum/2)
			start = ends[part]
			part++
		}
	}

	out := make([]float64, 0, len(polygons))
	for _, p := range polygons {
		if p.EndPart > len(rings) {
			return nil, fmt.Errorf("polygon parts [%d, %d) of geometry %d exceed its %d rings", p.StartPart, p.EndPart, id, len(rings))
		}
		out = append(out, signedPolygonArea(rings[p.StartPart:p.EndPart]))
	}
	return out, nil
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

// SignedArea is the planar area of a polygon, positive when the exterior ring
// is counter clockwise. Holes are subtracted whatever their winding. The
// signed area of a multi polygon or a collection sums those of its polygons.
// Other geometry types have zero area.
func SignedArea[D geom.Dataset](ds D, id geom.GeometryID) (float64, error) {
	areas, err := polygonAreas(ds, id, planar)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, a := range areas {
		total += a
	}
	return total, nil
}

// Area is the unsigned planar area, summed over polygons.
func Area[D geom.Dataset](ds D, id geom.GeometryID) (float64, error) {
	areas, err := polygonAreas(ds, id, planar)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, a := range areas {
		total += math.Abs(a)
	}
	return total, nil
}

// GeodesicArea is the area in square meters, on a sphere, of the polygons of
// a geometry whose X and Y are longitude and latitude in degrees. Edges are
// taken as straight in the cylindrical equal-area projection, which is exact
// along meridians and parallels.
func GeodesicArea[D geom.Dataset](ds D, id geom.GeometryID) (float64, error) {
	areas, err := polygonAreas(ds, id, equalArea)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, a := range areas {
		total += math.Abs(a)
	}
	return total * earthRadius * earthRadius, nil
}

// Bounds is the X/Y envelope of a geometry, empty when it has no coordinates.
func Bounds[A geom.GeometryAccessor](a A, id geom.GeometryID) (geom.Bounds, error) {
	seq, err := a.Coordinates(id)
	if err != nil {
		return geom.Bounds{}, err
	}

	b := geom.EmptyBounds()
	for c := range seq {
		b = b.Extend(c)
	}
	return b, nil
}
