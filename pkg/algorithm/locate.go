package algorithm

import (
	"errors"
	"geo-access/pkg/geom"
	"math"
)

var ErrNoMeasure = errors.New("algorithm: geometry has no M ordinate")

// Location is the result of projecting a point on a measured line.
type Location struct {
	// M is the measure interpolated at the projected point.
	M float64
	// Distance from the input point to the line.
	Distance float64
	// Point is the projected point on the line, with M set.
	Point geom.Coordinate
	// Segment is the index of the first coordinate of the matched segment.
	Segment int
}

// LocateM projects p on the nearest segment of a measured geometry and
// linearly interpolates M along that segment. Ties keep the first segment in
// storage order.
func LocateM[D geom.Dataset](ds D, id geom.GeometryID, p geom.Coordinate) (Location, error) {
	if !ds.Layout().HasM() {
		return Location{}, ErrNoMeasure
	}

	n, err := ds.Len(id)
	if err != nil {
		return Location{}, err
	}
	if n == 0 {
		return Location{}, geom.OutOfBounds("LocateM", id, 0, 0)
	}

	best := Location{Distance: math.Inf(1)}
	i := 0
	consider := func(loc Location) {
		if loc.Distance < best.Distance {
			best = loc
		}
	}

	err = segments(ds, id,
		func(c geom.Coordinate) {
			consider(Location{
				M:        c.M,
				Distance: math.Hypot(p.X-c.X, p.Y-c.Y),
				Point:    c,
				Segment:  i,
			})
			i++
		},
		func(_ int, a, b geom.Coordinate) {
			consider(project(p, a, b, i-1))
			i++
		},
	)
	if err != nil {
		return Location{}, err
	}

	return best, nil
}

// project finds the closest point to p on segment ab.
func project(p, a, b geom.Coordinate, segment int) Location {
	dx, dy := b.X-a.X, b.Y-a.Y
	t := 0.0
	if l2 := dx*dx + dy*dy; l2 > 0 {
		t = ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / l2
		t = math.Max(0, math.Min(1, t))
	}

	q := geom.Coordinate{
		X: a.X + t*dx,
		Y: a.Y + t*dy,
		Z: a.Z + t*(b.Z-a.Z),
		M: a.M + t*(b.M-a.M),
	}
	return Location{
		M:        q.M,
		Distance: math.Hypot(p.X-q.X, p.Y-q.Y),
		Point:    q,
		Segment:  segment,
	}
}
