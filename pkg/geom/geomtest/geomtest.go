// Package geomtest holds the conformance checks every geom.Dataset backend
// runs against the shared fixtures.
package geomtest

import (
	"geo-access/pkg/geom"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixture is the expected content of one geometry.
type Fixture struct {
	Name   string
	Type   geom.GeometryType
	Coords []geom.Coordinate
	// Ends are the cumulative part ends. Nil means one part unless Coords is empty.
	Ends []int
	// Members are set on composite fixtures only.
	Members []geom.Member
}

func (f Fixture) ends() []int {
	if f.Ends != nil {
		return f.Ends
	}
	if len(f.Coords) == 0 {
		return []int{}
	}
	return []int{len(f.Coords)}
}

// Parts splits the fixture coordinates by part.
func (f Fixture) Parts() [][]geom.Coordinate {
	ends := f.ends()
	out := make([][]geom.Coordinate, 0, len(ends))
	start := 0
	for _, end := range ends {
		out = append(out, f.Coords[start:end])
		start = end
	}
	return out
}

// Triangle is the line string (0,0), (1,0), (0,1).
func Triangle() Fixture {
	return Fixture{
		Name: "triangle",
		Type: geom.LINESTRING,
		Coords: []geom.Coordinate{
			{X: 0, Y: 0},
			{X: 1, Y: 0},
			{X: 0, Y: 1},
		},
	}
}

// Empty is a line string without coordinates.
func Empty() Fixture {
	return Fixture{Name: "empty", Type: geom.LINESTRING, Coords: []geom.Coordinate{}}
}

// Square is a polygon with one hole, exterior counter clockwise.
func Square() Fixture {
	return Fixture{
		Name: "square with hole",
		Type: geom.POLYGON,
		Coords: []geom.Coordinate{
			{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 4}, {X: 0, Y: 4}, {X: 0, Y: 0},
			{X: 1, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 2}, {X: 2, Y: 1}, {X: 1, Y: 1},
		},
		Ends: []int{5, 10},
	}
}

// Point is a single point.
func Point() Fixture {
	return Fixture{
		Name:   "point",
		Type:   geom.POINT,
		Coords: []geom.Coordinate{{X: 95.42104, Y: 5.64786}},
	}
}

// Fixtures is the default fixture set in GeometryID order.
func Fixtures() []Fixture {
	return []Fixture{Triangle(), Empty(), Square(), Point()}
}

// Islands is a multi polygon of a 3x3 square with a 1x1 hole and a 2x2
// square, for a total area of 12.
func Islands() Fixture {
	return Fixture{
		Name: "islands",
		Type: geom.MULTIPOLYGON,
		Coords: []geom.Coordinate{
			{X: 10, Y: 10}, {X: 13, Y: 10}, {X: 13, Y: 13}, {X: 10, Y: 13}, {X: 10, Y: 10},
			{X: 11, Y: 11}, {X: 11, Y: 12}, {X: 12, Y: 12}, {X: 12, Y: 11}, {X: 11, Y: 11},
			{X: 0, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 2}, {X: 0, Y: 2}, {X: 0, Y: 0},
		},
		Ends: []int{5, 10, 15},
		Members: []geom.Member{
			{Type: geom.POLYGON, StartPart: 0, EndPart: 2},
			{Type: geom.POLYGON, StartPart: 2, EndPart: 3},
		},
	}
}

// Collection is a point, a line of length 5 and a unit square.
func Collection() Fixture {
	return Fixture{
		Name: "collection",
		Type: geom.GEOMETRYCOLLECTION,
		Coords: []geom.Coordinate{
			{X: 5, Y: 5},
			{X: 0, Y: 0}, {X: 3, Y: 4},
			{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: 0, Y: 0},
		},
		Ends: []int{1, 3, 8},
		Members: []geom.Member{
			{Type: geom.POINT, StartPart: 0, EndPart: 1},
			{Type: geom.LINESTRING, StartPart: 1, EndPart: 2},
			{Type: geom.POLYGON, StartPart: 2, EndPart: 3},
		},
	}
}

// Composites are the fixtures for backends holding composite geometries.
func Composites() []Fixture {
	return []Fixture{Islands(), Collection()}
}

// Run checks ds against fixtures, where fixtures[i] is expected at GeometryID i.
// randomAccess is false for backends that report ErrUnavailable on CoordinateAt.
func Run(t *testing.T, ds geom.Dataset, fixtures []Fixture, randomAccess bool) {
	t.Helper()

	require.Equal(t, len(fixtures), ds.NumGeometries())

	for i, f := range fixtures {
		id := geom.GeometryID(i)

		t.Run(f.Name, func(t *testing.T) {
			typ, err := ds.TypeOf(id)
			require.NoError(t, err)
			assert.Equal(t, f.Type, typ)

			n, err := ds.Len(id)
			require.NoError(t, err)
			assert.Equal(t, len(f.Coords), n)

			first, err := geom.Collect(ds, id)
			require.NoError(t, err)
			second, err := geom.Collect(ds, id)
			require.NoError(t, err)
			assert.Equal(t, f.Coords, first, "storage order")
			assert.Equal(t, first, second, "restartable sequence")

			seq, err := ds.Coordinates(id)
			require.NoError(t, err)
			var a, b []geom.Coordinate
			for c := range seq {
				a = append(a, c)
			}
			for c := range seq {
				b = append(b, c)
			}
			assert.Equal(t, a, b, "ranging the same sequence twice")

			if randomAccess {
				for idx := range n {
					c, err := ds.CoordinateAt(id, idx)
					require.NoError(t, err)
					assert.Equal(t, first[idx], c, "coordinate %d", idx)
				}

				_, err = ds.CoordinateAt(id, n)
				assert.ErrorIs(t, err, geom.ErrOutOfBounds)
				_, err = ds.CoordinateAt(id, -1)
				assert.ErrorIs(t, err, geom.ErrOutOfBounds)
			} else {
				_, err = ds.CoordinateAt(id, 0)
				assert.ErrorIs(t, err, geom.ErrUnavailable)
			}

			numParts, err := ds.NumParts(id)
			require.NoError(t, err)
			ends := f.ends()
			require.Equal(t, len(ends), numParts)
			for p := range numParts {
				_, end, err := ds.PartRange(id, p)
				require.NoError(t, err)
				assert.Equal(t, ends[p], end, "part %d", p)
			}

			if f.Members != nil {
				members, err := geom.Members(ds, id)
				require.NoError(t, err)
				assert.Equal(t, f.Members, members)
			}
		})
	}

	_, err := ds.Len(geom.GeometryID(len(fixtures)))
	assert.ErrorIs(t, err, geom.ErrNotFound)
	_, err = ds.Coordinates(-1)
	assert.ErrorIs(t, err, geom.ErrNotFound)
}

// RunConcurrent reads every fixture of ds from several goroutines at once.
// Failures are reported with assert, which is safe off the test goroutine.
func RunConcurrent(t *testing.T, ds geom.Dataset, fixtures []Fixture, randomAccess bool) {
	t.Helper()

	const readers = 8

	var wg sync.WaitGroup
	for r := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for k := range fixtures {
				// readers start at different geometries
				i := (k + r) % len(fixtures)
				id := geom.GeometryID(i)
				f := fixtures[i]

				coords, err := geom.Collect(ds, id)
				if !assert.NoError(t, err, "reader %d geometry %d", r, i) {
					continue
				}
				assert.Equal(t, f.Coords, coords, "reader %d geometry %d", r, i)

				if randomAccess {
					for idx, want := range f.Coords {
						c, err := ds.CoordinateAt(id, idx)
						if assert.NoError(t, err) {
							assert.Equal(t, want, c, "reader %d geometry %d coordinate %d", r, i, idx)
						}
					}
				}

				n, err := ds.NumParts(id)
				if assert.NoError(t, err) {
					assert.Len(t, f.ends(), n)
				}
			}
		}()
	}
	wg.Wait()
}
