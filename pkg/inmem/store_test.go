package inmem_test

import (
	"geo-access/pkg/geom"
	"geo-access/pkg/geom/geomtest"
	"geo-access/pkg/inmem"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixtureStore(t *testing.T, fixtures []geomtest.Fixture) *inmem.Store {
	t.Helper()

	store, err := inmem.NewStore(geom.XY)
	require.NoError(t, err)

	for _, f := range fixtures {
		var g inmem.Geometry
		if f.Members != nil {
			g, err = inmem.NewComposite(f.Type, geom.XY, f.Parts(), f.Members)
		} else {
			g, err = inmem.NewGeometry(f.Type, geom.XY, f.Parts())
		}
		require.NoError(t, err)
		_, err = store.Add(g, nil)
		require.NoError(t, err)
	}
	return store
}

func TestStoreConformance(t *testing.T) {
	store := newFixtureStore(t, geomtest.Fixtures())
	geomtest.Run(t, store, geomtest.Fixtures(), true)
	geomtest.RunConcurrent(t, store, geomtest.Fixtures(), true)
}

func TestCompositeConformance(t *testing.T) {
	fixtures := append(geomtest.Fixtures(), geomtest.Composites()...)
	store := newFixtureStore(t, fixtures)
	geomtest.Run(t, store, fixtures, true)
	geomtest.RunConcurrent(t, store, fixtures, true)

	copied, err := inmem.FromDataset(store)
	require.NoError(t, err)
	geomtest.Run(t, copied, fixtures, true)

	n, err := store.NumMembers(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	_, err = store.MemberAt(4, 2)
	assert.ErrorIs(t, err, geom.ErrOutOfBounds)
}

func TestCompositeMembers(t *testing.T) {
	g, err := inmem.NewComposite(geom.MULTIPOLYGON, geom.XY, geomtest.Islands().Parts(), geomtest.Islands().Members)
	require.NoError(t, err)
	assert.Equal(t, 12.0, g.Area())
	assert.Equal(t, 12.0, g.SignedArea())
	assert.Equal(t, 24.0, g.Length())

	second := g.Member(1)
	assert.Equal(t, geom.POLYGON, second.Type)
	assert.Equal(t, []int{5}, second.Ends)
	assert.Equal(t, 4.0, second.Area())

	point := inmem.NewPoint(geom.XY, geom.Coordinate{X: 1, Y: 1})
	line, err := inmem.NewLineString(geom.XY, []geom.Coordinate{{X: 0, Y: 0}, {X: 3, Y: 4}})
	require.NoError(t, err)
	c, err := inmem.NewCollection(geom.XY, point, line, inmem.NewEmpty(geom.POLYGON, geom.XY))
	require.NoError(t, err)
	assert.Equal(t, []geom.Member{
		{Type: geom.POINT, StartPart: 0, EndPart: 1},
		{Type: geom.LINESTRING, StartPart: 1, EndPart: 2},
		{Type: geom.POLYGON, StartPart: 2, EndPart: 2},
	}, c.Members)
	assert.Equal(t, 5.0, c.Length())
	assert.Equal(t, 0.0, c.Area())

	t.Run("errors", func(t *testing.T) {
		_, err := inmem.NewCollection(geom.XY, c)
		assert.ErrorContains(t, err, "nested")

		_, err = inmem.NewCollection(geom.XYZ, line)
		assert.ErrorContains(t, err, "layout")

		// parts without members
		_, err = inmem.NewGeometry(geom.MULTIPOLYGON, geom.XY, geomtest.Islands().Parts())
		assert.Error(t, err)

		_, err = inmem.NewComposite(geom.MULTIPOLYGON, geom.XY, geomtest.Islands().Parts(), []geom.Member{
			{Type: geom.POLYGON, StartPart: 0, EndPart: 2},
		})
		assert.ErrorContains(t, err, "parts covered")

		_, err = inmem.NewComposite(geom.MULTIPOLYGON, geom.XY, geomtest.Collection().Parts(), geomtest.Collection().Members)
		assert.ErrorContains(t, err, "multi polygon member")

		_, err = inmem.NewComposite(geom.POLYGON, geom.XY, geomtest.Square().Parts(), nil)
		assert.Error(t, err)

		bad := line
		bad.Members = []geom.Member{{Type: geom.LINESTRING, StartPart: 0, EndPart: 1}}
		assert.Error(t, bad.Validate())
	})
}

func TestTriangleScenario(t *testing.T) {
	store := newFixtureStore(t, []geomtest.Fixture{geomtest.Triangle()})

	n, err := store.Len(0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	c, err := store.CoordinateAt(0, 1)
	require.NoError(t, err)
	assert.Equal(t, geom.Coordinate{X: 1, Y: 0}, c)

	_, err = store.CoordinateAt(0, 3)
	assert.ErrorIs(t, err, geom.ErrOutOfBounds)
}

func TestEmptyScenario(t *testing.T) {
	store := newFixtureStore(t, []geomtest.Fixture{geomtest.Empty()})

	n, err := store.Len(0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	seq, err := store.Coordinates(0)
	require.NoError(t, err)
	count := 0
	for range seq {
		count++
	}
	assert.Equal(t, 0, count)

	_, err = store.CoordinateAt(0, 0)
	assert.ErrorIs(t, err, geom.ErrOutOfBounds)
}

func TestSequenceEarlyStop(t *testing.T) {
	store := newFixtureStore(t, []geomtest.Fixture{geomtest.Square()})

	seq, err := store.Coordinates(0)
	require.NoError(t, err)

	var got []geom.Coordinate
	for c := range seq {
		got = append(got, c)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []geom.Coordinate{{X: 0, Y: 0}, {X: 4, Y: 0}}, got)
}

func TestFlatCoords(t *testing.T) {
	store := newFixtureStore(t, []geomtest.Fixture{geomtest.Triangle()})

	flat, stride, err := store.FlatCoords(0)
	require.NoError(t, err)
	assert.Equal(t, 2, stride)
	assert.Equal(t, []float64{0, 0, 1, 0, 0, 1}, flat)

	_, _, err = store.FlatCoords(1)
	assert.ErrorIs(t, err, geom.ErrNotFound)
}

func TestStoreRejectsLayoutMismatch(t *testing.T) {
	store, err := inmem.NewStore(geom.XY)
	require.NoError(t, err)

	_, err = store.Add(inmem.NewPoint(geom.XYM, geom.Coordinate{X: 1, Y: 2, M: 3}), nil)
	assert.Error(t, err)
}

func TestGeometryValidate(t *testing.T) {
	t.Run("single coordinate line string", func(t *testing.T) {
		_, err := inmem.NewLineString(geom.XY, []geom.Coordinate{{X: 1, Y: 1}})
		assert.Error(t, err)
	})

	t.Run("unclosed ring", func(t *testing.T) {
		_, err := inmem.NewPolygon(geom.XY, [][]geom.Coordinate{
			{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}},
		})
		assert.Error(t, err)
	})

	t.Run("short ring", func(t *testing.T) {
		_, err := inmem.NewPolygon(geom.XY, [][]geom.Coordinate{
			{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 0}},
		})
		assert.Error(t, err)
	})

	t.Run("bad ends", func(t *testing.T) {
		g := inmem.Geometry{Type: geom.LINESTRING, Layout: geom.XY, Flat: []float64{0, 0, 1, 1}, Ends: []int{3}}
		assert.Error(t, g.Validate())
	})

	t.Run("stride mismatch", func(t *testing.T) {
		g := inmem.Geometry{Type: geom.LINESTRING, Layout: geom.XYZ, Flat: []float64{0, 0, 1, 1}, Ends: []int{1}}
		assert.Error(t, g.Validate())
	})

	t.Run("empty parts are dropped", func(t *testing.T) {
		g, err := inmem.NewMultiLineString(geom.XY, [][]geom.Coordinate{
			{},
			{{X: 0, Y: 0}, {X: 1, Y: 0}},
		})
		require.NoError(t, err)
		assert.Equal(t, []int{2}, g.Ends)
	})
}

func TestDirectMeasures(t *testing.T) {
	square, err := inmem.NewGeometry(geom.POLYGON, geom.XY, geomtest.Square().Parts())
	require.NoError(t, err)
	assert.Equal(t, 15.0, square.Area())
	assert.Equal(t, 15.0, square.SignedArea())
	assert.Equal(t, 20.0, square.Length())
	assert.Equal(t, geom.Bounds{MinX: 0, MinY: 0, MaxX: 4, MaxY: 4}, square.Bounds())

	cw, err := inmem.NewPolygon(geom.XY, [][]geom.Coordinate{
		{{X: 0, Y: 0}, {X: 0, Y: 2}, {X: 2, Y: 2}, {X: 2, Y: 0}, {X: 0, Y: 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, -4.0, cw.SignedArea())
	assert.Equal(t, 4.0, cw.Area())

	line, err := inmem.NewLineString(geom.XY, []geom.Coordinate{{X: 0, Y: 0}, {X: 3, Y: 4}})
	require.NoError(t, err)
	assert.Equal(t, 5.0, line.Length())
	assert.Equal(t, 0.0, line.Area())

	empty := inmem.NewEmpty(geom.LINESTRING, geom.XY)
	assert.True(t, empty.Bounds().IsEmpty())
	assert.Equal(t, 0.0, empty.Length())
}

func TestFromDataset(t *testing.T) {
	src := newFixtureStore(t, geomtest.Fixtures())

	copied, err := inmem.FromDataset(src)
	require.NoError(t, err)
	geomtest.Run(t, copied, geomtest.Fixtures(), true)
}

func TestFromGeoJSON(t *testing.T) {
	data, err := os.ReadFile("testdata/features.geojson")
	require.NoError(t, err)

	store, err := inmem.FromGeoJSON(data)
	require.NoError(t, err)

	assert.Equal(t, geom.XY, store.Layout())
	require.Equal(t, 5, store.NumGeometries())

	types := []geom.GeometryType{geom.POINT, geom.LINESTRING, geom.POLYGON, geom.MULTIPOINT, geom.MULTILINESTRING}
	for i, want := range types {
		typ, err := store.TypeOf(geom.GeometryID(i))
		require.NoError(t, err)
		assert.Equal(t, want, typ)
	}

	c, err := store.CoordinateAt(1, 2)
	require.NoError(t, err)
	assert.Equal(t, geom.Coordinate{X: 0, Y: 1}, c)

	parts, err := store.NumParts(2)
	require.NoError(t, err)
	assert.Equal(t, 2, parts)

	assert.Equal(t, "01001", store.Properties(0)["ROUTEID"])
	assert.Nil(t, store.Properties(42))
}

func TestFromGeoJSONComposites(t *testing.T) {
	store, err := inmem.FromGeoJSON([]byte(`{"type": "FeatureCollection", "features": [
		{"type": "Feature", "geometry": {"type": "MultiPolygon", "coordinates": [
			[[[10, 10], [13, 10], [13, 13], [10, 13], [10, 10]], [[11, 11], [11, 12], [12, 12], [12, 11], [11, 11]]],
			[[[0, 0], [2, 0], [2, 2], [0, 2], [0, 0]]]
		]}},
		{"type": "Feature", "geometry": {"type": "GeometryCollection", "geometries": [
			{"type": "Point", "coordinates": [5, 5]},
			{"type": "LineString", "coordinates": [[0, 0], [3, 4]]},
			{"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 1], [0, 0]]]}
		]}}
	]}`))
	require.NoError(t, err)
	geomtest.Run(t, store, geomtest.Composites(), true)

	_, err = inmem.FromGeoJSON([]byte(`{"type": "FeatureCollection", "features": [
		{"type": "Feature", "geometry": {"type": "GeometryCollection", "geometries": [
			{"type": "GeometryCollection", "geometries": []}
		]}}
	]}`))
	assert.ErrorContains(t, err, "nested")

	_, err = inmem.FromGeoJSON([]byte(`{"type": "FeatureCollection", "features": [
		{"type": "Feature", "geometry": {"type": "MultiPolygon", "coordinates": [[[[0, 0], [1, 0], [1, 1]]]]}}
	]}`))
	assert.Error(t, err)
}

func TestFromGeoJSONErrors(t *testing.T) {
	_, err := inmem.FromGeoJSON([]byte(`{"type": "Feature"}`))
	assert.Error(t, err)

	_, err = inmem.FromGeoJSON([]byte(`{"type": "FeatureCollection", "features": [
		{"type": "Feature", "geometry": {"type": "Circle", "coordinates": [0, 0]}}
	]}`))
	assert.Error(t, err)

	_, err = inmem.FromGeoJSON([]byte(`{"type": "FeatureCollection", "features": [
		{"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[0, 0]]}}
	]}`))
	assert.Error(t, err)

	_, err = inmem.FromGeoJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestFromGeoJSONWithElevation(t *testing.T) {
	store, err := inmem.FromGeoJSON([]byte(`{"type": "FeatureCollection", "features": [
		{"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[0, 0, 10], [1, 1, 12]]}}
	]}`))
	require.NoError(t, err)
	assert.Equal(t, geom.XYZ, store.Layout())

	c, err := store.CoordinateAt(0, 1)
	require.NoError(t, err)
	assert.Equal(t, geom.Coordinate{X: 1, Y: 1, Z: 12}, c)
}
