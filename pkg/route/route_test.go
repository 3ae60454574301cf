package route_test

import (
	"context"
	"geo-access/pkg/algorithm"
	"geo-access/pkg/geom"
	"geo-access/pkg/geom/geomtest"
	"geo-access/pkg/route"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vertexRow struct {
	routeID string
	lat     float64
	lon     float64
	mval    float64
	seq     int32
}

func newVertexRecord(t *testing.T, withM bool, rows []vertexRow) arrow.RecordBatch {
	t.Helper()

	fields := []arrow.Field{
		{Name: "ROUTEID", Type: arrow.BinaryTypes.String},
		{Name: "LAT", Type: arrow.PrimitiveTypes.Float64},
		{Name: "LON", Type: arrow.PrimitiveTypes.Float64},
		{Name: "VERTEX_SEQ", Type: arrow.PrimitiveTypes.Int32},
	}
	if withM {
		fields = append(fields, arrow.Field{Name: "MVAL", Type: arrow.PrimitiveTypes.Float64})
	}

	rb := array.NewRecordBuilder(memory.NewGoAllocator(), arrow.NewSchema(fields, nil))
	defer rb.Release()

	for _, r := range rows {
		rb.Field(0).(*array.StringBuilder).Append(r.routeID)
		rb.Field(1).(*array.Float64Builder).Append(r.lat)
		rb.Field(2).(*array.Float64Builder).Append(r.lon)
		rb.Field(3).(*array.Int32Builder).Append(r.seq)
		if withM {
			rb.Field(4).(*array.Float64Builder).Append(r.mval)
		}
	}

	return rb.NewRecordBatch()
}

// Two routes spread over two records, rows out of vertex order.
func newTestRoutes(t *testing.T, withM bool) *route.Routes {
	t.Helper()

	rec1 := newVertexRecord(t, withM, []vertexRow{
		{routeID: "A", lat: 0, lon: 1, mval: 1, seq: 1},
		{routeID: "B", lat: 0, lon: 0, mval: 0, seq: 0},
		{routeID: "A", lat: 0, lon: 0, mval: 0, seq: 0},
	})
	defer rec1.Release()
	rec2 := newVertexRecord(t, withM, []vertexRow{
		{routeID: "B", lat: 4, lon: 3, mval: 5, seq: 1},
		{routeID: "A", lat: 1, lon: 0, mval: 2, seq: 2},
	})
	defer rec2.Release()

	routes, err := route.NewRoutes([]arrow.RecordBatch{rec1, rec2})
	require.NoError(t, err)
	return routes
}

func TestRoutesConformance(t *testing.T) {
	routes := newTestRoutes(t, false)
	defer routes.Release()

	assert.Equal(t, geom.XY, routes.Layout())

	geomtest.Run(t, routes, []geomtest.Fixture{
		geomtest.Triangle(),
		{Name: "route B", Type: geom.LINESTRING, Coords: []geom.Coordinate{{X: 0, Y: 0}, {X: 3, Y: 4}}},
	}, true)
}

func TestRoutesLookup(t *testing.T) {
	routes := newTestRoutes(t, true)
	defer routes.Release()

	id, ok := routes.Lookup("B")
	require.True(t, ok)
	assert.Equal(t, geom.GeometryID(1), id)

	routeID, err := routes.RouteID(0)
	require.NoError(t, err)
	assert.Equal(t, "A", routeID)

	_, ok = routes.Lookup("C")
	assert.False(t, ok)

	_, err = routes.RouteID(2)
	assert.ErrorIs(t, err, geom.ErrNotFound)
}

func TestRoutesMeasured(t *testing.T) {
	routes := newTestRoutes(t, true)
	defer routes.Release()

	assert.Equal(t, geom.XYM, routes.Layout())

	last, err := geom.Last(routes, 0)
	require.NoError(t, err)
	assert.Equal(t, geom.Coordinate{X: 0, Y: 1, M: 2}, last)

	loc, err := algorithm.LocateM(routes, 1, geom.Coordinate{X: 3, Y: 0})
	require.NoError(t, err)
	// projection of (3, 0) on (0,0)-(3,4) is at t = 0.36
	assert.InDelta(t, 1.8, loc.M, 1e-12)
	assert.InDelta(t, 2.4, loc.Distance, 1e-12)
}

func TestRoutesErrors(t *testing.T) {
	t.Run("empty records", func(t *testing.T) {
		_, err := route.NewRoutes(nil)
		assert.Error(t, err)
	})

	t.Run("single vertex route", func(t *testing.T) {
		rec := newVertexRecord(t, false, []vertexRow{{routeID: "A", seq: 0}})
		defer rec.Release()

		_, err := route.NewRoutes([]arrow.RecordBatch{rec})
		assert.Error(t, err)
	})

	t.Run("M column in some records only", func(t *testing.T) {
		withM := newVertexRecord(t, true, []vertexRow{{routeID: "A", seq: 0}, {routeID: "A", seq: 1}})
		defer withM.Release()
		withoutM := newVertexRecord(t, false, []vertexRow{{routeID: "B", seq: 0}, {routeID: "B", seq: 1}})
		defer withoutM.Release()

		_, err := route.NewRoutes([]arrow.RecordBatch{withM, withoutM})
		assert.ErrorContains(t, err, "MVAL")
		_, err = route.NewRoutes([]arrow.RecordBatch{withoutM, withM})
		assert.ErrorContains(t, err, "MVAL")
	})

	t.Run("missing column", func(t *testing.T) {
		rec := newVertexRecord(t, false, []vertexRow{{routeID: "A", seq: 0}, {routeID: "A", seq: 1}})
		defer rec.Release()

		cols := route.DefaultColumns()
		cols.Lat = "LATITUDE"
		_, err := route.NewRoutes([]arrow.RecordBatch{rec}, route.WithColumns(cols))
		assert.Error(t, err)
	})
}

func TestNewRoutesFromESRIJSON(t *testing.T) {
	jsonByte, err := os.ReadFile("testdata/lrs_routes.json")
	require.NoError(t, err)

	routes, err := route.NewRoutesFromESRIJSON(jsonByte, "")
	require.NoError(t, err)
	defer routes.Release()

	require.Equal(t, 2, routes.NumGeometries())
	assert.Equal(t, geom.XYM, routes.Layout())
	assert.Contains(t, routes.GetCRS(), "GCS_WGS_1984")

	id, ok := routes.Lookup("01002")
	require.True(t, ok)

	// both paths are joined
	n, err := routes.Len(id)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	c, err := routes.CoordinateAt(id, 2)
	require.NoError(t, err)
	assert.Equal(t, geom.Coordinate{X: 96.002, Y: 4.0, M: 0.222}, c)

	length, err := algorithm.HaversineLength(routes, 0)
	require.NoError(t, err)
	assert.Greater(t, length, 200.0)

	_, err = route.NewRoutesFromESRIJSON([]byte(`{"features": []}`), "")
	assert.Error(t, err)

	_, err = route.NewRoutesFromESRIJSON(jsonByte, "ROUTE_NO")
	assert.Error(t, err)
}

func TestNewRoutesFromESRIJSONSharedRouteID(t *testing.T) {
	jsonByte := []byte(`{"features": [
		{"attributes": {"LINKID": "A"}, "geometry": {"paths": [[[0, 0], [1, 0], [2, 0]]]}},
		{"attributes": {"LINKID": "B"}, "geometry": {"paths": [[[5, 5], [6, 6]]]}},
		{"attributes": {"LINKID": "A"}, "geometry": {"paths": [[[10, 0], [11, 0], [12, 0]]]}}
	]}`)
	routes, err := route.NewRoutesFromESRIJSON(jsonByte, "")
	require.NoError(t, err)
	defer routes.Release()

	require.Equal(t, 2, routes.NumGeometries())
	coords, err := geom.Collect(routes, 0)
	require.NoError(t, err)
	assert.Equal(t, []geom.Coordinate{
		{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0},
		{X: 10, Y: 0}, {X: 11, Y: 0}, {X: 12, Y: 0},
	}, coords)
}

func TestFormatRouteID(t *testing.T) {
	assert.Equal(t, "1000000", route.FormatRouteID(1000000))
	assert.Equal(t, "1001", route.FormatRouteID(1001))
	assert.Equal(t, "12.5", route.FormatRouteID(12.5))
}

func TestSameCRS(t *testing.T) {
	jsonByte, err := os.ReadFile("testdata/lrs_routes.json")
	require.NoError(t, err)
	routes, err := route.NewRoutesFromESRIJSON(jsonByte, "")
	require.NoError(t, err)
	defer routes.Release()

	assert.True(t, route.SameCRS(routes.GetCRS(), route.WGS84))
	assert.True(t, route.SameCRS("epsg:4326", "OGC:CRS84"))
	assert.True(t, route.SameCRS("", "EPSG:32647"))
	assert.False(t, route.SameCRS("EPSG:4326", "EPSG:32647"))
	assert.False(t, route.SameCRS(routes.GetCRS(), "EPSG:3857"))

	wkid, err := route.NewRoutesFromESRIJSON([]byte(`{"spatialReference": {"wkid": 32647}, "features": [
		{"attributes": {"LINKID": "A"}, "geometry": {"paths": [[[0, 0], [1, 0]]]}}
	]}`), "")
	require.NoError(t, err)
	defer wkid.Release()
	assert.Equal(t, "EPSG:32647", wkid.GetCRS())
}

func TestSink(t *testing.T) {
	routes := newTestRoutes(t, true)
	defer routes.Release()

	t.Run("into directory", func(t *testing.T) {
		dir := t.TempDir()
		path, err := routes.Sink(dir)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "routes.parquet"), path)

		loaded, err := route.NewRoutesFromParquet(context.Background(), path, memory.NewGoAllocator())
		require.NoError(t, err)
		defer loaded.Release()

		geomtest.Run(t, loaded, []geomtest.Fixture{
			{Name: "route A", Type: geom.LINESTRING, Coords: []geom.Coordinate{{X: 0, Y: 0, M: 0}, {X: 1, Y: 0, M: 1}, {X: 0, Y: 1, M: 2}}},
			{Name: "route B", Type: geom.LINESTRING, Coords: []geom.Coordinate{{X: 0, Y: 0, M: 0}, {X: 3, Y: 4, M: 5}}},
		}, true)
	})

	t.Run("differing schemas", func(t *testing.T) {
		rec := newVertexRecord(t, false, []vertexRow{{routeID: "A", seq: 0}, {routeID: "A", lon: 1, seq: 1}})
		defer rec.Release()

		// same columns in another order
		fields := rec.Schema().Fields()
		swapped := array.NewRecordBatch(
			arrow.NewSchema([]arrow.Field{fields[1], fields[0], fields[2], fields[3]}, nil),
			[]arrow.Array{rec.Column(1), rec.Column(0), rec.Column(2), rec.Column(3)},
			rec.NumRows(),
		)
		defer swapped.Release()

		mixed, err := route.NewRoutes([]arrow.RecordBatch{rec, swapped})
		require.NoError(t, err)
		defer mixed.Release()

		_, err = mixed.Sink(t.TempDir())
		assert.ErrorContains(t, err, "schemas differ")
	})

	t.Run("temporary directory", func(t *testing.T) {
		tmp := newTestRoutes(t, false)
		path, err := tmp.Sink("")
		require.NoError(t, err)

		_, err = os.Stat(path)
		require.NoError(t, err)

		tmp.Release()
		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
}
