package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"geo-access/pkg/catalog"
	"geo-access/pkg/columnar"
	"geo-access/pkg/duck"
	"geo-access/pkg/flatbuf"
	"geo-access/pkg/geom"
	"geo-access/pkg/geom/geomtest"
	"geo-access/pkg/inmem"
	"geo-access/pkg/route"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, fixtures []geomtest.Fixture) *inmem.Store {
	t.Helper()

	store, err := inmem.NewStore(geom.XY)
	require.NoError(t, err)
	for _, f := range fixtures {
		g, err := inmem.NewGeometry(f.Type, geom.XY, f.Parts())
		require.NoError(t, err)
		_, err = store.Add(g, nil)
		require.NoError(t, err)
	}
	return store
}

func absPath(t *testing.T, rel string) string {
	t.Helper()

	p, err := filepath.Abs(rel)
	require.NoError(t, err)
	return p
}

// writeDatasets writes one file per binary format into dir.
func writeDatasets(t *testing.T, dir string) {
	t.Helper()
	ctx := context.Background()

	data, err := os.ReadFile("../route/testdata/lrs_routes.json")
	require.NoError(t, err)
	routes, err := route.NewRoutesFromESRIJSON(data, "")
	require.NoError(t, err)
	defer routes.Release()
	_, err = routes.Sink(dir)
	require.NoError(t, err)

	fixtures := newStore(t, geomtest.Fixtures())

	f, err := os.Create(filepath.Join(dir, "fixtures.gacf"))
	require.NoError(t, err)
	require.NoError(t, flatbuf.Write(f, fixtures, flatbuf.WithIndex(false)))
	require.NoError(t, f.Close())

	col, err := columnar.FromDataset(newStore(t, []geomtest.Fixture{geomtest.Triangle()}), memory.DefaultAllocator)
	require.NoError(t, err)
	defer col.Release()
	pf, err := os.Create(filepath.Join(dir, "lines.parquet"))
	require.NoError(t, err)
	require.NoError(t, columnar.WriteParquet(pf, col))
	require.NoError(t, pf.Close())

	db, err := duck.Open(ctx, filepath.Join(dir, "fixtures.duckdb"))
	require.NoError(t, err)
	require.NoError(t, db.Load(ctx, fixtures))
	require.NoError(t, db.Close())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	writeDatasets(t, dir)

	cfg := fmt.Sprintf(`datasets:
  - name: features
    format: geojson
    path: %s
    index: true
  - name: routes_esri
    format: esri
    path: %s
    column: LINKID
  - name: routes
    format: routes
    path: routes.parquet
  - name: events
    format: events
    path: %s
    crs: EPSG:4326
  - name: lines
    format: parquet
    path: lines.parquet
  - name: fixtures
    format: flatbuf
    path: fixtures.gacf
    scan_index: true
  - name: fixtures_db
    format: duckdb
    path: fixtures.duckdb
`,
		absPath(t, "../inmem/testdata/features.geojson"),
		absPath(t, "../route/testdata/lrs_routes.json"),
		absPath(t, "../route_event/testdata/events.geojson"),
	)
	cfgPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	c, err := catalog.LoadFile(context.Background(), cfgPath)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, []string{"events", "features", "fixtures", "fixtures_db", "lines", "routes", "routes_esri"}, c.Names())

	features, err := c.Get("features")
	require.NoError(t, err)
	assert.Equal(t, catalog.FormatGeoJSON, features.Format)
	assert.Equal(t, 5, features.Dataset.NumGeometries())
	require.NotNil(t, features.Index)
	hits, err := features.Index.Search(geom.Bounds{MinX: 10, MinY: 10, MaxX: 11, MaxY: 11})
	require.NoError(t, err)
	assert.Equal(t, []geom.GeometryID{3}, hits)

	for _, name := range []string{"routes", "routes_esri"} {
		e, err := c.Get(name)
		require.NoError(t, err)
		assert.Equal(t, 2, e.Dataset.NumGeometries(), name)
		assert.Equal(t, geom.XYM, e.Dataset.Layout(), name)
		assert.Nil(t, e.Index)
	}

	events, err := c.Get("events")
	require.NoError(t, err)
	assert.Equal(t, 3, events.Dataset.NumGeometries())

	lines, err := c.Get("lines")
	require.NoError(t, err)
	geomtest.Run(t, lines.Dataset, []geomtest.Fixture{geomtest.Triangle()}, true)

	for _, name := range []string{"fixtures", "fixtures_db"} {
		e, err := c.Get(name)
		require.NoError(t, err)
		geomtest.Run(t, e.Dataset, geomtest.Fixtures(), true)
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	_, err := catalog.LoadFile(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = catalog.LoadFile(context.Background(), write("bad.yaml", "datasets: [\n"))
	assert.Error(t, err)

	_, err = catalog.LoadFile(context.Background(), write("format.yaml", "datasets:\n  - name: x\n    format: shapefile\n    path: x.shp\n"))
	assert.ErrorIs(t, err, catalog.ErrUnknownFormat)

	_, err = catalog.LoadFile(context.Background(), write("nofile.yaml", "datasets:\n  - name: x\n    format: geojson\n    path: nowhere.geojson\n"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRegister(t *testing.T) {
	c := catalog.New()
	store := newStore(t, geomtest.Fixtures())

	closed := 0
	closer := func() error {
		closed++
		return nil
	}

	require.NoError(t, c.Register("a", "memory", store, catalog.WithCloser(closer), catalog.WithIndex()))

	err := c.Register("a", "memory", store, catalog.WithCloser(closer))
	assert.ErrorIs(t, err, catalog.ErrDuplicateDataset)
	assert.Equal(t, 1, closed, "rejected dataset is released")

	_, err = c.Get("b")
	assert.ErrorIs(t, err, catalog.ErrUnknownDataset)

	e, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 3, e.Index.Len())

	require.NoError(t, c.Close())
	assert.Equal(t, 2, closed)
	assert.Empty(t, c.Names())
}

func TestCloseJoinsErrors(t *testing.T) {
	c := catalog.New()
	store := newStore(t, nil)

	boom := errors.New("boom")
	require.NoError(t, c.Register("a", "memory", store, catalog.WithCloser(func() error { return boom })))

	assert.ErrorIs(t, c.Close(), boom)
}
