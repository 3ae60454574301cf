package duck_test

import (
	"context"
	"geo-access/pkg/algorithm"
	"geo-access/pkg/duck"
	"geo-access/pkg/geom"
	"geo-access/pkg/geom/geomtest"
	"geo-access/pkg/inmem"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixtureStore(t *testing.T) *inmem.Store {
	t.Helper()

	store, err := inmem.NewStore(geom.XY)
	require.NoError(t, err)
	for _, f := range geomtest.Fixtures() {
		g, err := inmem.NewGeometry(f.Type, geom.XY, f.Parts())
		require.NoError(t, err)
		_, err = store.Add(g, nil)
		require.NoError(t, err)
	}
	return store
}

func TestStoreConformance(t *testing.T) {
	ctx := context.Background()

	db, err := duck.Open(ctx, "")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Load(ctx, newFixtureStore(t)))
	assert.Equal(t, geom.XY, db.Layout())

	geomtest.Run(t, db, geomtest.Fixtures(), true)
	geomtest.RunConcurrent(t, db, geomtest.Fixtures(), true)
}

func TestStoreNotLoaded(t *testing.T) {
	db, err := duck.Open(context.Background(), "")
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 0, db.NumGeometries())
	_, err = db.Len(0)
	assert.ErrorIs(t, err, geom.ErrUnavailable)
	assert.ErrorIs(t, err, duck.ErrNotLoaded)
}

func TestStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "geoms.duckdb")

	db, err := duck.Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, db.Load(ctx, newFixtureStore(t)))
	require.NoError(t, db.Close())

	reopened, err := duck.Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	geomtest.Run(t, reopened, geomtest.Fixtures(), true)
}

func TestStoreMeasured(t *testing.T) {
	ctx := context.Background()

	line, err := inmem.NewLineString(geom.XYM, []geom.Coordinate{
		{X: 0, Y: 0, M: 0},
		{X: 3, Y: 4, M: 5},
	})
	require.NoError(t, err)
	store, err := inmem.NewStore(geom.XYM, line)
	require.NoError(t, err)

	db, err := duck.Open(ctx, "")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Load(ctx, store))

	assert.Equal(t, geom.XYM, db.Layout())

	length, err := algorithm.Length(db, 0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, length)

	loc, err := algorithm.LocateM(db, 0, geom.Coordinate{X: 3, Y: 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.8, loc.M, 1e-9)
	assert.InDelta(t, 2.4, loc.Distance, 1e-9)
}

func TestStoreLoadReplaces(t *testing.T) {
	ctx := context.Background()

	db, err := duck.Open(ctx, "")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Load(ctx, newFixtureStore(t)))
	require.Equal(t, 4, db.NumGeometries())

	line, err := inmem.NewLineString(geom.XY, []geom.Coordinate{{X: 1, Y: 1}, {X: 2, Y: 2}})
	require.NoError(t, err)
	store, err := inmem.NewStore(geom.XY, line)
	require.NoError(t, err)
	require.NoError(t, db.Load(ctx, store))

	assert.Equal(t, 1, db.NumGeometries())
	c, err := geom.Last(db, 0)
	require.NoError(t, err)
	assert.Equal(t, geom.Coordinate{X: 2, Y: 2}, c)
}

func TestStoreLoadRollsBack(t *testing.T) {
	ctx := context.Background()

	db, err := duck.Open(ctx, "")
	require.NoError(t, err)
	defer db.Close()

	// a view cannot be replaced by the vertices table
	_, err = db.DB().ExecContext(ctx, `create view vertices as select 1 as geom_id`)
	require.NoError(t, err)

	err = db.Load(ctx, newFixtureStore(t))
	require.Error(t, err)

	var tables int
	err = db.DB().QueryRowContext(ctx,
		`select count(*) from information_schema.tables where table_name = 'geometries'`,
	).Scan(&tables)
	require.NoError(t, err)
	assert.Equal(t, 0, tables, "geometries table is rolled back")

	_, err = db.Len(0)
	assert.ErrorIs(t, err, duck.ErrNotLoaded)
}

func TestStoreLoadRejectsComposite(t *testing.T) {
	ctx := context.Background()

	db, err := duck.Open(ctx, "")
	require.NoError(t, err)
	defer db.Close()

	f := geomtest.Islands()
	g, err := inmem.NewComposite(f.Type, geom.XY, f.Parts(), f.Members)
	require.NoError(t, err)
	store, err := inmem.NewStore(geom.XY, g)
	require.NoError(t, err)

	err = db.Load(ctx, store)
	assert.ErrorIs(t, err, duck.ErrUnsupportedType)
}
