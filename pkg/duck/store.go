// Package duck serves geometries held by a DuckDB database. Geometries are
// ingested through Arrow views into two tables:
//
//	geometries(geom_id BIGINT, geom_type VARCHAR, layout VARCHAR)
//	vertices(geom_id BIGINT, part INTEGER, idx INTEGER, x, y, z, m DOUBLE)
//
// where idx is the coordinate index inside the geometry. Types and part ends
// are cached when the store is loaded; coordinates are copied out of the
// database on every access.
package duck

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"geo-access/pkg/geom"
	"iter"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/duckdb/duckdb-go/v2"
)

var (
	ErrNotLoaded       = errors.New("duck: store has no geometries loaded")
	ErrUnsupportedType = errors.New("duck: unsupported geometry type")
)

type Store struct {
	connector *duckdb.Connector
	db        *sql.DB

	layout geom.Layout
	types  []geom.GeometryType
	ends   [][]int
	loaded bool
}

// Open connects to the DuckDB database at dsn, in memory when dsn is empty.
// An existing database written by Load is served right away.
func Open(ctx context.Context, dsn string) (*Store, error) {
	c, err := duckdb.NewConnector(dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create duckdb connector: %w", err)
	}

	s := &Store{
		connector: c,
		db:        sql.OpenDB(c),
	}

	if err := s.db.PingContext(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to duckdb: %w", err)
	}

	var tables int
	err = s.db.QueryRowContext(ctx,
		`select count(*) from information_schema.tables where table_name in ('geometries', 'vertices')`,
	).Scan(&tables)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to inspect duckdb tables: %w", err)
	}
	if tables == 2 {
		if err := s.refresh(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

// DB returns the database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close the database and connector
func (s *Store) Close() error {
	dbErr := s.db.Close()
	connErr := s.connector.Close()
	return errors.Join(dbErr, connErr)
}

// Load replaces the stored geometries with a copy of ds. Both tables are
// replaced in one transaction, so a failed load keeps the previous content.
func (s *Store) Load(ctx context.Context, ds geom.Dataset) error {
	pool := memory.NewGoAllocator()

	geomRec, vertexRec, err := datasetRecords(pool, ds)
	if err != nil {
		return err
	}
	defer geomRec.Release()
	defer vertexRec.Release()

	conn, err := s.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to duckdb: %w", err)
	}
	defer conn.Close()

	beginner, ok := conn.(driver.ConnBeginTx)
	if !ok {
		return fmt.Errorf("duckdb connection does not support transactions")
	}
	tx, err := beginner.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := createTables(ctx, conn, geomRec, vertexRec); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tables: %w", err)
	}

	return s.refresh(ctx)
}

// createTables replaces both tables with the records, through Arrow views
// registered on conn.
func createTables(ctx context.Context, conn driver.Conn, geomRec, vertexRec arrow.RecordBatch) error {
	ar, err := duckdb.NewArrowFromConn(conn)
	if err != nil {
		return fmt.Errorf("failed to create arrow from duckdb: %w", err)
	}

	views := []struct {
		rec   arrow.RecordBatch
		view  string
		table string
	}{
		{geomRec, "geometries_view", "geometries"},
		{vertexRec, "vertices_view", "vertices"},
	}

	for _, v := range views {
		reader, err := array.NewRecordReader(v.rec.Schema(), []arrow.RecordBatch{v.rec})
		if err != nil {
			return fmt.Errorf("failed to create %s record reader: %w", v.table, err)
		}

		release, err := ar.RegisterView(reader, v.view)
		if err != nil {
			reader.Release()
			return fmt.Errorf("failed to register %s view: %w", v.table, err)
		}

		out, err := ar.QueryContext(ctx, fmt.Sprintf("create or replace table %s as select * from %s", v.table, v.view))
		release()
		reader.Release()
		if err != nil {
			return fmt.Errorf("failed to create %s table: %w", v.table, err)
		}
		out.Release()
	}

	return nil
}

// datasetRecords builds the geometry and vertex tables of ds.
func datasetRecords(pool memory.Allocator, ds geom.Dataset) (arrow.RecordBatch, arrow.RecordBatch, error) {
	geomSchema := arrow.NewSchema([]arrow.Field{
		{Name: "geom_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "geom_type", Type: arrow.BinaryTypes.String},
		{Name: "layout", Type: arrow.BinaryTypes.String},
	}, nil)
	vertexSchema := arrow.NewSchema([]arrow.Field{
		{Name: "geom_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "part", Type: arrow.PrimitiveTypes.Int32},
		{Name: "idx", Type: arrow.PrimitiveTypes.Int32},
		{Name: "x", Type: arrow.PrimitiveTypes.Float64},
		{Name: "y", Type: arrow.PrimitiveTypes.Float64},
		{Name: "z", Type: arrow.PrimitiveTypes.Float64},
		{Name: "m", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	gb := array.NewRecordBuilder(pool, geomSchema)
	defer gb.Release()
	vb := array.NewRecordBuilder(pool, vertexSchema)
	defer vb.Release()

	layout := ds.Layout().String()
	for i := range ds.NumGeometries() {
		id := geom.GeometryID(i)

		typ, err := ds.TypeOf(id)
		if err != nil {
			return nil, nil, err
		}
		if typ.Composite() {
			return nil, nil, fmt.Errorf("%w: geometry %d is a %s", ErrUnsupportedType, i, typ)
		}
		parts, err := geom.Parts(ds, id)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read geometry %d: %w", i, err)
		}

		gb.Field(0).(*array.Int64Builder).Append(int64(i))
		gb.Field(1).(*array.StringBuilder).Append(string(typ))
		gb.Field(2).(*array.StringBuilder).Append(layout)

		idx := 0
		for p, part := range parts {
			for _, c := range part {
				vb.Field(0).(*array.Int64Builder).Append(int64(i))
				vb.Field(1).(*array.Int32Builder).Append(int32(p))
				vb.Field(2).(*array.Int32Builder).Append(int32(idx))
				vb.Field(3).(*array.Float64Builder).Append(c.X)
				vb.Field(4).(*array.Float64Builder).Append(c.Y)
				vb.Field(5).(*array.Float64Builder).Append(c.Z)
				vb.Field(6).(*array.Float64Builder).Append(c.M)
				idx++
			}
		}
	}

	return gb.NewRecordBatch(), vb.NewRecordBatch(), nil
}

// refresh caches types and part ends from the tables.
func (s *Store) refresh(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `select geom_id, geom_type, layout from geometries order by geom_id`)
	if err != nil {
		return fmt.Errorf("failed to query geometries: %w", err)
	}
	defer rows.Close()

	var types []geom.GeometryType
	layout := geom.XY
	for rows.Next() {
		var id int64
		var typ, layoutName string
		if err := rows.Scan(&id, &typ, &layoutName); err != nil {
			return fmt.Errorf("failed to scan geometry row: %w", err)
		}
		if id != int64(len(types)) {
			return fmt.Errorf("geometry ids are not contiguous at %d", id)
		}
		if t := geom.GeometryType(typ); !t.Valid() || t.Composite() {
			return fmt.Errorf("geometry %d has unsupported type %q", id, typ)
		}
		if layout, err = geom.ParseLayout(layoutName); err != nil {
			return fmt.Errorf("geometry %d: %w", id, err)
		}
		types = append(types, geom.GeometryType(typ))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read geometries: %w", err)
	}

	partRows, err := s.db.QueryContext(ctx,
		`select geom_id, part, count(*) from vertices group by geom_id, part order by geom_id, part`)
	if err != nil {
		return fmt.Errorf("failed to query vertices: %w", err)
	}
	defer partRows.Close()

	ends := make([][]int, len(types))
	for partRows.Next() {
		var id, n int64
		var part int32
		if err := partRows.Scan(&id, &part, &n); err != nil {
			return fmt.Errorf("failed to scan part row: %w", err)
		}
		if id < 0 || id >= int64(len(types)) {
			return fmt.Errorf("vertex of unknown geometry %d", id)
		}
		prev := 0
		if k := len(ends[id]); k > 0 {
			prev = ends[id][k-1]
		}
		ends[id] = append(ends[id], prev+int(n))
	}
	if err := partRows.Err(); err != nil {
		return fmt.Errorf("failed to read vertices: %w", err)
	}

	s.layout = layout
	s.types = types
	s.ends = ends
	s.loaded = true
	return nil
}

func (s *Store) check(op string, id geom.GeometryID) error {
	if !s.loaded {
		return geom.Unavailable(op, id, ErrNotLoaded)
	}
	return geom.CheckID(op, id, len(s.types))
}

func (s *Store) length(id geom.GeometryID) int {
	if ends := s.ends[id]; len(ends) > 0 {
		return ends[len(ends)-1]
	}
	return 0
}

func (s *Store) NumGeometries() int {
	return len(s.types)
}

func (s *Store) Layout() geom.Layout {
	return s.layout
}

func (s *Store) TypeOf(id geom.GeometryID) (geom.GeometryType, error) {
	if err := s.check("TypeOf", id); err != nil {
		return "", err
	}
	return s.types[id], nil
}

func (s *Store) Len(id geom.GeometryID) (int, error) {
	if err := s.check("Len", id); err != nil {
		return 0, err
	}
	return s.length(id), nil
}

func (s *Store) CoordinateAt(id geom.GeometryID, index int) (geom.Coordinate, error) {
	if err := s.check("CoordinateAt", id); err != nil {
		return geom.Coordinate{}, err
	}
	if err := geom.CheckIndex("CoordinateAt", id, index, s.length(id)); err != nil {
		return geom.Coordinate{}, err
	}

	var c geom.Coordinate
	err := s.db.QueryRowContext(context.Background(),
		`select x, y, z, m from vertices where geom_id = ? and idx = ?`, int64(id), int32(index),
	).Scan(&c.X, &c.Y, &c.Z, &c.M)
	if err != nil {
		return geom.Coordinate{}, geom.Unavailable("CoordinateAt", id, err)
	}
	return c, nil
}

func (s *Store) Coordinates(id geom.GeometryID) (iter.Seq[geom.Coordinate], error) {
	if err := s.check("Coordinates", id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(context.Background(),
		`select x, y, z, m from vertices where geom_id = ? order by idx`, int64(id))
	if err != nil {
		return nil, geom.Unavailable("Coordinates", id, err)
	}
	defer rows.Close()

	coords := make([]geom.Coordinate, 0, s.length(id))
	for rows.Next() {
		var c geom.Coordinate
		if err := rows.Scan(&c.X, &c.Y, &c.Z, &c.M); err != nil {
			return nil, geom.Unavailable("Coordinates", id, err)
		}
		coords = append(coords, c)
	}
	if err := rows.Err(); err != nil {
		return nil, geom.Unavailable("Coordinates", id, err)
	}

	return func(yield func(geom.Coordinate) bool) {
		for _, c := range coords {
			if !yield(c) {
				return
			}
		}
	}, nil
}

func (s *Store) NumParts(id geom.GeometryID) (int, error) {
	if err := s.check("NumParts", id); err != nil {
		return 0, err
	}
	return len(s.ends[id]), nil
}

func (s *Store) PartRange(id geom.GeometryID, part int) (int, int, error) {
	if err := s.check("PartRange", id); err != nil {
		return 0, 0, err
	}
	return geom.PartRangeFromEnds("PartRange", id, s.ends[id], part)
}
