// Package route_event serves point events, one row per event, as a
// geom.Dataset of Points.
package route_event

import (
	"errors"
	"fmt"
	"geo-access/pkg/geom"
	"geo-access/pkg/route"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

type Option func(*LRSEvents)

// WithColumns overrides the route id, coordinate and M value column names.
func WithColumns(c route.Columns) Option {
	return func(e *LRSEvents) {
		e.routeIDCol = c.RouteID
		e.latCol = c.Lat
		e.lonCol = c.Lon
		e.mValCol = c.MValue
	}
}

// WithDistanceColumn sets the name of the distance to LRS column.
func WithDistanceColumn(col string) Option {
	return func(e *LRSEvents) {
		e.distToLRSCol = col
	}
}

// recordColumns are the coordinate columns of one record batch.
type recordColumns struct {
	lat, lon arrow.Array
	routeID  *array.String
}

// LRSEvents is a geom.Dataset where every row is a Point with X = LON and
// Y = LAT. A row with a null coordinate is an empty Point.
type LRSEvents struct {
	routeIDCol   string
	latCol       string
	lonCol       string
	mValCol      string
	distToLRSCol string
	records      []arrow.RecordBatch
	crs          string
	tempDir      string
	sourceFile   *string

	columns []recordColumns
	// offsets are the cumulative row counts of the records
	offsets []int
}

// NewLRSEvents wraps the records and takes ownership of them.
func NewLRSEvents(records []arrow.RecordBatch, crs string, opts ...Option) (*LRSEvents, error) {
	out := &LRSEvents{
		routeIDCol:   "ROUTEID",
		latCol:       "LAT",
		lonCol:       "LON",
		mValCol:      "MVAL",
		distToLRSCol: "DIST_TO_LRS",
		records:      records,
		crs:          crs,
	}
	for _, opt := range opts {
		opt(out)
	}

	if err := out.validate(); err != nil {
		return nil, err
	}

	return out, nil
}

func (e *LRSEvents) validate() error {
	e.offsets = []int{0}

	for i, rec := range e.records {
		schema := rec.Schema()
		requiredCols := []string{e.routeIDCol, e.latCol, e.lonCol}

		for _, col := range requiredCols {
			indices := schema.FieldIndices(col)
			if len(indices) == 0 {
				return fmt.Errorf("required column %s not found in records", col)
			}
		}

		cols := recordColumns{
			lat: rec.Column(schema.FieldIndices(e.latCol)[0]),
			lon: rec.Column(schema.FieldIndices(e.lonCol)[0]),
		}
		for _, arr := range []arrow.Array{cols.lat, cols.lon} {
			switch arr.(type) {
			case *array.Float64, *array.Float32, *array.Int64, *array.Int32:
			default:
				return fmt.Errorf("record %d: unsupported coordinate column type %s", i, arr.DataType())
			}
		}

		routeID, ok := rec.Column(schema.FieldIndices(e.routeIDCol)[0]).(*array.String)
		if !ok {
			return fmt.Errorf("record %d: route id column %s is not a string", i, e.routeIDCol)
		}
		cols.routeID = routeID

		e.columns = append(e.columns, cols)
		e.offsets = append(e.offsets, e.offsets[len(e.offsets)-1]+int(rec.NumRows()))
	}

	return nil
}

// locate maps a geometry id to its record and row.
func (e *LRSEvents) locate(id geom.GeometryID) (int, int) {
	rec := sort.SearchInts(e.offsets, int(id)+1) - 1
	return rec, int(id) - e.offsets[rec]
}

// point returns the coordinate of a row, false when it is null.
func (e *LRSEvents) point(id geom.GeometryID) (geom.Coordinate, bool) {
	rec, row := e.locate(id)
	cols := e.columns[rec]

	lat, err := getFloat64Value(cols.lat, row)
	if err != nil {
		return geom.Coordinate{}, false
	}
	lon, err := getFloat64Value(cols.lon, row)
	if err != nil {
		return geom.Coordinate{}, false
	}
	return geom.Coordinate{X: lon, Y: lat}, true
}

// GetCRS returns the coordinate reference system of the events
func (e *LRSEvents) GetCRS() string {
	return e.crs
}

// GetRecords returns the arrow record batches
func (e *LRSEvents) GetRecords() []arrow.RecordBatch {
	return e.records
}

// Release releases the arrow records and cleans up temporary files
func (e *LRSEvents) Release() {
	for _, rec := range e.records {
		rec.Release()
	}
	e.records = nil
	e.columns = nil
	e.offsets = []int{0}

	if e.tempDir != "" {
		os.RemoveAll(e.tempDir)
		e.tempDir = ""
	}
}

func (e *LRSEvents) NumGeometries() int {
	return e.offsets[len(e.offsets)-1]
}

func (e *LRSEvents) Layout() geom.Layout {
	return geom.XY
}

func (e *LRSEvents) TypeOf(id geom.GeometryID) (geom.GeometryType, error) {
	if err := geom.CheckID("TypeOf", id, e.NumGeometries()); err != nil {
		return "", err
	}
	return geom.POINT, nil
}

func (e *LRSEvents) Len(id geom.GeometryID) (int, error) {
	if err := geom.CheckID("Len", id, e.NumGeometries()); err != nil {
		return 0, err
	}
	if _, ok := e.point(id); !ok {
		return 0, nil
	}
	return 1, nil
}

func (e *LRSEvents) CoordinateAt(id geom.GeometryID, index int) (geom.Coordinate, error) {
	n, err := e.Len(id)
	if err != nil {
		return geom.Coordinate{}, err
	}
	if err := geom.CheckIndex("CoordinateAt", id, index, n); err != nil {
		return geom.Coordinate{}, err
	}
	c, _ := e.point(id)
	return c, nil
}

func (e *LRSEvents) Coordinates(id geom.GeometryID) (iter.Seq[geom.Coordinate], error) {
	if err := geom.CheckID("Coordinates", id, e.NumGeometries()); err != nil {
		return nil, err
	}

	return func(yield func(geom.Coordinate) bool) {
		if c, ok := e.point(id); ok {
			yield(c)
		}
	}, nil
}

func (e *LRSEvents) NumParts(id geom.GeometryID) (int, error) {
	return e.Len(id)
}

func (e *LRSEvents) PartRange(id geom.GeometryID, part int) (int, int, error) {
	n, err := e.Len(id)
	if err != nil {
		return 0, 0, err
	}
	ends := []int{}
	if n > 0 {
		ends = []int{n}
	}
	return geom.PartRangeFromEnds("PartRange", id, ends, part)
}

// RouteID returns the route id of an event, empty when it is null.
func (e *LRSEvents) RouteID(id geom.GeometryID) (string, error) {
	if err := geom.CheckID("RouteID", id, e.NumGeometries()); err != nil {
		return "", err
	}
	rec, row := e.locate(id)
	col := e.columns[rec].routeID
	if col.IsNull(row) {
		return "", nil
	}
	return col.Value(row), nil
}

// Sink the source record batch into parquet file
func (e *LRSEvents) Sink() error {
	if len(e.records) == 0 {
		return fmt.Errorf("records are empty")
	}

	// Create temporary directory
	tempDir, err := os.MkdirTemp("", "lrs_events_*")
	if err != nil {
		return fmt.Errorf("failed to create temporary directory: %w", err)
	}
	e.tempDir = tempDir

	filePath := filepath.Join(tempDir, "events.parquet")

	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	schema := e.records[0].Schema()
	writer, err := pqarrow.NewFileWriter(
		schema,
		f,
		parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.DefaultWriterProps(),
	)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create parquet writer: %w", err), f.Close())
	}

	for _, rec := range e.records {
		if err := writer.WriteBuffered(rec); err != nil {
			return errors.Join(fmt.Errorf("failed to write record batch: %w", err), writer.Close())
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}

	e.sourceFile = &filePath

	return nil
}

// GetSourceFile returns the path to the parquet file if materialized
func (e *LRSEvents) GetSourceFile() *string {
	return e.sourceFile
}

// GetRouteIDs returns all unique route IDs from the records, sorted
func (e *LRSEvents) GetRouteIDs() []string {
	routeIDs := make(map[string]struct{})
	for _, cols := range e.columns {
		for i := 0; i < cols.routeID.Len(); i++ {
			if cols.routeID.IsNull(i) {
				continue
			}
			routeIDs[cols.routeID.Value(i)] = struct{}{}
		}
	}

	out := make([]string, 0, len(routeIDs))
	for k := range routeIDs {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// RouteIDColumn returns the name of the route ID column
func (e *LRSEvents) RouteIDColumn() string {
	return e.routeIDCol
}

// LatitudeColumn returns the name of the latitude column
func (e *LRSEvents) LatitudeColumn() string {
	return e.latCol
}

// LongitudeColumn returns the name of the longitude column
func (e *LRSEvents) LongitudeColumn() string {
	return e.lonCol
}

// MValueColumn returns the name of the m-value column
func (e *LRSEvents) MValueColumn() string {
	return e.mValCol
}

// DistanceToLRSColumn returns the name of the distance to LRS column
func (e *LRSEvents) DistanceToLRSColumn() string {
	return e.distToLRSCol
}
