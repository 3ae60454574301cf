// Package route serves LRS routes stored as a vertex table: Arrow record
// batches holding one row per vertex, keyed by route id and ordered by a
// vertex sequence column. The table carries no offsets, so the rows are
// grouped and ordered once when Routes is built.
package route

import (
	"cmp"
	"fmt"
	"geo-access/pkg/geom"
	"iter"
	"os"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Columns names the vertex table columns.
type Columns struct {
	RouteID   string
	Lat       string
	Lon       string
	MValue    string
	VertexSeq string
}

func DefaultColumns() Columns {
	return Columns{
		RouteID:   "ROUTEID",
		Lat:       "LAT",
		Lon:       "LON",
		MValue:    "MVAL",
		VertexSeq: "VERTEX_SEQ",
	}
}

type Option func(*Routes)

// WithColumns overrides the default vertex table column names.
func WithColumns(c Columns) Option {
	return func(r *Routes) {
		r.cols = c
	}
}

// WithCRS sets the coordinate reference system WKT of the routes.
func WithCRS(crs string) Option {
	return func(r *Routes) {
		r.crs = crs
	}
}

// recordColumns are the value buffers of one record batch.
type recordColumns struct {
	lat, lon, mval []float64
}

type vertexRef struct {
	rec int32
	row int32
}

// Routes is a geom.Dataset over a vertex table. Each route is a LineString
// with X = LON, Y = LAT and M = MVAL. The layout is XYM when the records carry
// the M column, XY otherwise; records disagreeing on it are rejected.
type Routes struct {
	records []arrow.RecordBatch
	cols    Columns
	crs     string
	layout  geom.Layout

	values  []recordColumns
	refs    []vertexRef
	offsets []int

	routeIDs []string
	lookup   map[string]geom.GeometryID

	tempDir string
}

// NewRoutes indexes the vertex table. The records are retained until Release.
func NewRoutes(recs []arrow.RecordBatch, opts ...Option) (*Routes, error) {
	r := &Routes{
		cols:   DefaultColumns(),
		lookup: make(map[string]geom.GeometryID),
	}
	for _, opt := range opts {
		opt(r)
	}

	if len(recs) == 0 {
		return nil, fmt.Errorf("records are empty")
	}

	if err := r.scan(recs); err != nil {
		return nil, err
	}

	for _, rec := range recs {
		rec.Retain()
	}
	r.records = recs
	return r, nil
}

func float64Column(rec arrow.RecordBatch, name string) ([]float64, bool, error) {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, false, nil
	}
	col, ok := rec.Column(indices[0]).(*array.Float64)
	if !ok {
		return nil, true, fmt.Errorf("column %s is %s, want float64", name, rec.Column(indices[0]).DataType())
	}
	return col.Float64Values(), true, nil
}

func seqColumn(rec arrow.RecordBatch, name string) (func(row int) int64, error) {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, fmt.Errorf("missing vertex sequence column %s", name)
	}

	switch col := rec.Column(indices[0]).(type) {
	case *array.Int32:
		return func(row int) int64 { return int64(col.Value(row)) }, nil
	case *array.Int64:
		return col.Value, nil
	}
	return nil, fmt.Errorf("column %s is %s, want int32 or int64", name, rec.Column(indices[0]).DataType())
}

func routeIDColumn(rec arrow.RecordBatch, name string) (*array.String, error) {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, fmt.Errorf("missing route id column %s", name)
	}
	col, ok := rec.Column(indices[0]).(*array.String)
	if !ok {
		return nil, fmt.Errorf("column %s is %s, want string", name, rec.Column(indices[0]).DataType())
	}
	return col, nil
}

// scan groups the rows by route, in order of first appearance, and sorts every
// route by its vertex sequence.
func (r *Routes) scan(recs []arrow.RecordBatch) error {
	type vertex struct {
		ref vertexRef
		seq int64
	}

	var hasM bool
	groups := make([][]vertex, 0)

	for i, rec := range recs {
		lat, ok, err := float64Column(rec, r.cols.Lat)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("missing latitude column %s", r.cols.Lat)
		}
		lon, ok, err := float64Column(rec, r.cols.Lon)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("missing longitude column %s", r.cols.Lon)
		}
		mval, ok, err := float64Column(rec, r.cols.MValue)
		if err != nil {
			return err
		}
		if i == 0 {
			hasM = ok
		} else if ok != hasM {
			return fmt.Errorf("column %s is present in some records only", r.cols.MValue)
		}

		seq, err := seqColumn(rec, r.cols.VertexSeq)
		if err != nil {
			return err
		}
		ids, err := routeIDColumn(rec, r.cols.RouteID)
		if err != nil {
			return err
		}

		r.values = append(r.values, recordColumns{lat: lat, lon: lon, mval: mval})

		for row := range int(rec.NumRows()) {
			if ids.IsNull(row) {
				return fmt.Errorf("record %d row %d has a null route id", i, row)
			}
			routeID := ids.Value(row)

			id, ok := r.lookup[routeID]
			if !ok {
				id = geom.GeometryID(len(r.routeIDs))
				r.lookup[routeID] = id
				r.routeIDs = append(r.routeIDs, routeID)
				groups = append(groups, nil)
			}
			groups[id] = append(groups[id], vertex{
				ref: vertexRef{rec: int32(i), row: int32(row)},
				seq: seq(row),
			})
		}
	}

	r.layout = geom.XY
	if hasM {
		r.layout = geom.XYM
	}

	r.offsets = make([]int, 1, len(groups)+1)
	for id, g := range groups {
		if len(g) == 1 {
			return fmt.Errorf("route %s has a single vertex", r.routeIDs[id])
		}
		slices.SortStableFunc(g, func(a, b vertex) int {
			return cmp.Compare(a.seq, b.seq)
		})
		for _, v := range g {
			r.refs = append(r.refs, v.ref)
		}
		r.offsets = append(r.offsets, len(r.refs))
	}

	return nil
}

// Get Apache Arrow Records of the routes
func (r *Routes) GetRecords() []arrow.RecordBatch {
	return r.records
}

// Get CRS
func (r *Routes) GetCRS() string {
	return r.crs
}

// Get column names
func (r *Routes) Columns() Columns {
	return r.cols
}

// Release the Apache Arrow Records buffer
func (r *Routes) Release() {
	for _, rec := range r.records {
		rec.Release()
	}
	r.records = nil

	// Clean up temp dir if exists
	if r.tempDir != "" {
		os.RemoveAll(r.tempDir)
		r.tempDir = ""
	}
}

// RouteID returns the route id of a geometry.
func (r *Routes) RouteID(id geom.GeometryID) (string, error) {
	if err := geom.CheckID("RouteID", id, len(r.routeIDs)); err != nil {
		return "", err
	}
	return r.routeIDs[id], nil
}

// Lookup returns the geometry of a route id.
func (r *Routes) Lookup(routeID string) (geom.GeometryID, bool) {
	id, ok := r.lookup[routeID]
	return id, ok
}

func (r *Routes) vertex(ref vertexRef) geom.Coordinate {
	v := r.values[ref.rec]
	c := geom.Coordinate{X: v.lon[ref.row], Y: v.lat[ref.row]}
	if v.mval != nil {
		c.M = v.mval[ref.row]
	}
	return c
}

func (r *Routes) NumGeometries() int {
	return len(r.routeIDs)
}

func (r *Routes) Layout() geom.Layout {
	return r.layout
}

func (r *Routes) TypeOf(id geom.GeometryID) (geom.GeometryType, error) {
	if err := geom.CheckID("TypeOf", id, len(r.routeIDs)); err != nil {
		return "", err
	}
	return geom.LINESTRING, nil
}

func (r *Routes) Len(id geom.GeometryID) (int, error) {
	if err := geom.CheckID("Len", id, len(r.routeIDs)); err != nil {
		return 0, err
	}
	return r.offsets[id+1] - r.offsets[id], nil
}

func (r *Routes) CoordinateAt(id geom.GeometryID, index int) (geom.Coordinate, error) {
	n, err := r.Len(id)
	if err != nil {
		return geom.Coordinate{}, err
	}
	if err := geom.CheckIndex("CoordinateAt", id, index, n); err != nil {
		return geom.Coordinate{}, err
	}
	return r.vertex(r.refs[r.offsets[id]+index]), nil
}

func (r *Routes) Coordinates(id geom.GeometryID) (iter.Seq[geom.Coordinate], error) {
	if err := geom.CheckID("Coordinates", id, len(r.routeIDs)); err != nil {
		return nil, err
	}
	refs := r.refs[r.offsets[id]:r.offsets[id+1]]

	return func(yield func(geom.Coordinate) bool) {
		for _, ref := range refs {
			if !yield(r.vertex(ref)) {
				return
			}
		}
	}, nil
}

func (r *Routes) NumParts(id geom.GeometryID) (int, error) {
	if _, err := r.Len(id); err != nil {
		return 0, err
	}
	return 1, nil
}

func (r *Routes) PartRange(id geom.GeometryID, part int) (int, int, error) {
	n, err := r.Len(id)
	if err != nil {
		return 0, 0, err
	}
	return geom.PartRangeFromEnds("PartRange", id, []int{n}, part)
}
