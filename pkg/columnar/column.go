// Package columnar serves geometries straight from Arrow arrays using a
// GeoArrow style nested encoding:
//
//	Point                        struct<x, y[, z][, m]>
//	LineString, MultiPoint       list<struct<...>>
//	Polygon, MultiLineString     list<list<struct<...>>>
//
// Coordinates are read from the float64 child buffers without copying them.
package columnar

import (
	"errors"
	"fmt"
	"geo-access/pkg/geom"
	"iter"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// MetadataKey is the field metadata key holding the GeoArrow type name.
const MetadataKey = "geoaccess:geometry_type"

var (
	ErrUnsupportedType = errors.New("columnar: unsupported arrow type for a geometry column")
	ErrMixedTypes      = errors.New("columnar: geometries of different types in one column")
)

var extensionNames = map[geom.GeometryType]string{
	geom.POINT:           "geoarrow.point",
	geom.LINESTRING:      "geoarrow.linestring",
	geom.POLYGON:         "geoarrow.polygon",
	geom.MULTIPOINT:      "geoarrow.multipoint",
	geom.MULTILINESTRING: "geoarrow.multilinestring",
}

// depthOf is the list nesting of each geometry type.
func depthOf(typ geom.GeometryType) int {
	switch typ {
	case geom.LINESTRING, geom.MULTIPOINT:
		return 1
	case geom.POLYGON, geom.MULTILINESTRING:
		return 2
	}
	return 0
}

// Column is a geometry column. It holds a reference on the array until
// Release.
type Column struct {
	arr    arrow.Array
	field  arrow.Field
	typ    geom.GeometryType
	layout geom.Layout
	depth  int

	geoms *array.List
	rings *array.List

	x, y, z, m []float64
}

// NewColumn wraps arr, typed by field. The geometry type comes from the field
// metadata, or from the nesting depth when the metadata is missing.
func NewColumn(field arrow.Field, arr arrow.Array) (*Column, error) {
	c := &Column{arr: arr, field: field}

	var coords arrow.Array = arr
	switch a := arr.(type) {
	case *array.Struct:
		c.depth = 0
	case *array.List:
		c.geoms = a
		c.depth = 1
		coords = a.ListValues()
		if inner, ok := coords.(*array.List); ok {
			c.rings = inner
			c.depth = 2
			coords = inner.ListValues()
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, arr.DataType())
	}

	st, ok := coords.(*array.Struct)
	if !ok {
		return nil, fmt.Errorf("%w: coordinates are %s, want struct", ErrUnsupportedType, coords.DataType())
	}
	if err := c.bindCoords(st); err != nil {
		return nil, err
	}

	typ, err := typeFromField(field, c.depth)
	if err != nil {
		return nil, err
	}
	c.typ = typ

	arr.Retain()
	return c, nil
}

func (c *Column) bindCoords(st *array.Struct) error {
	stype := st.DataType().(*arrow.StructType)

	values := func(name string) ([]float64, error) {
		idx, ok := stype.FieldIdx(name)
		if !ok {
			return nil, nil
		}
		f, ok := st.Field(idx).(*array.Float64)
		if !ok {
			return nil, fmt.Errorf("%w: ordinate %s is %s, want float64", ErrUnsupportedType, name, st.Field(idx).DataType())
		}
		return f.Float64Values(), nil
	}

	var err error
	if c.x, err = values("x"); err != nil {
		return err
	}
	if c.y, err = values("y"); err != nil {
		return err
	}
	if c.x == nil || c.y == nil {
		return fmt.Errorf("%w: coordinates need x and y fields", ErrUnsupportedType)
	}
	if c.z, err = values("z"); err != nil {
		return err
	}
	if c.m, err = values("m"); err != nil {
		return err
	}

	c.layout = geom.LayoutOf(c.z != nil, c.m != nil)
	return nil
}

func typeFromField(field arrow.Field, depth int) (geom.GeometryType, error) {
	if name, ok := field.Metadata.GetValue(MetadataKey); ok {
		for typ, ext := range extensionNames {
			if ext == name {
				if depthOf(typ) != depth {
					return "", fmt.Errorf("%w: %s stored with nesting depth %d", ErrUnsupportedType, name, depth)
				}
				return typ, nil
			}
		}
		return "", fmt.Errorf("%w: unknown geometry type %q", ErrUnsupportedType, name)
	}

	switch depth {
	case 0:
		return geom.POINT, nil
	case 1:
		return geom.LINESTRING, nil
	}
	return geom.POLYGON, nil
}

// FromRecord wraps the named column of rec.
func FromRecord(rec arrow.RecordBatch, name string) (*Column, error) {
	indices := rec.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, fmt.Errorf("geometry column %s not found in record", name)
	}
	return NewColumn(rec.Schema().Field(indices[0]), rec.Column(indices[0]))
}

// Array returns the underlying array without adding a reference.
func (c *Column) Array() arrow.Array {
	return c.arr
}

// Field returns the arrow field describing the column.
func (c *Column) Field() arrow.Field {
	return c.field
}

// Record returns a single column record batch holding the geometries. The
// caller releases it.
func (c *Column) Record() arrow.RecordBatch {
	schema := arrow.NewSchema([]arrow.Field{c.field}, nil)
	return array.NewRecordBatch(schema, []arrow.Array{c.arr}, int64(c.arr.Len()))
}

// Release the Apache Arrow array buffer
func (c *Column) Release() {
	if c.arr != nil {
		c.arr.Release()
		c.arr = nil
	}
}

// coordRange returns the coordinate index range of geometry id inside the
// coordinate struct array.
func (c *Column) coordRange(id geom.GeometryID) (int, int) {
	i := int(id)
	if c.arr.IsNull(i) {
		return 0, 0
	}

	switch c.depth {
	case 0:
		// struct children are already sliced to the array offset
		return i, i + 1
	case 1:
		start, end := c.geoms.ValueOffsets(i)
		return int(start), int(end)
	}

	rs, re := c.geoms.ValueOffsets(i)
	if rs == re {
		return 0, 0
	}
	start, _ := c.rings.ValueOffsets(int(rs))
	_, end := c.rings.ValueOffsets(int(re - 1))
	return int(start), int(end)
}

func (c *Column) coord(i int) geom.Coordinate {
	out := geom.Coordinate{X: c.x[i], Y: c.y[i]}
	if c.z != nil {
		out.Z = c.z[i]
	}
	if c.m != nil {
		out.M = c.m[i]
	}
	return out
}

func (c *Column) NumGeometries() int {
	return c.arr.Len()
}

func (c *Column) Layout() geom.Layout {
	return c.layout
}

// Type is the geometry type shared by every row.
func (c *Column) Type() geom.GeometryType {
	return c.typ
}

func (c *Column) TypeOf(id geom.GeometryID) (geom.GeometryType, error) {
	if err := geom.CheckID("TypeOf", id, c.arr.Len()); err != nil {
		return "", err
	}
	return c.typ, nil
}

func (c *Column) Len(id geom.GeometryID) (int, error) {
	if err := geom.CheckID("Len", id, c.arr.Len()); err != nil {
		return 0, err
	}
	start, end := c.coordRange(id)
	return end - start, nil
}

func (c *Column) CoordinateAt(id geom.GeometryID, index int) (geom.Coordinate, error) {
	if err := geom.CheckID("CoordinateAt", id, c.arr.Len()); err != nil {
		return geom.Coordinate{}, err
	}
	start, end := c.coordRange(id)
	if err := geom.CheckIndex("CoordinateAt", id, index, end-start); err != nil {
		return geom.Coordinate{}, err
	}
	return c.coord(start + index), nil
}

func (c *Column) Coordinates(id geom.GeometryID) (iter.Seq[geom.Coordinate], error) {
	if err := geom.CheckID("Coordinates", id, c.arr.Len()); err != nil {
		return nil, err
	}
	start, end := c.coordRange(id)

	return func(yield func(geom.Coordinate) bool) {
		for i := start; i < end; i++ {
			if !yield(c.coord(i)) {
				return
			}
		}
	}, nil
}

func (c *Column) NumParts(id geom.GeometryID) (int, error) {
	if err := geom.CheckID("NumParts", id, c.arr.Len()); err != nil {
		return 0, err
	}
	if c.depth < 2 {
		start, end := c.coordRange(id)
		if end > start {
			return 1, nil
		}
		return 0, nil
	}
	if c.arr.IsNull(int(id)) {
		return 0, nil
	}
	rs, re := c.geoms.ValueOffsets(int(id))
	return int(re - rs), nil
}

func (c *Column) PartRange(id geom.GeometryID, part int) (int, int, error) {
	n, err := c.NumParts(id)
	if err != nil {
		return 0, 0, err
	}
	if part < 0 || part >= n {
		return 0, 0, &geom.AccessError{Op: "PartRange", ID: id, Index: part, Len: n, Err: geom.ErrOutOfBounds}
	}

	start, end := c.coordRange(id)
	if c.depth < 2 {
		return 0, end - start, nil
	}

	rs, _ := c.geoms.ValueOffsets(int(id))
	ps, pe := c.rings.ValueOffsets(int(rs) + part)
	return int(ps) - start, int(pe) - start, nil
}
