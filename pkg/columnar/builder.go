package columnar

import (
	"fmt"
	"geo-access/pkg/geom"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// CoordType is the struct type of one coordinate for a layout.
func CoordType(layout geom.Layout) *arrow.StructType {
	fields := []arrow.Field{
		{Name: "x", Type: arrow.PrimitiveTypes.Float64},
		{Name: "y", Type: arrow.PrimitiveTypes.Float64},
	}
	if layout.HasZ() {
		fields = append(fields, arrow.Field{Name: "z", Type: arrow.PrimitiveTypes.Float64})
	}
	if layout.HasM() {
		fields = append(fields, arrow.Field{Name: "m", Type: arrow.PrimitiveTypes.Float64})
	}
	return arrow.StructOf(fields...)
}

// Field returns the arrow field of a geometry column.
func Field(name string, typ geom.GeometryType, layout geom.Layout) arrow.Field {
	var dtype arrow.DataType = CoordType(layout)
	for range depthOf(typ) {
		dtype = arrow.ListOf(dtype)
	}

	return arrow.Field{
		Name:     name,
		Type:     dtype,
		Nullable: true,
		Metadata: arrow.NewMetadata([]string{MetadataKey}, []string{extensionNames[typ]}),
	}
}

// Builder appends geometries of a single type into a column.
type Builder struct {
	name   string
	typ    geom.GeometryType
	layout geom.Layout
	field  arrow.Field

	root   array.Builder
	outer  *array.ListBuilder
	inner  *array.ListBuilder
	coords *array.StructBuilder
}

func NewBuilder(mem memory.Allocator, name string, typ geom.GeometryType, layout geom.Layout) (*Builder, error) {
	if !typ.Valid() || typ.Composite() {
		return nil, fmt.Errorf("%w: geometry type %q", ErrUnsupportedType, typ)
	}

	b := &Builder{
		name:   name,
		typ:    typ,
		layout: layout,
		field:  Field(name, typ, layout),
	}
	b.root = array.NewBuilder(mem, b.field.Type)

	switch depthOf(typ) {
	case 0:
		b.coords = b.root.(*array.StructBuilder)
	case 1:
		b.outer = b.root.(*array.ListBuilder)
		b.coords = b.outer.ValueBuilder().(*array.StructBuilder)
	case 2:
		b.outer = b.root.(*array.ListBuilder)
		b.inner = b.outer.ValueBuilder().(*array.ListBuilder)
		b.coords = b.inner.ValueBuilder().(*array.StructBuilder)
	}

	return b, nil
}

func (b *Builder) appendCoord(c geom.Coordinate) {
	b.coords.Append(true)
	b.coords.FieldBuilder(0).(*array.Float64Builder).Append(c.X)
	b.coords.FieldBuilder(1).(*array.Float64Builder).Append(c.Y)
	i := 2
	if b.layout.HasZ() {
		b.coords.FieldBuilder(i).(*array.Float64Builder).Append(c.Z)
		i++
	}
	if b.layout.HasM() {
		b.coords.FieldBuilder(i).(*array.Float64Builder).Append(c.M)
	}
}

// Append adds one geometry given as parts. An empty point is stored as null.
func (b *Builder) Append(parts [][]geom.Coordinate) error {
	switch depthOf(b.typ) {
	case 0:
		n := 0
		for _, p := range parts {
			n += len(p)
		}
		switch n {
		case 0:
			b.coords.AppendNull()
		case 1:
			for _, p := range parts {
				for _, c := range p {
					b.appendCoord(c)
				}
			}
		default:
			return fmt.Errorf("point with %d coordinates", n)
		}

	case 1:
		if len(parts) > 1 {
			return fmt.Errorf("%s with %d parts", b.typ, len(parts))
		}
		b.outer.Append(true)
		for _, p := range parts {
			for _, c := range p {
				b.appendCoord(c)
			}
		}

	case 2:
		b.outer.Append(true)
		for _, p := range parts {
			if len(p) == 0 {
				continue
			}
			b.inner.Append(true)
			for _, c := range p {
				b.appendCoord(c)
			}
		}
	}
	return nil
}

// NewColumn finishes the column and resets the builder.
func (b *Builder) NewColumn() (*Column, error) {
	arr := b.root.NewArray()
	defer arr.Release()

	return NewColumn(b.field, arr)
}

func (b *Builder) Release() {
	b.root.Release()
}

// FromDataset copies ds into a new column. Every geometry must share one type.
func FromDataset(ds geom.Dataset, mem memory.Allocator) (*Column, error) {
	if ds.NumGeometries() == 0 {
		return nil, fmt.Errorf("failed to build column: dataset is empty")
	}

	typ, err := ds.TypeOf(0)
	if err != nil {
		return nil, err
	}
	for i := 1; i < ds.NumGeometries(); i++ {
		t, err := ds.TypeOf(geom.GeometryID(i))
		if err != nil {
			return nil, err
		}
		if t != typ {
			return nil, fmt.Errorf("%w: geometry %d is %s, column is %s", ErrMixedTypes, i, t, typ)
		}
	}

	b, err := NewBuilder(mem, "geometry", typ, ds.Layout())
	if err != nil {
		return nil, err
	}
	defer b.Release()

	for i := range ds.NumGeometries() {
		parts, err := geom.Parts(ds, geom.GeometryID(i))
		if err != nil {
			return nil, fmt.Errorf("failed to read geometry %d: %w", i, err)
		}
		if err := b.Append(parts); err != nil {
			return nil, fmt.Errorf("failed to append geometry %d: %w", i, err)
		}
	}

	return b.NewColumn()
}
