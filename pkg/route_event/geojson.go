package route_event

import (
	"encoding/json"
	"fmt"
	"geo-access/pkg/geom"
	"geo-access/pkg/route"
	"maps"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// GeoJSONFeatureCollection represents a GeoJSON FeatureCollection
type GeoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []GeoJSONFeature `json:"features"`
}

// GeoJSONFeature represents a GeoJSON Feature
type GeoJSONFeature struct {
	Type       string           `json:"type"`
	Geometry   *GeoJSONGeometry `json:"geometry"`
	Properties map[string]any   `json:"properties"`
}

// GeoJSONGeometry represents a GeoJSON Geometry
type GeoJSONGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// NewLRSEventsFromGeoJSON creates LRSEvents from a GeoJSON FeatureCollection
// of Points. Properties become columns; the route id column is always a
// string column.
func NewLRSEventsFromGeoJSON(data []byte, crs string, opts ...Option) (*LRSEvents, error) {
	var fc GeoJSONFeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal geojson: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected a FeatureCollection, got %q", fc.Type)
	}

	// Column names only
	names, err := NewLRSEvents(nil, crs, opts...)
	if err != nil {
		return nil, err
	}

	pool := memory.NewGoAllocator()

	// Create a list of all property keys to build the schema
	propKeys := make(map[string]struct{})
	for _, f := range fc.Features {
		for k := range f.Properties {
			propKeys[k] = struct{}{}
		}
	}
	delete(propKeys, names.latCol)
	delete(propKeys, names.lonCol)
	propKeys[names.routeIDCol] = struct{}{}

	fields := []arrow.Field{
		{Name: names.latCol, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: names.lonCol, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}

	for _, k := range slices.Sorted(maps.Keys(propKeys)) {
		// Basic type inference: the first non-nil value decides the type
		var fieldType arrow.DataType = arrow.BinaryTypes.String // Default to string
		if k != names.routeIDCol {
			for _, f := range fc.Features {
				if v, ok := f.Properties[k]; ok && v != nil {
					switch v.(type) {
					case float64:
						fieldType = arrow.PrimitiveTypes.Float64
					case bool:
						fieldType = arrow.FixedWidthTypes.Boolean
					}
					break
				}
			}
		}
		fields = append(fields, arrow.Field{Name: k, Type: fieldType, Nullable: true})
	}

	schema := arrow.NewSchema(fields, nil)
	builder := array.NewRecordBuilder(pool, schema)
	defer builder.Release()

	for i, f := range fc.Features {
		if f.Geometry == nil || len(f.Geometry.Coordinates) == 0 {
			builder.Field(0).AppendNull()
			builder.Field(1).AppendNull()
		} else {
			if f.Geometry.Type != "Point" {
				return nil, fmt.Errorf("feature %d: expected Point geometry, got %s", i, f.Geometry.Type)
			}
			if len(f.Geometry.Coordinates) < 2 {
				return nil, fmt.Errorf("feature %d: point needs two coordinates", i)
			}
			// coordinates[0] is lon, coordinates[1] is lat
			builder.Field(0).(*array.Float64Builder).Append(f.Geometry.Coordinates[1])
			builder.Field(1).(*array.Float64Builder).Append(f.Geometry.Coordinates[0])
		}

		for j := 2; j < len(fields); j++ {
			val, ok := f.Properties[fields[j].Name]
			if !ok || val == nil {
				builder.Field(j).AppendNull()
				continue
			}

			switch b := builder.Field(j).(type) {
			case *array.Float64Builder:
				fv, ok := val.(float64)
				if !ok {
					return nil, fmt.Errorf("feature %d: property %s is not a number", i, fields[j].Name)
				}
				b.Append(fv)
			case *array.BooleanBuilder:
				bv, ok := val.(bool)
				if !ok {
					return nil, fmt.Errorf("feature %d: property %s is not a boolean", i, fields[j].Name)
				}
				b.Append(bv)
			case *array.StringBuilder:
				b.Append(stringValue(val))
			}
		}
	}

	rec := builder.NewRecordBatch()
	events, err := NewLRSEvents([]arrow.RecordBatch{rec}, crs, opts...)
	if err != nil {
		rec.Release()
		return nil, err
	}
	return events, nil
}

// stringValue renders a property for a string column. Numbers are written
// without exponent so numeric route ids match the ones of the routes.
func stringValue(val any) string {
	if v, ok := val.(float64); ok {
		return route.FormatRouteID(v)
	}
	return fmt.Sprint(val)
}

// ToGeoJSON converts LRSEvents to GeoJSON FeatureCollection bytes. extra is
// merged into the properties of every feature.
func (e *LRSEvents) ToGeoJSON(extra map[string]any) ([]byte, error) {
	if len(e.records) == 0 {
		return nil, fmt.Errorf("no records to convert")
	}

	fc := GeoJSONFeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]GeoJSONFeature, 0, e.NumGeometries()),
	}

	id := geom.GeometryID(0)
	for _, batch := range e.records {
		schema := batch.Schema()

		for rowIdx := 0; rowIdx < int(batch.NumRows()); rowIdx++ {
			// Build properties from other columns
			properties := make(map[string]any)
			for colIdx := 0; colIdx < int(batch.NumCols()); colIdx++ {
				fieldName := schema.Field(colIdx).Name
				// LAT and LON go into geometry
				if fieldName == e.latCol || fieldName == e.lonCol {
					continue
				}

				val, err := getColumnValue(batch.Column(colIdx), rowIdx)
				if err == nil && val != nil {
					properties[fieldName] = val
				}
			}
			maps.Copy(properties, extra)

			feature := GeoJSONFeature{
				Type:       "Feature",
				Properties: properties,
			}
			if c, ok := e.point(id); ok {
				feature.Geometry = &GeoJSONGeometry{
					Type:        "Point",
					Coordinates: []float64{c.X, c.Y}, // GeoJSON uses [lon, lat] order
				}
			}

			fc.Features = append(fc.Features, feature)
			id++
		}
	}

	return json.MarshalIndent(fc, "", "  ")
}

// getFloat64Value extracts a float64 value from an Arrow column at a given index
func getFloat64Value(col arrow.Array, idx int) (float64, error) {
	if col.IsNull(idx) {
		return 0, fmt.Errorf("null value")
	}

	switch c := col.(type) {
	case *array.Float64:
		return c.Value(idx), nil
	case *array.Float32:
		return float64(c.Value(idx)), nil
	case *array.Int64:
		return float64(c.Value(idx)), nil
	case *array.Int32:
		return float64(c.Value(idx)), nil
	default:
		return 0, fmt.Errorf("unsupported column type for float conversion: %T", col)
	}
}

// getColumnValue extracts a value from an Arrow column at a given index
func getColumnValue(col arrow.Array, idx int) (any, error) {
	if col.IsNull(idx) {
		return nil, nil
	}

	switch c := col.(type) {
	case *array.Float64:
		return c.Value(idx), nil
	case *array.Float32:
		return float64(c.Value(idx)), nil
	case *array.Int64:
		return c.Value(idx), nil
	case *array.Int32:
		return int64(c.Value(idx)), nil
	case *array.String:
		return c.Value(idx), nil
	case *array.LargeString:
		return c.Value(idx), nil
	case *array.Boolean:
		return c.Value(idx), nil
	case *array.Binary:
		return string(c.Value(idx)), nil
	case *array.LargeBinary:
		return string(c.Value(idx)), nil
	default:
		return nil, fmt.Errorf("unsupported column type: %T", col)
	}
}
