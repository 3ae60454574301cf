package route

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

type EsriRouteJson struct {
	SpatialReference spatRef      `json:"spatialReference"`
	Features         []featureRow `json:"features"`
}

type spatRef struct {
	WKID int    `json:"wkid"`
	WKT  string `json:"wkt"`
	WKT2 string `json:"wkt2"`
}

type featureRow struct {
	Geometry   featureGeom    `json:"geometry"`
	Attributes map[string]any `json:"attributes"`
}

type featureGeom struct {
	HasM  bool          `json:"hasM"`
	Paths [][][]float64 `json:"paths"`
}

// Feature count in the JSON
func (e *EsriRouteJson) FeatureCount() int {
	return len(e.Features)
}

// CRS returns the WKT of the spatial reference, or its EPSG code when the
// JSON only carries a WKID.
func (e *EsriRouteJson) CRS() string {
	switch {
	case e.SpatialReference.WKT != "":
		return e.SpatialReference.WKT
	case e.SpatialReference.WKT2 != "":
		return e.SpatialReference.WKT2
	case e.SpatialReference.WKID != 0:
		return fmt.Sprintf("EPSG:%d", e.SpatialReference.WKID)
	}
	return ""
}

// FormatRouteID renders a numeric route id the way it is written, so 1000000
// stays "1000000" and 12.5 stays "12.5".
func FormatRouteID(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func featureRouteID(attrs map[string]any, attr string) (string, error) {
	switch v := attrs[attr].(type) {
	case string:
		return v, nil
	case float64:
		return FormatRouteID(v), nil
	}
	return "", fmt.Errorf("missing or invalid %s", attr)
}

// NewRoutesFromESRIJSON builds routes from every polyline feature of an ESRI
// JSON feature set. The paths of a feature are joined into one route and the
// route id is read from the routeIDAttr attribute (LINKID when empty).
// Features with the same route id are joined in file order.
func NewRoutesFromESRIJSON(jsonbyte []byte, routeIDAttr string, opts ...Option) (*Routes, error) {
	var esriJson EsriRouteJson
	if err := json.Unmarshal(jsonbyte, &esriJson); err != nil {
		return nil, fmt.Errorf("failed to unmarshal esri json: %w", err)
	}

	if esriJson.FeatureCount() == 0 {
		return nil, fmt.Errorf("esri json has no features")
	}
	if routeIDAttr == "" {
		routeIDAttr = "LINKID"
	}

	hasM := true
	for _, feature := range esriJson.Features {
		hasM = hasM && feature.Geometry.HasM
	}

	pool := memory.NewGoAllocator()
	cols := DefaultColumns()

	// Schema
	fields := []arrow.Field{
		{Name: cols.RouteID, Type: arrow.BinaryTypes.String},
		{Name: cols.Lat, Type: arrow.PrimitiveTypes.Float64},
		{Name: cols.Lon, Type: arrow.PrimitiveTypes.Float64},
	}
	if hasM {
		fields = append(fields, arrow.Field{Name: cols.MValue, Type: arrow.PrimitiveTypes.Float64})
	}
	fields = append(fields, arrow.Field{Name: cols.VertexSeq, Type: arrow.PrimitiveTypes.Int32})
	schema := arrow.NewSchema(fields, nil)

	// Builder
	rb := array.NewRecordBuilder(pool, schema)
	defer rb.Release()

	routeidBuilder := rb.Field(0).(*array.StringBuilder)
	latBuilder := rb.Field(1).(*array.Float64Builder)
	lonBuilder := rb.Field(2).(*array.Float64Builder)
	seqBuilder := rb.Field(len(fields) - 1).(*array.Int32Builder)

	// Append data. Features sharing a route id continue its vertex sequence.
	nextSeq := make(map[string]int)
	for i, feature := range esriJson.Features {
		if len(feature.Geometry.Paths) == 0 {
			return nil, fmt.Errorf("feature %d: missing or invalid paths", i)
		}

		routeID, err := featureRouteID(feature.Attributes, routeIDAttr)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		vertexSeq := nextSeq[routeID]
		for _, path := range feature.Geometry.Paths {
			for _, v := range path {
				if len(v) < 2 || (hasM && len(v) < 3) {
					return nil, fmt.Errorf("feature %d: vertex %d has %d ordinates", i, vertexSeq, len(v))
				}

				routeidBuilder.Append(routeID)
				lonBuilder.Append(v[0])
				latBuilder.Append(v[1])
				if hasM {
					// M is the last ordinate, after Z when the path has one
					rb.Field(3).(*array.Float64Builder).Append(v[len(v)-1])
				}
				seqBuilder.Append(int32(vertexSeq))
				vertexSeq++
			}
		}
		nextSeq[routeID] = vertexSeq
	}

	rec := rb.NewRecordBatch()
	defer rec.Release()

	opts = append([]Option{WithCRS(esriJson.CRS())}, opts...)
	return NewRoutes([]arrow.RecordBatch{rec}, opts...)
}
