package inmem

import (
	"encoding/json"
	"fmt"
	"geo-access/pkg/geom"
)

type geoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

type geoJSONFeature struct {
	Type       string          `json:"type"`
	Geometry   geoJSONGeometry `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type geoJSONGeometry struct {
	Type        string            `json:"type"`
	Coordinates json.RawMessage   `json:"coordinates"`
	Geometries  []geoJSONGeometry `json:"geometries"`
}

type position []float64

// parsedGeometry holds positions grouped by part, or the members of a
// composite geometry.
type parsedGeometry struct {
	typ     geom.GeometryType
	parts   [][]position
	members []parsedGeometry
}

func (p parsedGeometry) each(fn func(position) error) error {
	for _, part := range p.parts {
		for _, pos := range part {
			if err := fn(pos); err != nil {
				return err
			}
		}
	}
	for _, m := range p.members {
		if err := m.each(fn); err != nil {
			return err
		}
	}
	return nil
}

func (p parsedGeometry) build(layout geom.Layout) (Geometry, error) {
	if !p.typ.Composite() {
		coords := make([][]geom.Coordinate, len(p.parts))
		for i, part := range p.parts {
			coords[i] = make([]geom.Coordinate, len(part))
			for j, pos := range part {
				c := geom.Coordinate{X: pos[0], Y: pos[1]}
				if layout.HasZ() {
					c.Z = pos[2]
				}
				coords[i][j] = c
			}
		}
		return NewGeometry(p.typ, layout, coords)
	}

	members := make([]Geometry, 0, len(p.members))
	for i, m := range p.members {
		g, err := m.build(layout)
		if err != nil {
			return Geometry{}, fmt.Errorf("member %d: %w", i, err)
		}
		members = append(members, g)
	}
	return newComposite(p.typ, layout, members)
}

// FromGeoJSON builds a Store from a GeoJSON FeatureCollection. Supported
// geometries are Point, LineString, Polygon, MultiPoint, MultiLineString,
// MultiPolygon and GeometryCollection; a collection can not hold another
// collection or a multi polygon. The store layout is XYZ when every position
// carries an elevation, XY otherwise. Feature properties are kept and
// available through Properties.
func FromGeoJSON(data []byte) (*Store, error) {
	var fc geoJSONFeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal geojson: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection, got %q", fc.Type)
	}

	parsed := make([]parsedGeometry, len(fc.Features))
	withZ := true

	for i, f := range fc.Features {
		pg, err := parseGeoJSONGeometry(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		err = pg.each(func(p position) error {
			if len(p) < 2 {
				return fmt.Errorf("position needs at least 2 ordinates, got %d", len(p))
			}
			if len(p) < 3 {
				withZ = false
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		parsed[i] = pg
	}

	layout := geom.XY
	if withZ && len(fc.Features) > 0 {
		layout = geom.XYZ
	}

	store := &Store{layout: layout}
	for i, pg := range parsed {
		g, err := pg.build(layout)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		if _, err := store.Add(g, fc.Features[i].Properties); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// parseGeoJSONGeometry returns the geometry type and its positions grouped by
// part.
func parseGeoJSONGeometry(g geoJSONGeometry) (parsedGeometry, error) {
	switch g.Type {
	case "Point":
		var p position
		if err := json.Unmarshal(g.Coordinates, &p); err != nil {
			return parsedGeometry{}, fmt.Errorf("invalid Point coordinates: %w", err)
		}
		if len(p) == 0 {
			return parsedGeometry{typ: geom.POINT}, nil
		}
		return parsedGeometry{typ: geom.POINT, parts: [][]position{{p}}}, nil

	case "LineString", "MultiPoint":
		var ps []position
		if err := json.Unmarshal(g.Coordinates, &ps); err != nil {
			return parsedGeometry{}, fmt.Errorf("invalid %s coordinates: %w", g.Type, err)
		}
		typ := geom.LINESTRING
		if g.Type == "MultiPoint" {
			typ = geom.MULTIPOINT
		}
		return parsedGeometry{typ: typ, parts: [][]position{ps}}, nil

	case "Polygon", "MultiLineString":
		var parts [][]position
		if err := json.Unmarshal(g.Coordinates, &parts); err != nil {
			return parsedGeometry{}, fmt.Errorf("invalid %s coordinates: %w", g.Type, err)
		}
		typ := geom.POLYGON
		if g.Type == "MultiLineString" {
			typ = geom.MULTILINESTRING
		}
		return parsedGeometry{typ: typ, parts: parts}, nil

	case "MultiPolygon":
		var polygons [][][]position
		if err := json.Unmarshal(g.Coordinates, &polygons); err != nil {
			return parsedGeometry{}, fmt.Errorf("invalid MultiPolygon coordinates: %w", err)
		}
		out := parsedGeometry{typ: geom.MULTIPOLYGON}
		for _, rings := range polygons {
			out.members = append(out.members, parsedGeometry{typ: geom.POLYGON, parts: rings})
		}
		return out, nil

	case "GeometryCollection":
		out := parsedGeometry{typ: geom.GEOMETRYCOLLECTION}
		for i, member := range g.Geometries {
			pg, err := parseGeoJSONGeometry(member)
			if err != nil {
				return parsedGeometry{}, fmt.Errorf("member %d: %w", i, err)
			}
			if pg.typ.Composite() {
				return parsedGeometry{}, fmt.Errorf("member %d: nested %s", i, pg.typ)
			}
			out.members = append(out.members, pg)
		}
		return out, nil
	}

	return parsedGeometry{}, fmt.Errorf("unsupported geometry type %q", g.Type)
}
