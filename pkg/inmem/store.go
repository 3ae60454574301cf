package inmem

import (
	"fmt"
	"geo-access/pkg/geom"
	"iter"
)

// Store holds geometries sharing one layout. It is safe for concurrent
// readers once construction is finished.
type Store struct {
	layout     geom.Layout
	geoms      []Geometry
	properties []map[string]any
}

// NewStore validates geoms and returns a store holding them in order.
func NewStore(layout geom.Layout, geoms ...Geometry) (*Store, error) {
	s := &Store{layout: layout}
	for _, g := range geoms {
		if _, err := s.Add(g, nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a geometry with optional properties. It must not be called
// while the store is being read.
func (s *Store) Add(g Geometry, props map[string]any) (geom.GeometryID, error) {
	if g.Layout != s.layout {
		return 0, fmt.Errorf("geometry layout %s does not match store layout %s", g.Layout, s.layout)
	}
	if err := g.Validate(); err != nil {
		return 0, fmt.Errorf("invalid %s at position %d: %w", g.Type, len(s.geoms), err)
	}

	s.geoms = append(s.geoms, g)
	s.properties = append(s.properties, props)
	return geom.GeometryID(len(s.geoms) - 1), nil
}

// Geometry returns the stored geometry. The returned value shares storage
// with the store and must not be modified.
func (s *Store) Geometry(id geom.GeometryID) (Geometry, error) {
	if err := geom.CheckID("Geometry", id, len(s.geoms)); err != nil {
		return Geometry{}, err
	}
	return s.geoms[id], nil
}

// Properties returns the feature properties attached on Add, or nil.
func (s *Store) Properties(id geom.GeometryID) map[string]any {
	if id < 0 || int(id) >= len(s.properties) {
		return nil
	}
	return s.properties[id]
}

func (s *Store) NumGeometries() int {
	return len(s.geoms)
}

func (s *Store) Layout() geom.Layout {
	return s.layout
}

func (s *Store) TypeOf(id geom.GeometryID) (geom.GeometryType, error) {
	if err := geom.CheckID("TypeOf", id, len(s.geoms)); err != nil {
		return "", err
	}
	return s.geoms[id].Type, nil
}

func (s *Store) Len(id geom.GeometryID) (int, error) {
	if err := geom.CheckID("Len", id, len(s.geoms)); err != nil {
		return 0, err
	}
	return s.geoms[id].NumCoords(), nil
}

func (s *Store) CoordinateAt(id geom.GeometryID, index int) (geom.Coordinate, error) {
	if err := geom.CheckID("CoordinateAt", id, len(s.geoms)); err != nil {
		return geom.Coordinate{}, err
	}
	g := &s.geoms[id]
	if err := geom.CheckIndex("CoordinateAt", id, index, g.NumCoords()); err != nil {
		return geom.Coordinate{}, err
	}
	return g.Coord(index), nil
}

func (s *Store) Coordinates(id geom.GeometryID) (iter.Seq[geom.Coordinate], error) {
	if err := geom.CheckID("Coordinates", id, len(s.geoms)); err != nil {
		return nil, err
	}
	g := &s.geoms[id]
	stride := g.Layout.Stride()

	return func(yield func(geom.Coordinate) bool) {
		for i := 0; i+stride <= len(g.Flat); i += stride {
			if !yield(geom.FromFlat(g.Flat[i:i+stride], g.Layout)) {
				return
			}
		}
	}, nil
}

func (s *Store) NumParts(id geom.GeometryID) (int, error) {
	if err := geom.CheckID("NumParts", id, len(s.geoms)); err != nil {
		return 0, err
	}
	return len(s.geoms[id].Ends), nil
}

func (s *Store) PartRange(id geom.GeometryID, part int) (int, int, error) {
	if err := geom.CheckID("PartRange", id, len(s.geoms)); err != nil {
		return 0, 0, err
	}
	return geom.PartRangeFromEnds("PartRange", id, s.geoms[id].Ends, part)
}

func (s *Store) NumMembers(id geom.GeometryID) (int, error) {
	if err := geom.CheckID("NumMembers", id, len(s.geoms)); err != nil {
		return 0, err
	}
	return len(s.geoms[id].Members), nil
}

func (s *Store) MemberAt(id geom.GeometryID, k int) (geom.Member, error) {
	if err := geom.CheckID("MemberAt", id, len(s.geoms)); err != nil {
		return geom.Member{}, err
	}
	members := s.geoms[id].Members
	if err := geom.CheckIndex("MemberAt", id, k, len(members)); err != nil {
		return geom.Member{}, err
	}
	return members[k], nil
}

// FlatCoords lends the flat coordinate slice of a geometry.
func (s *Store) FlatCoords(id geom.GeometryID) ([]float64, int, error) {
	if err := geom.CheckID("FlatCoords", id, len(s.geoms)); err != nil {
		return nil, 0, err
	}
	return s.geoms[id].Flat, s.layout.Stride(), nil
}

// FromDataset copies every geometry of ds into a new Store.
func FromDataset(ds geom.Dataset) (*Store, error) {
	s := &Store{layout: ds.Layout()}

	for i := range ds.NumGeometries() {
		id := geom.GeometryID(i)

		typ, err := ds.TypeOf(id)
		if err != nil {
			return nil, err
		}
		parts, err := geom.Parts(ds, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read geometry %d: %w", id, err)
		}
		var g Geometry
		if typ.Composite() {
			g, err = copyComposite(ds, id, typ, s.layout, parts)
		} else {
			g, err = NewGeometry(typ, s.layout, parts)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to copy geometry %d: %w", id, err)
		}
		if _, err := s.Add(g, nil); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func copyComposite(ds geom.Dataset, id geom.GeometryID, typ geom.GeometryType, layout geom.Layout, parts [][]geom.Coordinate) (Geometry, error) {
	members, err := geom.Members(ds, id)
	if err != nil {
		return Geometry{}, err
	}
	return NewComposite(typ, layout, parts, members)
}
