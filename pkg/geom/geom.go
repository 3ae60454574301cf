// Package geom defines the read-only coordinate access capabilities that every
// geometry storage backend implements, and the value types they return.
//
// Algorithms depend on these capabilities only. They never assume a storage
// layout, array contiguity, or that anything returned outlives the call that
// produced it, with the single exception of FlatAccessor.
package geom

import "iter"

type GeometryType string

const (
	POINT           GeometryType = "Point"
	LINESTRING      GeometryType = "LineString"
	POLYGON         GeometryType = "Polygon"
	MULTIPOINT      GeometryType = "MultiPoint"
	MULTILINESTRING GeometryType = "MultiLineString"

	MULTIPOLYGON       GeometryType = "MultiPolygon"
	GEOMETRYCOLLECTION GeometryType = "GeometryCollection"
)

// Valid reports whether t is one of the supported geometry types.
func (t GeometryType) Valid() bool {
	switch t {
	case POINT, LINESTRING, POLYGON, MULTIPOINT, MULTILINESTRING:
		return true
	}
	return t.Composite()
}

// Composite reports whether geometries of type t are made of members, each a
// geometry of its own type. Their parts alone do not describe them, see
// MemberAccessor.
func (t GeometryType) Composite() bool {
	return t == MULTIPOLYGON || t == GEOMETRYCOLLECTION
}

// GeometryID is the position of a geometry inside its backend.
type GeometryID int

// CoordinateAccessor gives random access to single coordinates.
type CoordinateAccessor interface {
	// CoordinateAt returns the index-th coordinate of the geometry by value.
	// It fails with ErrOutOfBounds when index is outside [0, Len(id)) and with
	// ErrUnavailable when the backend has no random access.
	CoordinateAt(id GeometryID, index int) (Coordinate, error)
}

// GeometryAccessor exposes the coordinates composing one geometry.
type GeometryAccessor interface {
	CoordinateAccessor

	// Len returns the number of coordinates of the geometry.
	Len(id GeometryID) (int, error)

	// Coordinates returns the coordinates in storage order. The sequence is
	// finite and restartable: ranging over it again starts from the first
	// coordinate.
	Coordinates(id GeometryID) (iter.Seq[Coordinate], error)
}

// PartAccessor exposes the parts of a geometry (polygon rings, member lines of
// a multi line string) as half-open coordinate index ranges. Points, line
// strings and multi points have a single part, or none when empty. The parts
// of a composite geometry are the parts of its members, in member order.
type PartAccessor interface {
	NumParts(id GeometryID) (int, error)
	PartRange(id GeometryID, part int) (start, end int, err error)
}

// Dataset is the full read surface of a backend holding many geometries.
type Dataset interface {
	GeometryAccessor
	PartAccessor

	NumGeometries() int
	TypeOf(id GeometryID) (GeometryType, error)
	Layout() Layout
}

// Member is one geometry of a composite geometry, spanning the half-open part
// range [StartPart, EndPart) of its parent.
type Member struct {
	Type      GeometryType
	StartPart int
	EndPart   int
}

// MemberAccessor is an optional capability of backends holding composite
// geometries. Members of a multi polygon are polygons; members of a geometry
// collection are of any non composite type. Non composite geometries have no
// members.
type MemberAccessor interface {
	NumMembers(id GeometryID) (int, error)
	MemberAt(id GeometryID, k int) (Member, error)
}

// FlatAccessor is an optional bulk capability. The returned slice aliases
// backend storage: callers must not modify it, and it is only valid while the
// backend is alive.
type FlatAccessor interface {
	FlatCoords(id GeometryID) (coords []float64, stride int, err error)
}
