package geom

import "fmt"

// First returns the first coordinate of a geometry.
func First(a GeometryAccessor, id GeometryID) (Coordinate, error) {
	return a.CoordinateAt(id, 0)
}

// Last returns the last coordinate of a geometry. An empty geometry fails with
// ErrOutOfBounds.
func Last(a GeometryAccessor, id GeometryID) (Coordinate, error) {
	n, err := a.Len(id)
	if err != nil {
		return Coordinate{}, err
	}
	if n == 0 {
		return Coordinate{}, OutOfBounds("Last", id, 0, 0)
	}
	return a.CoordinateAt(id, n-1)
}

// Collect copies the coordinates of a geometry using sequential access only.
func Collect(a GeometryAccessor, id GeometryID) ([]Coordinate, error) {
	n, err := a.Len(id)
	if err != nil {
		return nil, err
	}
	seq, err := a.Coordinates(id)
	if err != nil {
		return nil, err
	}

	out := make([]Coordinate, 0, n)
	for c := range seq {
		out = append(out, c)
	}
	return out, nil
}

// Parts materializes the parts of a geometry. Only sequential access is used,
// so it works on backends without random access.
func Parts(ds Dataset, id GeometryID) ([][]Coordinate, error) {
	coords, err := Collect(ds, id)
	if err != nil {
		return nil, err
	}

	numParts, err := ds.NumParts(id)
	if err != nil {
		return nil, err
	}

	out := make([][]Coordinate, 0, numParts)
	for p := range numParts {
		start, end, err := ds.PartRange(id, p)
		if err != nil {
			return nil, err
		}
		if start < 0 || end < start || end > len(coords) {
			return nil, fmt.Errorf("part %d of geometry %d has invalid range [%d, %d) for %d coordinates", p, id, start, end, len(coords))
		}
		out = append(out, coords[start:end])
	}
	return out, nil
}

// PartRangeFromEnds resolves a part range from cumulative end offsets, the
// representation shared by most backends.
func PartRangeFromEnds(op string, id GeometryID, ends []int, part int) (int, int, error) {
	if part < 0 || part >= len(ends) {
		return 0, 0, &AccessError{Op: op, ID: id, Index: part, Len: len(ends), Err: ErrOutOfBounds}
	}
	start := 0
	if part > 0 {
		start = ends[part-1]
	}
	return start, ends[part], nil
}

// Members returns the members of a geometry. A non composite geometry is its
// own single member spanning all its parts. A composite geometry on a backend
// without MemberAccessor fails with ErrUnavailable.
func Members(ds Dataset, id GeometryID) ([]Member, error) {
	typ, err := ds.TypeOf(id)
	if err != nil {
		return nil, err
	}
	if !typ.Composite() {
		n, err := ds.NumParts(id)
		if err != nil {
			return nil, err
		}
		return []Member{{Type: typ, StartPart: 0, EndPart: n}}, nil
	}

	ma, ok := ds.(MemberAccessor)
	if !ok {
		return nil, Unavailable("Members", id, nil)
	}
	n, err := ma.NumMembers(id)
	if err != nil {
		return nil, err
	}
	out := make([]Member, 0, n)
	for k := range n {
		m, err := ma.MemberAt(id, k)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
