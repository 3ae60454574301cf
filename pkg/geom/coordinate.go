package geom

import (
	"fmt"
	"math"
)

// Layout says which ordinates of a Coordinate carry data.
type Layout int

const (
	NoLayout Layout = iota
	XY
	XYZ
	XYM
	XYZM
)

// Stride is the number of ordinates stored per coordinate.
func (l Layout) Stride() int {
	switch l {
	case XY:
		return 2
	case XYZ, XYM:
		return 3
	case XYZM:
		return 4
	}
	return 0
}

func (l Layout) HasZ() bool {
	return l == XYZ || l == XYZM
}

func (l Layout) HasM() bool {
	return l == XYM || l == XYZM
}

func (l Layout) String() string {
	switch l {
	case XY:
		return "XY"
	case XYZ:
		return "XYZ"
	case XYM:
		return "XYM"
	case XYZM:
		return "XYZM"
	}
	return "NoLayout"
}

// ParseLayout is the inverse of Layout.String.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "XY", "xy", "":
		return XY, nil
	case "XYZ", "xyz":
		return XYZ, nil
	case "XYM", "xym":
		return XYM, nil
	case "XYZM", "xyzm":
		return XYZM, nil
	}
	return NoLayout, fmt.Errorf("unknown layout %q", s)
}

// LayoutOf builds a layout from the presence of the optional ordinates.
func LayoutOf(hasZ, hasM bool) Layout {
	switch {
	case hasZ && hasM:
		return XYZM
	case hasZ:
		return XYZ
	case hasM:
		return XYM
	}
	return XY
}

// Coordinate is one vertex. Ordinates absent from the backend layout are zero.
type Coordinate struct {
	X float64
	Y float64
	Z float64
	M float64
}

// FromFlat reads the coordinate starting at flat[0] for the given layout.
func FromFlat(flat []float64, layout Layout) Coordinate {
	c := Coordinate{X: flat[0], Y: flat[1]}
	switch layout {
	case XYZ:
		c.Z = flat[2]
	case XYM:
		c.M = flat[2]
	case XYZM:
		c.Z = flat[2]
		c.M = flat[3]
	}
	return c
}

// AppendFlat appends the ordinates meaningful for layout to dst.
func (c Coordinate) AppendFlat(dst []float64, layout Layout) []float64 {
	dst = append(dst, c.X, c.Y)
	switch layout {
	case XYZ:
		dst = append(dst, c.Z)
	case XYM:
		dst = append(dst, c.M)
	case XYZM:
		dst = append(dst, c.Z, c.M)
	}
	return dst
}

// Bounds is an axis aligned box on X and Y. The zero value is not empty; use
// EmptyBounds.
type Bounds struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

func EmptyBounds() Bounds {
	return Bounds{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
}

func (b Bounds) IsEmpty() bool {
	return b.MinX > b.MaxX || b.MinY > b.MaxY
}

// Extend grows b to contain c.
func (b Bounds) Extend(c Coordinate) Bounds {
	b.MinX = math.Min(b.MinX, c.X)
	b.MinY = math.Min(b.MinY, c.Y)
	b.MaxX = math.Max(b.MaxX, c.X)
	b.MaxY = math.Max(b.MaxY, c.Y)
	return b
}

func (b Bounds) Intersects(o Bounds) bool {
	if b.IsEmpty() || o.IsEmpty() {
		return false
	}
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX && b.MinY <= o.MaxY && o.MinY <= b.MaxY
}
