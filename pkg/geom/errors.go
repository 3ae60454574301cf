package geom

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds = errors.New("geom: coordinate index out of bounds")
	ErrUnavailable = errors.New("geom: access mode unavailable")
	ErrNotFound    = errors.New("geom: geometry not found")
)

// AccessError describes a failed capability call. Match the kind with
// errors.Is against the package sentinels.
type AccessError struct {
	Op    string
	ID    GeometryID
	Index int
	Len   int
	Err   error
}

func (e *AccessError) Error() string {
	if errors.Is(e.Err, ErrOutOfBounds) {
		return fmt.Sprintf("%s: geometry %d: index %d not in [0, %d): %v", e.Op, e.ID, e.Index, e.Len, e.Err)
	}
	return fmt.Sprintf("%s: geometry %d: %v", e.Op, e.ID, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// OutOfBounds builds the error returned when index is not below n.
func OutOfBounds(op string, id GeometryID, index, n int) error {
	return &AccessError{Op: op, ID: id, Index: index, Len: n, Err: ErrOutOfBounds}
}

// NotFound builds the error returned for an unknown geometry id.
func NotFound(op string, id GeometryID) error {
	return &AccessError{Op: op, ID: id, Index: -1, Err: ErrNotFound}
}

// Unavailable builds the error returned when the backend cannot serve op.
// reason is wrapped so callers can still match backend specific errors.
func Unavailable(op string, id GeometryID, reason error) error {
	err := ErrUnavailable
	if reason != nil {
		err = fmt.Errorf("%w: %w", ErrUnavailable, reason)
	}
	return &AccessError{Op: op, ID: id, Index: -1, Err: err}
}

// CheckID validates a geometry id against the number of geometries.
func CheckID(op string, id GeometryID, count int) error {
	if id < 0 || int(id) >= count {
		return NotFound(op, id)
	}
	return nil
}

// CheckIndex validates a coordinate index against the coordinate count n.
func CheckIndex(op string, id GeometryID, index, n int) error {
	if index < 0 || index >= n {
		return OutOfBounds(op, id, index, n)
	}
	return nil
}
