// Package flatbuf reads and writes geometries in a flat little-endian binary
// buffer:
//
//	header   magic "GACF" | version u8 | flags u8 | layout u8 | reserved u8 | count u32
//	index    (count+1) u64 record offsets, present when flags has FlagIndex
//	records  type u8 | parts u32 | ends u32 * parts | coords f64 * stride * n
//
// Record offsets are relative to the first record. The whole buffer may be
// wrapped in a zstd frame.
package flatbuf

import (
	"errors"
	"geo-access/pkg/geom"
)

const (
	magic      = "GACF"
	version    = 1
	headerSize = 12

	// minRecordSize is the size of an empty record: type and part count.
	minRecordSize = 5

	// DefaultMaxDecodedSize bounds the decompressed size of a zstd buffer.
	DefaultMaxDecodedSize = 1 << 30

	// FlagIndex marks a buffer carrying the record offset table.
	FlagIndex = 1 << 0
)

var (
	ErrInvalidData = errors.New("flatbuf: invalid data")
	ErrNoIndex     = errors.New("flatbuf: buffer has no record index")

	// ErrUnsupportedType is returned by Write for composite geometries.
	ErrUnsupportedType = errors.New("flatbuf: unsupported geometry type")
)

var typeCodes = map[geom.GeometryType]byte{
	geom.POINT:           1,
	geom.LINESTRING:      2,
	geom.POLYGON:         3,
	geom.MULTIPOINT:      4,
	geom.MULTILINESTRING: 5,
}

func typeFromCode(code byte) (geom.GeometryType, bool) {
	for typ, c := range typeCodes {
		if c == code {
			return typ, true
		}
	}
	return "", false
}

// recordSize is the encoded size of a record.
func recordSize(parts, coords, stride int) int {
	return 1 + 4 + 4*parts + 8*stride*coords
}
