package flatbuf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"geo-access/pkg/geom"
	"iter"
	"math"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type openOptions struct {
	scanIndex      bool
	maxDecodedSize uint64
}

type OpenOption func(*openOptions)

// WithScanIndex builds the record offsets while opening a buffer that was
// written without an index.
func WithScanIndex() OpenOption {
	return func(o *openOptions) {
		o.scanIndex = true
	}
}

// WithMaxDecodedSize bounds the size of a decompressed buffer, in bytes.
// Larger buffers fail with ErrInvalidData. The default is
// DefaultMaxDecodedSize.
func WithMaxDecodedSize(n uint64) OpenOption {
	return func(o *openOptions) {
		o.maxDecodedSize = n
	}
}

// Buffer is a geom.Dataset over an encoded buffer. Without record offsets it
// only supports sequential access: CoordinateAt fails with ErrUnavailable and
// finding a geometry walks the records before it.
type Buffer struct {
	data    []byte
	records []byte
	layout  geom.Layout
	stride  int
	count   int
	offsets []int
}

// record is a decoded record header.
type record struct {
	typ    geom.GeometryType
	ends   []byte
	parts  int
	coords []byte
	n      int
}

func (r record) end(part int) int {
	return int(binary.LittleEndian.Uint32(r.ends[4*part:]))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidData, fmt.Sprintf(format, args...))
}

// Open validates data and returns a dataset reading from it. data must not be
// modified while the Buffer is in use. A zstd framed buffer is decompressed
// first.
func Open(data []byte, opts ...OpenOption) (*Buffer, error) {
	o := openOptions{maxDecodedSize: DefaultMaxDecodedSize}
	for _, opt := range opts {
		opt(&o)
	}

	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(max(o.maxDecodedSize, 1)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		data, err = dec.DecodeAll(data, nil)
		dec.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidData, err)
		}
	}

	if len(data) < headerSize {
		return nil, invalid("buffer of %d bytes is shorter than the header", len(data))
	}
	if string(data[:4]) != magic {
		return nil, invalid("bad magic %q", data[:4])
	}
	if data[4] != version {
		return nil, invalid("unsupported version %d", data[4])
	}
	flags := data[5]

	b := &Buffer{
		data:   data,
		layout: geom.Layout(data[6]),
		count:  int(binary.LittleEndian.Uint32(data[8:12])),
	}
	b.stride = b.layout.Stride()
	if b.stride == 0 {
		return nil, invalid("unknown layout %d", data[6])
	}

	rest := data[headerSize:]
	if flags&FlagIndex != 0 {
		size := 8 * (b.count + 1)
		if len(rest) < size {
			return nil, invalid("index of %d geometries is truncated", b.count)
		}
		b.offsets = make([]int, b.count+1)
		for i := range b.offsets {
			b.offsets[i] = int(binary.LittleEndian.Uint64(rest[8*i:]))
		}
		rest = rest[size:]
	}
	b.records = rest
	if b.count > len(b.records)/minRecordSize {
		return nil, invalid("%d geometries do not fit %d bytes of records", b.count, len(b.records))
	}

	// Validate every record, keeping the offsets when asked to.
	var scanned []int
	if b.offsets == nil && o.scanIndex {
		scanned = make([]int, 0, b.count+1)
	}
	off := 0
	for i := range b.count {
		if b.offsets != nil && b.offsets[i] != off {
			return nil, invalid("index offset %d of geometry %d does not match record at %d", b.offsets[i], i, off)
		}
		if scanned != nil {
			scanned = append(scanned, off)
		}
		_, next, err := b.decode(off)
		if err != nil {
			return nil, fmt.Errorf("geometry %d: %w", i, err)
		}
		off = next
	}
	if off != len(b.records) {
		return nil, invalid("%d trailing bytes after the last record", len(b.records)-off)
	}
	if b.offsets != nil && b.offsets[b.count] != off {
		return nil, invalid("index end %d does not match buffer end %d", b.offsets[b.count], off)
	}
	if scanned != nil {
		b.offsets = append(scanned, off)
	}

	return b, nil
}

// decode reads the record starting at off and returns the offset after it.
func (b *Buffer) decode(off int) (record, int, error) {
	buf := b.records
	if off+minRecordSize > len(buf) {
		return record{}, 0, invalid("record header at %d is truncated", off)
	}

	typ, ok := typeFromCode(buf[off])
	if !ok {
		return record{}, 0, invalid("unknown geometry type code %d", buf[off])
	}
	parts := int(binary.LittleEndian.Uint32(buf[off+1:]))
	off += minRecordSize

	if parts > (len(buf)-off)/4 {
		return record{}, 0, invalid("%d part ends do not fit the buffer", parts)
	}
	r := record{typ: typ, parts: parts, ends: buf[off : off+4*parts]}
	off += 4 * parts

	prev := 0
	for p := range parts {
		end := r.end(p)
		if end < prev || (p > 0 && end == prev) {
			return record{}, 0, invalid("part ends are not increasing")
		}
		prev = end
	}
	r.n = prev

	switch typ {
	case geom.POINT:
		if r.n > 1 {
			return record{}, 0, invalid("point with %d coordinates", r.n)
		}
		fallthrough
	case geom.LINESTRING, geom.MULTIPOINT:
		if parts > 1 {
			return record{}, 0, invalid("%s with %d parts", typ, parts)
		}
	}

	size := 8 * b.stride * r.n
	if r.n > (len(buf)-off)/(8*b.stride) {
		return record{}, 0, invalid("%d coordinates do not fit the buffer", r.n)
	}
	r.coords = buf[off : off+size]

	return r, off + size, nil
}

// find locates the record of a geometry, walking the records when the buffer
// has no offsets.
func (b *Buffer) find(op string, id geom.GeometryID) (record, error) {
	if err := geom.CheckID(op, id, b.count); err != nil {
		return record{}, err
	}

	off := 0
	if b.offsets != nil {
		off = b.offsets[id]
	} else {
		for range int(id) {
			_, next, err := b.decode(off)
			if err != nil {
				return record{}, err
			}
			off = next
		}
	}

	r, _, err := b.decode(off)
	return r, err
}

func (b *Buffer) coord(r record, i int) geom.Coordinate {
	var flat [4]float64
	base := 8 * b.stride * i
	for k := range b.stride {
		flat[k] = math.Float64frombits(binary.LittleEndian.Uint64(r.coords[base+8*k:]))
	}
	return geom.FromFlat(flat[:b.stride], b.layout)
}

// Indexed reports whether the buffer supports random access.
func (b *Buffer) Indexed() bool {
	return b.offsets != nil
}

// Bytes returns the decoded buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) NumGeometries() int {
	return b.count
}

func (b *Buffer) Layout() geom.Layout {
	return b.layout
}

func (b *Buffer) TypeOf(id geom.GeometryID) (geom.GeometryType, error) {
	r, err := b.find("TypeOf", id)
	if err != nil {
		return "", err
	}
	return r.typ, nil
}

func (b *Buffer) Len(id geom.GeometryID) (int, error) {
	r, err := b.find("Len", id)
	if err != nil {
		return 0, err
	}
	return r.n, nil
}

func (b *Buffer) CoordinateAt(id geom.GeometryID, index int) (geom.Coordinate, error) {
	if err := geom.CheckID("CoordinateAt", id, b.count); err != nil {
		return geom.Coordinate{}, err
	}
	if b.offsets == nil {
		return geom.Coordinate{}, geom.Unavailable("CoordinateAt", id, ErrNoIndex)
	}

	r, err := b.find("CoordinateAt", id)
	if err != nil {
		return geom.Coordinate{}, err
	}
	if err := geom.CheckIndex("CoordinateAt", id, index, r.n); err != nil {
		return geom.Coordinate{}, err
	}
	return b.coord(r, index), nil
}

func (b *Buffer) Coordinates(id geom.GeometryID) (iter.Seq[geom.Coordinate], error) {
	r, err := b.find("Coordinates", id)
	if err != nil {
		return nil, err
	}

	return func(yield func(geom.Coordinate) bool) {
		for i := range r.n {
			if !yield(b.coord(r, i)) {
				return
			}
		}
	}, nil
}

func (b *Buffer) NumParts(id geom.GeometryID) (int, error) {
	r, err := b.find("NumParts", id)
	if err != nil {
		return 0, err
	}
	return r.parts, nil
}

func (b *Buffer) PartRange(id geom.GeometryID, part int) (int, int, error) {
	r, err := b.find("PartRange", id)
	if err != nil {
		return 0, 0, err
	}
	if part < 0 || part >= r.parts {
		return 0, 0, &geom.AccessError{Op: "PartRange", ID: id, Index: part, Len: r.parts, Err: geom.ErrOutOfBounds}
	}

	start := 0
	if part > 0 {
		start = r.end(part - 1)
	}
	return start, r.end(part), nil
}
