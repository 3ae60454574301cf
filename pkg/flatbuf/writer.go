package flatbuf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"geo-access/pkg/geom"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
)

type writeOptions struct {
	index    bool
	compress bool
}

type WriteOption func(*writeOptions)

// WithIndex writes the record offset table, giving readers random access.
func WithIndex(enable bool) WriteOption {
	return func(o *writeOptions) {
		o.index = enable
	}
}

// WithCompression wraps the buffer in a zstd frame.
func WithCompression(enable bool) WriteOption {
	return func(o *writeOptions) {
		o.compress = enable
	}
}

type recordInfo struct {
	typ  geom.GeometryType
	ends []int
}

// Write encodes every geometry of ds into w.
func Write(w io.Writer, ds geom.Dataset, opts ...WriteOption) error {
	o := writeOptions{index: true}
	for _, opt := range opts {
		opt(&o)
	}

	layout := ds.Layout()
	stride := layout.Stride()
	count := ds.NumGeometries()
	if count > math.MaxUint32 {
		return fmt.Errorf("too many geometries: %d", count)
	}

	// First pass for the record sizes.
	infos := make([]recordInfo, count)
	for i := range count {
		id := geom.GeometryID(i)
		typ, err := ds.TypeOf(id)
		if err != nil {
			return err
		}
		if _, ok := typeCodes[typ]; !ok {
			return fmt.Errorf("%w: geometry %d is a %s", ErrUnsupportedType, id, typ)
		}
		numParts, err := ds.NumParts(id)
		if err != nil {
			return err
		}
		ends := make([]int, numParts)
		for p := range numParts {
			if _, ends[p], err = ds.PartRange(id, p); err != nil {
				return err
			}
		}
		infos[i] = recordInfo{typ: typ, ends: ends}
	}

	out := w
	var enc *zstd.Encoder
	closeEncoder := func() error {
		if enc == nil {
			return nil
		}
		e := enc
		enc = nil
		return e.Close()
	}
	defer closeEncoder()

	if o.compress {
		var err error
		enc, err = zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		out = enc
	}
	bw := bufio.NewWriter(out)

	var scratch [8]byte
	put8 := func(v byte) {
		bw.WriteByte(v)
	}
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:4], v)
		bw.Write(scratch[:4])
	}
	put64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		bw.Write(scratch[:])
	}

	var flags byte
	if o.index {
		flags |= FlagIndex
	}
	bw.WriteString(magic)
	put8(version)
	put8(flags)
	put8(byte(layout))
	put8(0)
	put32(uint32(count))

	if o.index {
		var offset uint64
		put64(offset)
		for _, info := range infos {
			n := 0
			if len(info.ends) > 0 {
				n = info.ends[len(info.ends)-1]
			}
			offset += uint64(recordSize(len(info.ends), n, stride))
			put64(offset)
		}
	}

	flat := make([]float64, 0, stride)
	for i, info := range infos {
		id := geom.GeometryID(i)

		put8(typeCodes[info.typ])
		put32(uint32(len(info.ends)))
		for _, end := range info.ends {
			put32(uint32(end))
		}

		seq, err := ds.Coordinates(id)
		if err != nil {
			return err
		}
		written := 0
		for c := range seq {
			flat = c.AppendFlat(flat[:0], layout)
			for _, v := range flat {
				put64(math.Float64bits(v))
			}
			written++
		}

		want := 0
		if len(info.ends) > 0 {
			want = info.ends[len(info.ends)-1]
		}
		if written != want {
			return fmt.Errorf("geometry %d yielded %d coordinates, parts end at %d", i, written, want)
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write buffer: %w", err)
	}
	if err := closeEncoder(); err != nil {
		return fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return nil
}
