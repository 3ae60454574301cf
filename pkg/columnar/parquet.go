package columnar

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// sinkWriter hides Close from pqarrow, which closes any sink that has one.
type sinkWriter struct {
	io.Writer
}

// WriteParquet writes the column as a snappy compressed Parquet file. The
// arrow schema is stored so the geometry type survives the round trip. w is
// left open; closing it stays with the caller.
func WriteParquet(w io.Writer, col *Column) error {
	rec := col.Record()
	defer rec.Release()

	writer, err := pqarrow.NewFileWriter(
		rec.Schema(),
		sinkWriter{w},
		parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()),
	)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write record batch: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// ReadParquet loads the named geometry column of a Parquet file.
func ReadParquet(ctx context.Context, path string, name string, mem memory.Allocator) (*Column, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer f.Close()

	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet file: %w", err)
	}
	defer tbl.Release()

	indices := tbl.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return nil, fmt.Errorf("geometry column %s not found in %s", name, path)
	}

	column := tbl.Column(indices[0])
	chunks := column.Data().Chunks()

	var arr arrow.Array
	switch len(chunks) {
	case 0:
		return nil, fmt.Errorf("geometry column %s in %s has no data", name, path)
	case 1:
		arr = chunks[0]
		arr.Retain()
	default:
		arr, err = array.Concatenate(chunks, mem)
		if err != nil {
			return nil, fmt.Errorf("failed to concatenate column chunks: %w", err)
		}
	}
	defer arr.Release()

	return NewColumn(column.Field(), arr)
}
