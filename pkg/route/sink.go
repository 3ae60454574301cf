package route

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// Sink writes the vertex table into a parquet file inside dir and returns the
// file path. An empty dir creates a temporary directory that is removed on
// Release.
func (r *Routes) Sink(dir string) (string, error) {
	if len(r.records) == 0 {
		return "", fmt.Errorf("records are empty")
	}

	if dir == "" {
		tempDir, err := os.MkdirTemp("", "lrs_route_*")
		if err != nil {
			return "", fmt.Errorf("failed to create temporary directory: %w", err)
		}
		r.tempDir = tempDir
		dir = tempDir
	}

	filePath := filepath.Join(dir, "routes.parquet")

	f, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	// the writer owns f from here and closes it on Close
	schema := r.records[0].Schema()
	writer, err := pqarrow.NewFileWriter(
		schema,
		f,
		parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.DefaultWriterProps(),
	)
	if err != nil {
		return "", errors.Join(fmt.Errorf("failed to create parquet writer: %w", err), f.Close())
	}

	if err := writeRecords(writer, schema, r.records); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close parquet writer: %w", closeErr))
		}
		return "", err
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close parquet writer: %w", err)
	}

	return filePath, nil
}

func writeRecords(writer *pqarrow.FileWriter, schema *arrow.Schema, recs []arrow.RecordBatch) error {
	for _, rec := range recs {
		if !rec.Schema().Equal(schema) {
			return fmt.Errorf("record schemas differ, cannot write one parquet file")
		}
		if err := writer.WriteBuffered(rec); err != nil {
			return fmt.Errorf("failed to write record batch: %w", err)
		}
	}
	return nil
}

// NewRoutesFromParquet loads a vertex table written by Sink, or any parquet
// file with the same columns.
func NewRoutesFromParquet(ctx context.Context, path string, mem memory.Allocator, opts ...Option) (*Routes, error) {
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

	reader := array.NewTableReader(tbl, 0)
	defer reader.Release()

	recs := make([]arrow.RecordBatch, 0)
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	for reader.Next() {
		rec := reader.RecordBatch()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := reader.Err(); err != nil {
		return nil, fmt.Errorf("failed to read record batches: %w", err)
	}

	return NewRoutes(recs, opts...)
}
