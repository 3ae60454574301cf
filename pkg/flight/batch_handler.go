package flight

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
	"github.com/rs/zerolog/log"
)

// ParquetBatchHandler spills received record batches to parquet files so a
// large exchange does not hold every batch in memory while it is received.
type ParquetBatchHandler struct {
	tempDir      string
	currentFiles []string
	schema       *arrow.Schema
	batchIndex   int
}

// NewParquetBatchHandler creates a new handler for managing parquet file batches
func NewParquetBatchHandler() (*ParquetBatchHandler, error) {
	tempDir, err := os.MkdirTemp("", "geoaccess_flight_batch_*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary directory: %w", err)
	}

	return &ParquetBatchHandler{tempDir: tempDir}, nil
}

// Spilled reports whether any batch was written to disk.
func (h *ParquetBatchHandler) Spilled() bool {
	return len(h.currentFiles) > 0
}

// AddRecordBatches writes the batches into one new parquet file.
func (h *ParquetBatchHandler) AddRecordBatches(recs []arrow.RecordBatch) error {
	if len(recs) == 0 {
		return nil
	}
	if h.schema == nil {
		h.schema = recs[0].Schema()
	}

	h.batchIndex++
	filePath := filepath.Join(h.tempDir, fmt.Sprintf("batch_%d.parquet", h.batchIndex))

	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	writer, err := pqarrow.NewFileWriter(
		h.schema,
		f,
		parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.DefaultWriterProps(),
	)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create parquet writer: %w", err), f.Close())
	}

	var rows int64
	for _, rec := range recs {
		if !rec.Schema().Equal(h.schema) {
			return errors.Join(errors.New("record batch schema differs from the first batch"), writer.Close())
		}
		if err := writer.WriteBuffered(rec); err != nil {
			return errors.Join(fmt.Errorf("failed to write record batch: %w", err), writer.Close())
		}
		rows += rec.NumRows()
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}

	log.Debug().Int("batch", h.batchIndex).Int64("rows", rows).Str("path", filePath).Msg("Spilled record batches")
	h.currentFiles = append(h.currentFiles, filePath)
	return nil
}

// ReadAll reads back every spilled batch in the order it was written. The
// caller releases the returned batches.
func (h *ParquetBatchHandler) ReadAll(ctx context.Context, mem memory.Allocator) ([]arrow.RecordBatch, error) {
	var recs []arrow.RecordBatch
	fail := func(err error) ([]arrow.RecordBatch, error) {
		for _, rec := range recs {
			rec.Release()
		}
		return nil, err
	}

	for _, filePath := range h.currentFiles {
		f, err := os.Open(filePath)
		if err != nil {
			return fail(fmt.Errorf("failed to open parquet file %s: %w", filePath, err))
		}

		tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
		f.Close()
		if err != nil {
			return fail(fmt.Errorf("failed to read parquet file %s: %w", filePath, err))
		}

		reader := array.NewTableReader(tbl, 0)
		for reader.Next() {
			rec := reader.RecordBatch()
			rec.Retain()
			recs = append(recs, rec)
		}
		err = reader.Err()
		reader.Release()
		tbl.Release()
		if err != nil {
			return fail(fmt.Errorf("error reading records from %s: %w", filePath, err))
		}
	}

	return recs, nil
}

// Cleanup removes the temporary directory and all files
func (h *ParquetBatchHandler) Cleanup() error {
	if h.tempDir != "" {
		return os.RemoveAll(h.tempDir)
	}
	return nil
}
