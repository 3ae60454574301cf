package main

import (
	"context"
	"fmt"
	"geo-access/pkg/catalog"
	"geo-access/pkg/columnar"
	"geo-access/pkg/duck"
	"geo-access/pkg/flatbuf"
	"geo-access/pkg/geom"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var outputExt = map[string]string{
	catalog.FormatFlatbuf: ".gacf",
	catalog.FormatParquet: ".parquet",
	catalog.FormatDuckDB:  ".duckdb",
}

func newConvertCmd(root *rootOptions) *cobra.Command {
	var (
		src      catalog.DatasetConfig
		to       string
		out      string
		compress bool
		noIndex  bool
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Copy a dataset into flatbuf, parquet or duckdb storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ext, ok := outputExt[to]
			if !ok {
				return fmt.Errorf("cannot convert to %q, expected flatbuf, parquet or duckdb", to)
			}
			if out == "" {
				base := strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))
				out = filepath.Join(root.cfg.DataDir, base+ext)
			}

			ds, closer, err := catalog.Open(cmd.Context(), src, memory.DefaultAllocator)
			if err != nil {
				return err
			}
			defer closer()

			if err := convert(cmd.Context(), ds, to, out, !noIndex, compress); err != nil {
				return err
			}

			log.Info().
				Str("from", src.Format).
				Str("to", to).
				Str("out", out).
				Int("geometries", ds.NumGeometries()).
				Msg("Dataset converted")
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&src.Format, "from", "", "Source format: geojson, esri, routes, events, parquet, flatbuf, duckdb")
	cmd.Flags().StringVarP(&src.Path, "path", "p", "", "Source dataset path")
	cmd.Flags().StringVar(&src.Column, "column", "", "Geometry column (parquet) or route id attribute (esri)")
	cmd.Flags().StringVar(&to, "to", catalog.FormatFlatbuf, "Target format: flatbuf, parquet or duckdb")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (default GEOACCESS_DATA_DIR/<name><ext>)")
	cmd.Flags().BoolVar(&compress, "compress", false, "Compress flatbuf output with zstd")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "Write flatbuf output without the record index")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("path")
	return cmd
}

func convert(ctx context.Context, ds geom.Dataset, to, out string, index, compress bool) error {
	switch to {
	case catalog.FormatFlatbuf:
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := flatbuf.Write(f, ds, flatbuf.WithIndex(index), flatbuf.WithCompression(compress)); err != nil {
			f.Close()
			return err
		}
		return f.Close()

	case catalog.FormatParquet:
		col, err := columnar.FromDataset(ds, memory.DefaultAllocator)
		if err != nil {
			return err
		}
		defer col.Release()

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := columnar.WriteParquet(f, col); err != nil {
			f.Close()
			return err
		}
		return f.Close()

	case catalog.FormatDuckDB:
		store, err := duck.Open(ctx, out)
		if err != nil {
			return err
		}
		if err := store.Load(ctx, ds); err != nil {
			store.Close()
			return err
		}
		return store.Close()
	}

	return fmt.Errorf("%w: %q", catalog.ErrUnknownFormat, to)
}
