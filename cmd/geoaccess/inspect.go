package main

import (
	"fmt"
	"geo-access/pkg/algorithm"
	"geo-access/pkg/catalog"
	"geo-access/pkg/geom"
	"text/tabwriter"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/spf13/cobra"
)

func newInspectCmd(root *rootOptions) *cobra.Command {
	var (
		dc    catalog.DatasetConfig
		limit int
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a summary of every geometry of a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, closer, err := catalog.Open(cmd.Context(), dc, memory.DefaultAllocator)
			if err != nil {
				return err
			}
			defer closer()

			return inspect(cmd, ds, limit)
		},
	}

	cmd.Flags().StringVarP(&dc.Format, "format", "f", "", "Dataset format: geojson, esri, routes, events, parquet, flatbuf, duckdb")
	cmd.Flags().StringVarP(&dc.Path, "path", "p", "", "Dataset path")
	cmd.Flags().StringVar(&dc.Column, "column", "", "Geometry column (parquet) or route id attribute (esri)")
	cmd.Flags().BoolVar(&dc.ScanIndex, "scan-index", false, "Index unindexed flat buffers while opening")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of geometries to print, 0 for all")
	cmd.MarkFlagRequired("format")
	cmd.MarkFlagRequired("path")
	return cmd
}

func inspect(cmd *cobra.Command, ds geom.Dataset, limit int) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "layout: %s\ngeometries: %d\n\n", ds.Layout(), ds.NumGeometries())

	n := ds.NumGeometries()
	if limit > 0 {
		n = min(n, limit)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tCOORDS\tPARTS\tLENGTH\tAREA\tBOUNDS")
	for i := range n {
		id := geom.GeometryID(i)

		typ, err := ds.TypeOf(id)
		if err != nil {
			return err
		}
		count, err := ds.Len(id)
		if err != nil {
			return err
		}
		parts, err := ds.NumParts(id)
		if err != nil {
			return err
		}
		length, err := algorithm.Length(ds, id)
		if err != nil {
			return err
		}
		area, err := algorithm.Area(ds, id)
		if err != nil {
			return err
		}
		b, err := algorithm.Bounds(ds, id)
		if err != nil {
			return err
		}

		bounds := "EMPTY"
		if !b.IsEmpty() {
			bounds = fmt.Sprintf("%g %g, %g %g", b.MinX, b.MinY, b.MaxX, b.MaxY)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%g\t%g\t%s\n", id, typ, count, parts, length, area, bounds)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if n < ds.NumGeometries() {
		fmt.Fprintf(out, "... %d more\n", ds.NumGeometries()-n)
	}
	return nil
}
