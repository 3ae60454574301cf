package catalog

import (
	"context"
	"errors"
	"fmt"
	"geo-access/pkg/columnar"
	"geo-access/pkg/duck"
	"geo-access/pkg/flatbuf"
	"geo-access/pkg/geom"
	"geo-access/pkg/inmem"
	"geo-access/pkg/route"
	"geo-access/pkg/route_event"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Supported dataset formats.
const (
	FormatGeoJSON = "geojson"
	FormatESRI    = "esri"
	FormatRoutes  = "routes"
	FormatEvents  = "events"
	FormatParquet = "parquet"
	FormatFlatbuf = "flatbuf"
	FormatDuckDB  = "duckdb"
)

var ErrUnknownFormat = errors.New("catalog: unknown dataset format")

// Config is the root of a catalog file.
type Config struct {
	Datasets []DatasetConfig `yaml:"datasets"`
}

// DatasetConfig describes one dataset of a catalog file.
type DatasetConfig struct {
	Name   string `yaml:"name"`
	Format string `yaml:"format"`
	// Path is resolved against the directory of the catalog file when relative.
	Path string `yaml:"path"`
	// Column is the geometry column of a parquet dataset or the route id
	// attribute of an esri dataset.
	Column    string `yaml:"column,omitempty"`
	CRS       string `yaml:"crs,omitempty"`
	Index     bool   `yaml:"index,omitempty"`
	ScanIndex bool   `yaml:"scan_index,omitempty"`
}

// LoadConfig reads and parses a YAML catalog file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range cfg.Datasets {
		if p := cfg.Datasets[i].Path; p != "" && !filepath.IsAbs(p) {
			cfg.Datasets[i].Path = filepath.Join(base, p)
		}
	}
	return &cfg, nil
}

// LoadFile opens every dataset of a catalog file. Datasets opened before a
// failure are released.
func LoadFile(ctx context.Context, path string) (*Catalog, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	c := New()
	for _, dc := range cfg.Datasets {
		ds, closer, err := Open(ctx, dc, memory.DefaultAllocator)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to open dataset %s: %w", dc.Name, err), c.Close())
		}

		opts := []RegisterOption{WithCloser(closer)}
		if dc.Index {
			opts = append(opts, WithIndex())
		}
		if err := c.Register(dc.Name, dc.Format, ds, opts...); err != nil {
			return nil, errors.Join(err, c.Close())
		}

		log.Info().
			Str("name", dc.Name).
			Str("format", dc.Format).
			Str("path", dc.Path).
			Int("geometries", ds.NumGeometries()).
			Str("layout", ds.Layout().String()).
			Msg("Dataset loaded")
	}

	return c, nil
}

func noClose() error { return nil }

// Open opens the dataset described by dc. The returned function releases it.
func Open(ctx context.Context, dc DatasetConfig, mem memory.Allocator) (geom.Dataset, func() error, error) {
	switch dc.Format {
	case FormatGeoJSON:
		data, err := os.ReadFile(dc.Path)
		if err != nil {
			return nil, nil, err
		}
		store, err := inmem.FromGeoJSON(data)
		if err != nil {
			return nil, nil, err
		}
		return store, noClose, nil

	case FormatESRI:
		data, err := os.ReadFile(dc.Path)
		if err != nil {
			return nil, nil, err
		}
		routes, err := route.NewRoutesFromESRIJSON(data, dc.Column)
		if err != nil {
			return nil, nil, err
		}
		return routes, releaser(routes.Release), nil

	case FormatRoutes:
		var opts []route.Option
		if dc.CRS != "" {
			opts = append(opts, route.WithCRS(dc.CRS))
		}
		routes, err := route.NewRoutesFromParquet(ctx, dc.Path, mem, opts...)
		if err != nil {
			return nil, nil, err
		}
		return routes, releaser(routes.Release), nil

	case FormatEvents:
		data, err := os.ReadFile(dc.Path)
		if err != nil {
			return nil, nil, err
		}
		events, err := route_event.NewLRSEventsFromGeoJSON(data, dc.CRS)
		if err != nil {
			return nil, nil, err
		}
		return events, releaser(events.Release), nil

	case FormatParquet:
		name := dc.Column
		if name == "" {
			name = "geometry"
		}
		col, err := columnar.ReadParquet(ctx, dc.Path, name, mem)
		if err != nil {
			return nil, nil, err
		}
		return col, releaser(col.Release), nil

	case FormatFlatbuf:
		data, err := os.ReadFile(dc.Path)
		if err != nil {
			return nil, nil, err
		}
		var opts []flatbuf.OpenOption
		if dc.ScanIndex {
			opts = append(opts, flatbuf.WithScanIndex())
		}
		buf, err := flatbuf.Open(data, opts...)
		if err != nil {
			return nil, nil, err
		}
		return buf, noClose, nil

	case FormatDuckDB:
		store, err := duck.Open(ctx, dc.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}

	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownFormat, dc.Format)
}

func releaser(release func()) func() error {
	return func() error {
		release()
		return nil
	}
}
