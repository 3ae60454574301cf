package duck

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"geo-access/pkg/route"
	"geo-access/pkg/route_event"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/duckdb/duckdb-go/v2"
)

// ErrSpatialUnavailable is returned when the DuckDB spatial extension can not
// be installed or loaded.
var ErrSpatialUnavailable = errors.New("duck: spatial extension is unavailable")

const transformQuery = `
with transformed as (
	select *, ST_Transform(ST_Point({{lon}}, {{lat}}), ?, ?, true) as shape
	from events
)
select * exclude (shape, {{lat}}, {{lon}}), ST_X(shape) as {{lon}}, ST_Y(shape) as {{lat}}
from transformed
`

// Transform returns a copy of events with the coordinates reprojected to crs,
// using ST_Transform of the spatial extension. Coordinates are read and
// written in longitude, latitude order whatever the axis order of the CRS.
// Null coordinates stay null. The caller releases both event sets.
func Transform(ctx context.Context, events *route_event.LRSEvents, crs string) (*route_event.LRSEvents, error) {
	recs := events.GetRecords()
	if len(recs) == 0 {
		return nil, fmt.Errorf("events records are empty")
	}

	c, err := duckdb.NewConnector("", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create duckdb connector: %w", err)
	}
	defer c.Close()

	conn, err := c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to duckdb: %w", err)
	}
	defer conn.Close()

	if err := loadSpatial(ctx, conn); err != nil {
		return nil, err
	}

	ar, err := duckdb.NewArrowFromConn(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow from duckdb: %w", err)
	}

	reader, err := array.NewRecordReader(recs[0].Schema(), recs)
	if err != nil {
		return nil, fmt.Errorf("failed to create events record reader: %w", err)
	}
	defer reader.Release()

	release, err := ar.RegisterView(reader, "events")
	if err != nil {
		return nil, fmt.Errorf("failed to register events view: %w", err)
	}
	defer release()

	query := strings.NewReplacer(
		"{{lat}}", quoteIdent(events.LatitudeColumn()),
		"{{lon}}", quoteIdent(events.LongitudeColumn()),
	).Replace(transformQuery)

	out, err := ar.QueryContext(ctx, query, events.GetCRS(), crs)
	if err != nil {
		return nil, fmt.Errorf("failed to transform events from %s to %s: %w", events.GetCRS(), crs, err)
	}
	defer out.Release()

	var outRecs []arrow.RecordBatch
	for out.Next() {
		rec := out.RecordBatch()
		rec.Retain()
		outRecs = append(outRecs, rec)
	}
	if err := out.Err(); err != nil {
		for _, rec := range outRecs {
			rec.Release()
		}
		return nil, err
	}

	cols := route.Columns{
		RouteID: events.RouteIDColumn(),
		Lat:     events.LatitudeColumn(),
		Lon:     events.LongitudeColumn(),
		MValue:  events.MValueColumn(),
	}
	projected, err := route_event.NewLRSEvents(outRecs, crs,
		route_event.WithColumns(cols),
		route_event.WithDistanceColumn(events.DistanceToLRSColumn()),
	)
	if err != nil {
		for _, rec := range outRecs {
			rec.Release()
		}
		return nil, err
	}
	return projected, nil
}

func loadSpatial(ctx context.Context, conn driver.Conn) error {
	execer, ok := conn.(driver.ExecerContext)
	if !ok {
		return fmt.Errorf("duckdb connection can not execute statements")
	}
	for _, stmt := range []string{"install spatial", "load spatial"} {
		if _, err := execer.ExecContext(ctx, stmt, nil); err != nil {
			return fmt.Errorf("%w: %w", ErrSpatialUnavailable, err)
		}
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
