// Package mvalue calculates the M-Value of point events along measured LRS
// routes.
package mvalue

import (
	"context"
	"errors"
	"fmt"
	"geo-access/pkg/algorithm"
	"geo-access/pkg/geom"
	"geo-access/pkg/route"
	"geo-access/pkg/route_event"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// RouteDataset is a measured route dataset addressable by route id.
type RouteDataset interface {
	geom.Dataset
	Lookup(routeID string) (geom.GeometryID, bool)
}

// ErrCRSMismatch is returned when the events and the routes are in different
// coordinate reference systems and no projector is set.
var ErrCRSMismatch = errors.New("mvalue: events and routes CRS differ")

// ErrProjection wraps the errors of the projector.
var ErrProjection = errors.New("mvalue: failed to project events")

// Projector returns a copy of events with the coordinates in crs.
type Projector func(ctx context.Context, events *route_event.LRSEvents, crs string) (*route_event.LRSEvents, error)

type options struct {
	haversine bool
	project   Projector
}

type Option func(*options)

// WithHaversineDistance reports DIST_TO_LRS in meters, for routes stored as
// longitude and latitude degrees. The default is the planar distance in
// coordinate units.
func WithHaversineDistance() Option {
	return func(o *options) {
		o.haversine = true
	}
}

// WithProjector reprojects events whose CRS differs from the routes CRS before
// locating them, and the results back to the events CRS.
func WithProjector(p Projector) Option {
	return func(o *options) {
		o.project = p
	}
}

// CalculatePointsMValue calculates the M-Value of points relative to the LRS
// routes. Every point is projected on the route named by its route id and the
// M-Value is interpolated along the nearest segment. Points whose route is
// unknown, or without coordinates, get a null M-Value and distance.
//
// When lrs reports a CRS through GetCRS that differs from the points CRS, the
// points go through the projector, or ErrCRSMismatch is returned without one.
func CalculatePointsMValue[R RouteDataset](ctx context.Context, lrs R, points *route_event.LRSEvents, opts ...Option) (*route_event.LRSEvents, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	routeCRS := ""
	if c, ok := any(lrs).(interface{ GetCRS() string }); ok {
		routeCRS = c.GetCRS()
	}
	if route.SameCRS(points.GetCRS(), routeCRS) {
		return calculate(ctx, lrs, points, o)
	}
	if o.project == nil {
		return nil, fmt.Errorf("%w: events in %s, routes in %s", ErrCRSMismatch, points.GetCRS(), routeCRS)
	}

	projected, err := o.project(ctx, points, routeCRS)
	if err != nil {
		return nil, fmt.Errorf("%w to %s: %w", ErrProjection, routeCRS, err)
	}
	defer projected.Release()

	located, err := calculate(ctx, lrs, projected, o)
	if err != nil {
		return nil, err
	}
	defer located.Release()

	out, err := o.project(ctx, located, points.GetCRS())
	if err != nil {
		return nil, fmt.Errorf("%w back to %s: %w", ErrProjection, points.GetCRS(), err)
	}
	return out, nil
}

func calculate[R RouteDataset](ctx context.Context, lrs R, points *route_event.LRSEvents, o options) (*route_event.LRSEvents, error) {
	pointsRecords := points.GetRecords()
	if len(pointsRecords) == 0 {
		return nil, fmt.Errorf("points records are empty")
	}

	pool := memory.NewGoAllocator()
	outRecs := make([]arrow.RecordBatch, 0, len(pointsRecords))
	release := func() {
		for _, rec := range outRecs {
			rec.Release()
		}
	}

	id := geom.GeometryID(0)
	for _, rec := range pointsRecords {
		if err := ctx.Err(); err != nil {
			release()
			return nil, err
		}

		mvalBuilder := array.NewFloat64Builder(pool)
		distBuilder := array.NewFloat64Builder(pool)

		for range int(rec.NumRows()) {
			p, loc, ok, err := locatePoint(lrs, points, id)
			if err != nil {
				mvalBuilder.Release()
				distBuilder.Release()
				release()
				return nil, fmt.Errorf("failed to locate point %d: %w", id, err)
			}

			if !ok {
				mvalBuilder.AppendNull()
				distBuilder.AppendNull()
			} else {
				mvalBuilder.Append(loc.M)
				dist := loc.Distance
				if o.haversine {
					dist = algorithm.Haversine(p, loc.Point)
				}
				distBuilder.Append(dist)
			}
			id++
		}

		mvalArr := mvalBuilder.NewArray()
		distArr := distBuilder.NewArray()
		mvalBuilder.Release()
		distBuilder.Release()

		outRecs = append(outRecs, withMeasureColumns(rec, points, mvalArr, distArr))
		mvalArr.Release()
		distArr.Release()
	}

	cols := route.Columns{
		RouteID: points.RouteIDColumn(),
		Lat:     points.LatitudeColumn(),
		Lon:     points.LongitudeColumn(),
		MValue:  points.MValueColumn(),
	}
	out, err := route_event.NewLRSEvents(outRecs, points.GetCRS(),
		route_event.WithColumns(cols),
		route_event.WithDistanceColumn(points.DistanceToLRSColumn()),
	)
	if err != nil {
		release()
		return nil, err
	}

	return out, nil
}

// locatePoint returns the event coordinate and its location on the route, or
// false when the event has no coordinate or its route is not in the dataset.
func locatePoint[R RouteDataset](lrs R, points *route_event.LRSEvents, id geom.GeometryID) (geom.Coordinate, algorithm.Location, bool, error) {
	p, err := points.CoordinateAt(id, 0)
	if errors.Is(err, geom.ErrOutOfBounds) {
		return geom.Coordinate{}, algorithm.Location{}, false, nil
	}
	if err != nil {
		return geom.Coordinate{}, algorithm.Location{}, false, err
	}

	routeID, err := points.RouteID(id)
	if err != nil {
		return geom.Coordinate{}, algorithm.Location{}, false, err
	}
	routeGeom, ok := lrs.Lookup(routeID)
	if !ok {
		return geom.Coordinate{}, algorithm.Location{}, false, nil
	}

	loc, err := algorithm.LocateM(lrs, routeGeom, p)
	if errors.Is(err, geom.ErrOutOfBounds) {
		return geom.Coordinate{}, algorithm.Location{}, false, nil
	}
	if err != nil {
		return geom.Coordinate{}, algorithm.Location{}, false, err
	}
	return p, loc, true, nil
}

// withMeasureColumns replaces the M-Value and distance columns of rec.
func withMeasureColumns(rec arrow.RecordBatch, points *route_event.LRSEvents, mval, dist arrow.Array) arrow.RecordBatch {
	fields := make([]arrow.Field, 0, rec.NumCols()+2)
	cols := make([]arrow.Array, 0, rec.NumCols()+2)

	for i, f := range rec.Schema().Fields() {
		if f.Name == points.MValueColumn() || f.Name == points.DistanceToLRSColumn() {
			continue
		}
		fields = append(fields, f)
		cols = append(cols, rec.Column(i))
	}

	fields = append(fields,
		arrow.Field{Name: points.MValueColumn(), Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		arrow.Field{Name: points.DistanceToLRSColumn(), Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	)
	cols = append(cols, mval, dist)

	return array.NewRecordBatch(arrow.NewSchema(fields, nil), cols, rec.NumRows())
}
