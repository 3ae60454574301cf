package flight

import (
	"encoding/json"
	"errors"
	"fmt"
	"geo-access/pkg/catalog"
	"geo-access/pkg/duck"
	"geo-access/pkg/geom"
	"geo-access/pkg/mvalue"
	"geo-access/pkg/route"
	"geo-access/pkg/route_event"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// Schema metadata keys of a DoGet stream.
	MetadataGeometryType = "geometry_type"
	MetadataPartEnds     = "part_ends"
	// MetadataMembers lists the members of a composite geometry as
	// type:startPart-endPart, comma separated.
	MetadataMembers = "members"

	defaultSpillRows = 1000 * 1000
)

// Ticket addresses one geometry of a catalog dataset.
type Ticket struct {
	Dataset  string          `json:"dataset"`
	Geometry geom.GeometryID `json:"geometry"`
}

// Action is the exchange operation, read from the first message's app
// metadata or its descriptor command.
type Action struct {
	Operation string `json:"operation"`
	Dataset   string `json:"dataset"`
	CRS       string `json:"crs"`
}

type GeoFlightServer struct {
	flight.BaseFlightServer
	catalog   *catalog.Catalog
	mem       memory.Allocator
	spillRows int64
}

type ServerOption func(*GeoFlightServer)

// WithSpillRows sets the number of received rows after which an exchange
// spills its batches to parquet.
func WithSpillRows(n int64) ServerOption {
	return func(s *GeoFlightServer) {
		s.spillRows = n
	}
}

func WithAllocator(mem memory.Allocator) ServerOption {
	return func(s *GeoFlightServer) {
		s.mem = mem
	}
}

func NewGeoFlightServer(c *catalog.Catalog, opts ...ServerOption) *GeoFlightServer {
	s := &GeoFlightServer{
		catalog:   c,
		mem:       memory.DefaultAllocator,
		spillRows: defaultSpillRows,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func accessStatus(err error) error {
	switch {
	case errors.Is(err, geom.ErrNotFound), errors.Is(err, catalog.ErrUnknownDataset):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, geom.ErrOutOfBounds):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, geom.ErrUnavailable):
		return status.Error(codes.Unimplemented, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// CoordinateSchema is the schema of the coordinates of a layout.
func CoordinateSchema(layout geom.Layout, md *arrow.Metadata) *arrow.Schema {
	fields := []arrow.Field{
		{Name: "x", Type: arrow.PrimitiveTypes.Float64},
		{Name: "y", Type: arrow.PrimitiveTypes.Float64},
	}
	if layout.HasZ() {
		fields = append(fields, arrow.Field{Name: "z", Type: arrow.PrimitiveTypes.Float64})
	}
	if layout.HasM() {
		fields = append(fields, arrow.Field{Name: "m", Type: arrow.PrimitiveTypes.Float64})
	}
	return arrow.NewSchema(fields, md)
}

// DoGet streams the coordinates of the geometry named by the ticket as one
// record batch.
func (s *GeoFlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	var ticket Ticket
	if err := json.Unmarshal(tkt.Ticket, &ticket); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid ticket: %v", err)
	}

	entry, err := s.catalog.Get(ticket.Dataset)
	if err != nil {
		return accessStatus(err)
	}
	ds := entry.Dataset

	typ, err := ds.TypeOf(ticket.Geometry)
	if err != nil {
		return accessStatus(err)
	}
	numParts, err := ds.NumParts(ticket.Geometry)
	if err != nil {
		return accessStatus(err)
	}
	ends := make([]string, numParts)
	for p := range numParts {
		_, end, err := ds.PartRange(ticket.Geometry, p)
		if err != nil {
			return accessStatus(err)
		}
		ends[p] = strconv.Itoa(end)
	}
	seq, err := ds.Coordinates(ticket.Geometry)
	if err != nil {
		return accessStatus(err)
	}

	keys := []string{MetadataGeometryType, MetadataPartEnds}
	values := []string{string(typ), strings.Join(ends, ",")}
	if typ.Composite() {
		members, err := geom.Members(ds, ticket.Geometry)
		if err != nil {
			return accessStatus(err)
		}
		encoded := make([]string, len(members))
		for k, m := range members {
			encoded[k] = fmt.Sprintf("%s:%d-%d", m.Type, m.StartPart, m.EndPart)
		}
		keys = append(keys, MetadataMembers)
		values = append(values, strings.Join(encoded, ","))
	}
	md := arrow.NewMetadata(keys, values)
	schema := CoordinateSchema(ds.Layout(), &md)

	builder := array.NewRecordBuilder(s.mem, schema)
	defer builder.Release()

	flat := make([]float64, 0, 4)
	for c := range seq {
		flat = c.AppendFlat(flat[:0], ds.Layout())
		for i, v := range flat {
			builder.Field(i).(*array.Float64Builder).Append(v)
		}
	}
	rec := builder.NewRecordBatch()
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(schema))
	defer writer.Close()

	log.Debug().
		Str("dataset", ticket.Dataset).
		Int("geometry", int(ticket.Geometry)).
		Int64("coordinates", rec.NumRows()).
		Msg("Streaming geometry")
	return writer.Write(rec)
}

// ListFlights lists every catalog dataset with its coordinate schema.
func (s *GeoFlightServer) ListFlights(criteria *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	for _, name := range s.catalog.Names() {
		entry, err := s.catalog.Get(name)
		if err != nil {
			continue
		}

		schema := CoordinateSchema(entry.Dataset.Layout(), nil)
		info := &flight.FlightInfo{
			Schema: flight.SerializeSchema(schema, s.mem),
			FlightDescriptor: &flight.FlightDescriptor{
				Type: flight.DescriptorPATH,
				Path: []string{name},
			},
			TotalRecords: int64(entry.Dataset.NumGeometries()),
			TotalBytes:   -1,
		}
		if err := stream.Send(info); err != nil {
			return err
		}
	}
	return nil
}

func (s *GeoFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	desc, err := stream.Recv()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	action := Action{CRS: route.WGS84}
	// Try parsing as JSON first
	if len(desc.AppMetadata) > 0 {
		if err := json.Unmarshal(desc.AppMetadata, &action); err != nil || action.Operation == "" {
			// Fallback: treat the metadata as a raw string (the operation name)
			action.Operation = string(desc.AppMetadata)
		}
	} else if desc.FlightDescriptor != nil && len(desc.FlightDescriptor.Cmd) > 0 {
		if err := json.Unmarshal(desc.FlightDescriptor.Cmd, &action); err != nil || action.Operation == "" {
			action.Operation = string(desc.FlightDescriptor.Cmd)
		}
	}

	log.Info().Str("operation", action.Operation).Str("dataset", action.Dataset).Str("crs", action.CRS).Msg("Exchange started")

	switch action.Operation {
	case "calculate_m_value":
		return s.handleCalculateMValue(stream, action)
	default:
		return status.Errorf(codes.InvalidArgument, "unsupported operation: %s", action.Operation)
	}
}

func (s *GeoFlightServer) handleCalculateMValue(stream flight.FlightService_DoExchangeServer, action Action) error {
	ctx := stream.Context()

	entry, err := s.catalog.Get(action.Dataset)
	if err != nil {
		return accessStatus(err)
	}
	routes, ok := entry.Dataset.(mvalue.RouteDataset)
	if !ok {
		return status.Errorf(codes.Unimplemented, "dataset %s is not addressable by route id", action.Dataset)
	}

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	handler, err := NewParquetBatchHandler()
	if err != nil {
		return fmt.Errorf("failed to create batch handler: %w", err)
	}
	defer handler.Cleanup()

	var records []arrow.RecordBatch
	releaseRecords := func() {
		for _, r := range records {
			r.Release()
		}
		records = nil
	}
	defer releaseRecords()

	var received int64
	for reader.Next() {
		rec := reader.RecordBatch()
		rec.Retain()
		records = append(records, rec)
		received += rec.NumRows()

		if received >= s.spillRows {
			log.Debug().Int64("rows", received).Msg("Received rows exceed threshold, spilling to parquet")
			if err := handler.AddRecordBatches(records); err != nil {
				return fmt.Errorf("failed to spill record batches: %w", err)
			}
			releaseRecords()
			received = 0
		}
	}
	if err := reader.Err(); err != nil {
		return err
	}

	if handler.Spilled() {
		if err := handler.AddRecordBatches(records); err != nil {
			return fmt.Errorf("failed to spill remaining record batches: %w", err)
		}
		releaseRecords()

		records, err = handler.ReadAll(ctx, s.mem)
		if err != nil {
			return err
		}
	}

	if len(records) == 0 {
		return status.Error(codes.InvalidArgument, "no records received")
	}

	// NewLRSEvents takes over the references held by records.
	owned := records
	records = nil
	events, err := route_event.NewLRSEvents(owned, action.CRS)
	if err != nil {
		for _, r := range owned {
			r.Release()
		}
		return status.Errorf(codes.InvalidArgument, "error when creating new LRSEvents: %v", err)
	}
	defer events.Release()

	log.Info().Int("events", events.NumGeometries()).Int("routes", len(events.GetRouteIDs())).Msg("Calculating m-values")

	resultEvents, err := mvalue.CalculatePointsMValue(ctx, routes, events, mvalue.WithProjector(duck.Transform))
	switch {
	case errors.Is(err, duck.ErrSpatialUnavailable):
		return status.Errorf(codes.Unimplemented, "events in %s need a projection: %v", action.CRS, err)
	case errors.Is(err, mvalue.ErrProjection):
		return status.Error(codes.InvalidArgument, err.Error())
	case err != nil:
		return fmt.Errorf("failed to calculate m-values: %w", err)
	}
	defer resultEvents.Release()

	// Stream back the results
	writer := flight.NewRecordWriter(stream, ipc.WithSchema(resultEvents.GetRecords()[0].Schema()))
	defer writer.Close()

	for _, rec := range resultEvents.GetRecords() {
		if err := writer.Write(rec); err != nil {
			return err
		}
	}

	return nil
}
