package flight

import (
	"fmt"
	"geo-access/pkg/catalog"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
)

// NewFlightServer creates a Flight server serving the catalog. grpcOpts are
// passed to the underlying gRPC server.
func NewFlightServer(c *catalog.Catalog, opts []ServerOption, grpcOpts ...grpc.ServerOption) flight.Server {
	server := flight.NewServerWithMiddleware(nil, grpcOpts...)
	server.RegisterFlightService(NewGeoFlightServer(c, opts...))
	return server
}

// StartFlightServer listens on port and serves until the server is shut down.
func StartFlightServer(server flight.Server, port int) error {
	addr := fmt.Sprintf(":%d", port)
	if err := server.Init(addr); err != nil {
		return err
	}
	log.Info().Str("addr", server.Addr().String()).Msg("Starting Flight server")
	return server.Serve()
}
