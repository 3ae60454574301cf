package main

import (
	"context"
	"geo-access/pkg/api"
	"geo-access/pkg/catalog"
	"geo-access/pkg/flight"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		catalogFile string
		restPort    int
		flightPort  int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog over REST and Arrow Flight",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if cmd.Flags().Changed("config") {
				cfg.Catalog = catalogFile
			}
			if cmd.Flags().Changed("rest-port") {
				cfg.RESTPort = restPort
			}
			if cmd.Flags().Changed("flight-port") {
				cfg.FlightPort = flightPort
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := catalog.LoadFile(ctx, cfg.Catalog)
			if err != nil {
				return err
			}
			defer c.Close()
			log.Info().Str("catalog", cfg.Catalog).Int("datasets", len(c.Names())).Msg("Catalog loaded")

			apiServer := api.NewAPIServer(c, cfg.RESTPort)
			flightServer := flight.NewFlightServer(c, nil)

			errs := make(chan error, 2)
			go func() { errs <- apiServer.Start() }()
			go func() { errs <- flight.StartFlightServer(flightServer, cfg.FlightPort) }()

			select {
			case <-ctx.Done():
				log.Info().Msg("Shutting down")
			case err = <-errs:
				log.Error().Err(err).Msg("Server stopped")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if stopErr := apiServer.Stop(shutdownCtx); stopErr != nil {
				log.Warn().Err(stopErr).Msg("REST API server shutdown failed")
			}
			flightServer.Shutdown()

			return err
		},
	}

	cmd.Flags().StringVarP(&catalogFile, "config", "c", "catalog.yaml", "Catalog file, overrides GEOACCESS_CATALOG")
	cmd.Flags().IntVar(&restPort, "rest-port", 8080, "REST API port, overrides GEOACCESS_REST_PORT")
	cmd.Flags().IntVar(&flightPort, "flight-port", 50051, "Arrow Flight port, overrides GEOACCESS_FLIGHT_PORT")
	return cmd
}
