package main

import (
	"fmt"
	"geo-access/pkg/config"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile  string
	logLevel string
	cfg      config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "geoaccess",
		Short:         "Read access to geometry datasets of any storage format",
		Long:          `Serve, inspect and convert geometry datasets stored as GeoJSON, ESRI JSON, LRS vertex tables, GeoArrow parquet, flat binary buffers or DuckDB.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if opts.envFile != "" {
				files = append(files, opts.envFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				level, err := zerolog.ParseLevel(opts.logLevel)
				if err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
				cfg.LogLevel = level
			}
			opts.cfg = cfg

			setupLogger(cfg.LogLevel)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env", "", "Path to .env file (default .env)")
	rootCmd.PersistentFlags().StringVarP(&opts.logLevel, "log-level", "l", "", "Log level, overrides GEOACCESS_LOG_LEVEL")

	rootCmd.AddCommand(newServeCmd(opts), newInspectCmd(opts), newConvertCmd(opts))
	return rootCmd
}

func setupLogger(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
