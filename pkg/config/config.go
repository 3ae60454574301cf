// Package config reads the server settings from the environment, loading a
// .env file first when one exists.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	EnvRESTPort   = "GEOACCESS_REST_PORT"
	EnvFlightPort = "GEOACCESS_FLIGHT_PORT"
	EnvCatalog    = "GEOACCESS_CATALOG"
	EnvDataDir    = "GEOACCESS_DATA_DIR"
	EnvLogLevel   = "GEOACCESS_LOG_LEVEL"
)

type Config struct {
	RESTPort   int
	FlightPort int
	// Catalog is the path of the YAML catalog file.
	Catalog string
	// DataDir holds files written by the convert command.
	DataDir  string
	LogLevel zerolog.Level
}

func Default() Config {
	return Config{
		RESTPort:   8080,
		FlightPort: 50051,
		Catalog:    "catalog.yaml",
		DataDir:    os.TempDir(),
		LogLevel:   zerolog.InfoLevel,
	}
}

// Load reads the given .env files (".env" when none are given) and then the
// environment. Missing .env files are not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	return FromEnv()
}

// FromEnv reads the configuration from the environment only.
func FromEnv() (Config, error) {
	cfg := Default()

	var err error
	if cfg.RESTPort, err = intEnv(EnvRESTPort, cfg.RESTPort); err != nil {
		return Config{}, err
	}
	if cfg.FlightPort, err = intEnv(EnvFlightPort, cfg.FlightPort); err != nil {
		return Config{}, err
	}
	if v := os.Getenv(EnvCatalog); v != "" {
		cfg.Catalog = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		level, err := zerolog.ParseLevel(strings.ToLower(v))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", EnvLogLevel, err)
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 65535 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}
