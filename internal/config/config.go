// Package config loads the process configuration once from the environment.
// The resulting Config is passed by value and never re-read.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
)

// Directory modes.
const (
	DirectoryNative = "native"
	DirectoryHTTP   = "http"
)

// Config controls the profile service process.
type Config struct {
	Listen string `env:"PROFILE_LISTEN" envDefault:":8080"`

	StorageDriver string `env:"PROFILE_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"PROFILE_SQLITE_PATH"    envDefault:"profiles.db"`
	PostgresDSN   string `env:"PROFILE_POSTGRES_DSN"`

	Mongo Mongo

	DirectoryMode           string        `env:"PROFILE_DIRECTORY_MODE"            envDefault:"http"`
	DirectoryAddr           string        `env:"PROFILE_DIRECTORY_ADDR"            envDefault:"http://localhost:8081"`
	DirectoryFile           string        `env:"PROFILE_DIRECTORY_FILE"            envDefault:"services.yaml"`
	DirectoryHealthInterval time.Duration `env:"PROFILE_DIRECTORY_HEALTH_INTERVAL" envDefault:"5s"`

	OTelEndpoint string `env:"PROFILE_OTEL_ENDPOINT"`
}

// Mongo holds the MongoDB connection settings.
type Mongo struct {
	URI      string `env:"PROFILE_MONGO_URI"      envDefault:"mongodb://localhost:27017"`
	Username string `env:"PROFILE_MONGO_USERNAME"`
	Password string `env:"PROFILE_MONGO_PASSWORD"`
	AuthDB   string `env:"PROFILE_MONGO_AUTH_DB"  envDefault:"admin"`
	Database string `env:"PROFILE_MONGO_DATABASE" envDefault:"atomics"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown driver or directory mode values.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverMongoDB:
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch c.DirectoryMode {
	case DirectoryNative, DirectoryHTTP:
	default:
		return fmt.Errorf("unknown directory mode %q", c.DirectoryMode)
	}
	if c.DirectoryMode == DirectoryHTTP && c.DirectoryAddr == "" {
		return fmt.Errorf("PROFILE_DIRECTORY_ADDR is required in %s mode", DirectoryHTTP)
	}
	if c.DirectoryHealthInterval <= 0 {
		return fmt.Errorf("directory health interval must be positive, got %v", c.DirectoryHealthInterval)
	}
	return nil
}

// Directory controls the directory daemon.
type Directory struct {
	Listen string `env:"DIRECTORY_LISTEN" envDefault:":8081"`
	File   string `env:"DIRECTORY_FILE"   envDefault:"services.yaml"`
}

// LoadDirectory parses the directory daemon's environment.
func LoadDirectory() (Directory, error) {
	var cfg Directory
	if err := env.Parse(&cfg); err != nil {
		return Directory{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
