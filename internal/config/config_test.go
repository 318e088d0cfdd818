package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, DriverSQLite, cfg.StorageDriver)
	assert.Equal(t, "profiles.db", cfg.SQLitePath)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "admin", cfg.Mongo.AuthDB)
	assert.Equal(t, "atomics", cfg.Mongo.Database)
	assert.Equal(t, DirectoryHTTP, cfg.DirectoryMode)
	assert.Equal(t, "http://localhost:8081", cfg.DirectoryAddr)
	assert.Equal(t, "services.yaml", cfg.DirectoryFile)
	assert.Equal(t, 5*time.Second, cfg.DirectoryHealthInterval)
	assert.Empty(t, cfg.OTelEndpoint)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PROFILE_LISTEN", ":9000")
	t.Setenv("PROFILE_STORAGE_DRIVER", "mongodb")
	t.Setenv("PROFILE_MONGO_USERNAME", "bob")
	t.Setenv("PROFILE_MONGO_PASSWORD", "cratchit")
	t.Setenv("PROFILE_DIRECTORY_MODE", "native")
	t.Setenv("PROFILE_DIRECTORY_HEALTH_INTERVAL", "250ms")
	t.Setenv("PROFILE_OTEL_ENDPOINT", "http://collector:4318")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, DriverMongoDB, cfg.StorageDriver)
	assert.Equal(t, "bob", cfg.Mongo.Username)
	assert.Equal(t, "cratchit", cfg.Mongo.Password)
	assert.Equal(t, DirectoryNative, cfg.DirectoryMode)
	assert.Equal(t, 250*time.Millisecond, cfg.DirectoryHealthInterval)
	assert.Equal(t, "http://collector:4318", cfg.OTelEndpoint)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown driver",
			env:     map[string]string{"PROFILE_STORAGE_DRIVER": "redis"},
			wantErr: `unknown storage driver "redis"`,
		},
		{
			name:    "unknown mode",
			env:     map[string]string{"PROFILE_DIRECTORY_MODE": "grpc"},
			wantErr: `unknown directory mode "grpc"`,
		},
		{
			name:    "bad duration",
			env:     map[string]string{"PROFILE_DIRECTORY_HEALTH_INTERVAL": "soon"},
			wantErr: "parse env",
		},
		{
			name:    "zero interval",
			env:     map[string]string{"PROFILE_DIRECTORY_HEALTH_INTERVAL": "0s"},
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateHTTPNeedsAddr(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.DirectoryAddr = ""
	assert.ErrorContains(t, cfg.Validate(), "PROFILE_DIRECTORY_ADDR")
}

func TestLoadDirectory(t *testing.T) {
	cfg, err := LoadDirectory()
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Listen)
	assert.Equal(t, "services.yaml", cfg.File)

	t.Setenv("DIRECTORY_LISTEN", ":7000")
	t.Setenv("DIRECTORY_FILE", "/etc/services.yaml")
	cfg, err = LoadDirectory()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "/etc/services.yaml", cfg.File)
}
