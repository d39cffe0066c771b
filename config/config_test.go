package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validTestConfig returns a configuration that passes validation, for
// tests that mutate one field at a time.
func validTestConfig() *Config {
	cfg := &Config{
		Mode:        ModeProduction,
		StartupMode: StartupModeStrict,
	}
	cfg.DataPaths.DataDir = "./data"
	cfg.Database.Driver = "mysql"
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.Port = 3306
	cfg.Database.Name = "appboot"
	cfg.Database.User = "appboot"
	cfg.Database.ConnectTimeout = 10
	cfg.Secrets.Provider = "env"
	cfg.Static.SourceDirs = []string{"./static"}
	cfg.Server.Bind = "0.0.0.0:8000"
	cfg.Server.Workers = 4
	cfg.Server.WorkerModel = "sync"
	cfg.Server.WorkerConnections = 1000
	cfg.Server.Timeout = 60
	cfg.Server.KeepAlive = 5
	cfg.Server.MaxRequests = 1000
	cfg.Server.MaxRequestsJitter = 50
	cfg.Server.GracefulTimeout = 30
	cfg.Logging.Level = "info"
	cfg.ResolveDataPaths()
	return cfg
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ModeProduction, cfg.Mode)
	assert.Equal(t, StartupModeStrict, cfg.StartupMode)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)

	// Serving defaults match the production entrypoint tuning
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Bind)
	assert.Equal(t, 4, cfg.Server.Workers)
	assert.Equal(t, "sync", cfg.Server.WorkerModel)
	assert.Equal(t, 60, cfg.Server.Timeout)
	assert.Equal(t, 5, cfg.Server.KeepAlive)
	assert.Equal(t, 1000, cfg.Server.MaxRequests)
	assert.Equal(t, 50, cfg.Server.MaxRequestsJitter)
	assert.Equal(t, 30, cfg.Server.GracefulTimeout)

	// Derived paths
	assert.Equal(t, filepath.Join("./data", "appboot.db"), cfg.DataPaths.SQLitePath)
	assert.Equal(t, filepath.Join("./data", "static"), cfg.Static.Root)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("APPBOOT_MODE", "development")
	t.Setenv("APPBOOT_DB_DRIVER", "sqlite")
	t.Setenv("APPBOOT_DATA_DIR", "/tmp/appboot-test")
	t.Setenv("APPBOOT_BIND", "127.0.0.1:9000")
	t.Setenv("APPBOOT_WORKERS", "2")
	t.Setenv("APPBOOT_TIMEOUT", "120")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ModeDevelopment, cfg.Mode)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/appboot-test", cfg.DataPaths.DataDir)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Bind)
	assert.Equal(t, 2, cfg.Server.Workers)
	assert.Equal(t, 120, cfg.Server.Timeout)
	assert.Equal(t, filepath.Join("/tmp/appboot-test", "appboot.db"), cfg.DataPaths.SQLitePath)
	assert.Equal(t, filepath.Join("/tmp/appboot-test", "static"), cfg.Static.Root)
}

func TestLoadConfig_InvalidEnvValueRejected(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("APPBOOT_MODE", "turbo")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Mode = "turbo" }, ""},
		{"bad startup mode", func(c *Config) { c.StartupMode = "lenient" }, ""},
		{"bad driver", func(c *Config) { c.Database.Driver = "postgres" }, ""},
		{"zero workers", func(c *Config) { c.Server.Workers = 0 }, ""},
		{"too many workers", func(c *Config) { c.Server.Workers = 1024 }, ""},
		{"unknown worker model", func(c *Config) { c.Server.WorkerModel = "gevent" }, ""},
		{"bind without port", func(c *Config) { c.Server.Bind = "0.0.0.0" }, "invalid bind address"},
		{"bind with empty host", func(c *Config) { c.Server.Bind = ":8000" }, "host cannot be empty"},
		{"bind port zero", func(c *Config) { c.Server.Bind = "0.0.0.0:0" }, "invalid bind port"},
		{"bind port out of range", func(c *Config) { c.Server.Bind = "0.0.0.0:70000" }, "invalid bind port"},
		{"mysql without name", func(c *Config) { c.Database.Name = "" }, "database name cannot be empty"},
		{"mysql without user", func(c *Config) { c.Database.User = "" }, "database user cannot be empty"},
		{"no static sources", func(c *Config) { c.Static.SourceDirs = nil }, "source_dirs cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)

			err := validateConfig(cfg)
			if tt.name == "valid" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateConfig_SQLiteNeedsNoCredentials(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = ""
	cfg.Database.User = ""

	assert.NoError(t, validateConfig(cfg))
}

func TestValidateConfig_DSNSkipsDiscreteFieldChecks(t *testing.T) {
	cfg := validTestConfig()
	cfg.Database.DSN = "app:secret@tcp(db:3306)/app"
	cfg.Database.Name = ""
	cfg.Database.User = ""

	assert.NoError(t, validateConfig(cfg))
}

func TestDatabaseDSN(t *testing.T) {
	t.Run("mysql from discrete fields", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Database.Host = "db.internal"
		cfg.Database.Port = 3307
		cfg.Database.Name = "sigur"
		cfg.Database.User = "app"
		cfg.Database.Password = "hunter2"
		cfg.Database.ConnectTimeout = 10

		assert.Equal(t,
			"app:hunter2@tcp(db.internal:3307)/sigur?parseTime=true&timeout=10s",
			cfg.DatabaseDSN())
	})

	t.Run("explicit dsn wins", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Database.DSN = "app:x@tcp(elsewhere:3306)/other"

		assert.Equal(t, "app:x@tcp(elsewhere:3306)/other", cfg.DatabaseDSN())
	})

	t.Run("sqlite uses the file path", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Database.Driver = "sqlite"
		cfg.DataPaths.SQLitePath = "/var/lib/appboot/appboot.db"

		assert.Equal(t, "/var/lib/appboot/appboot.db", cfg.DatabaseDSN())
	})
}

func TestResolveDataPaths(t *testing.T) {
	t.Run("derives everything from data dir", func(t *testing.T) {
		cfg := &Config{}
		cfg.DataPaths.DataDir = "/srv/app"
		cfg.ResolveDataPaths()

		assert.Equal(t, filepath.Join("/srv/app", "appboot.db"), cfg.DataPaths.SQLitePath)
		assert.Equal(t, filepath.Join("/srv/app", "static"), cfg.Static.Root)
	})

	t.Run("explicit paths are kept", func(t *testing.T) {
		cfg := &Config{}
		cfg.DataPaths.DataDir = "/srv/app"
		cfg.DataPaths.SQLitePath = "/elsewhere/db.sqlite"
		cfg.Static.Root = "/var/www/static"
		cfg.ResolveDataPaths()

		assert.Equal(t, "/elsewhere/db.sqlite", cfg.DataPaths.SQLitePath)
		assert.Equal(t, "/var/www/static", cfg.Static.Root)
	})
}

func TestDurationHelpers(t *testing.T) {
	cfg := validTestConfig()

	assert.Equal(t, "1m0s", cfg.RequestTimeout().String())
	assert.Equal(t, "5s", cfg.KeepAliveTimeout().String())
	assert.Equal(t, "30s", cfg.GracefulTimeout().String())
}
