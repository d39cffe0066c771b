package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Mode selects the serving process model.
type Mode string

const (
	// ModeProduction runs the prefork multi-worker server.
	ModeProduction Mode = "production"
	// ModeDevelopment runs a single in-process server without forking.
	ModeDevelopment Mode = "development"
)

// StartupMode defines how the bootstrap sequence handles step failures.
type StartupMode string

const (
	// StartupModeStrict fails fast on any step error (default).
	StartupModeStrict StartupMode = "strict"
	// StartupModeGraceful continues past non-critical errors with warnings.
	// Migrations are always critical regardless of this setting.
	StartupModeGraceful StartupMode = "graceful"
)

// DataPaths holds data directory and file path configuration.
// These paths can be overridden via environment variables.
type DataPaths struct {
	// DataDir is the base data directory (APPBOOT_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file path (APPBOOT_SQLITE_PATH, default: ${DataDir}/appboot.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Config holds all configuration for the bootstrap sequence and the
// serving process it launches. It is constructed once at startup and
// passed explicitly to each step; steps never read the environment ad hoc.
type Config struct {
	// Mode selects production (prefork) or development (single process).
	Mode Mode `mapstructure:"mode" validate:"oneof=production development"`

	// StartupMode controls how step failures are handled
	// "strict" (default): fail fast on any error
	// "graceful": continue past non-critical asset errors, log warnings
	StartupMode StartupMode `mapstructure:"startup_mode" validate:"oneof=strict graceful"`

	DataPaths DataPaths `mapstructure:"data_paths"`

	Database struct {
		// Driver is "mysql" (production) or "sqlite" (development/tests)
		Driver string `mapstructure:"driver" validate:"oneof=mysql sqlite"`
		// DSN, when set, is used verbatim and the discrete fields below
		// are ignored
		DSN      string `mapstructure:"dsn"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port" validate:"min=0,max=65535"`
		Name     string `mapstructure:"name"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		// ConnectTimeout bounds the initial connection attempt in seconds
		ConnectTimeout int `mapstructure:"connect_timeout" validate:"min=1"`
	} `mapstructure:"database"`

	Secrets struct {
		Provider string `mapstructure:"provider" validate:"oneof=env vault aws"`
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			SecretID  string `mapstructure:"secret_id"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`

	Static struct {
		// SourceDirs are walked in order; the first source containing a
		// relative path wins on collision
		SourceDirs []string `mapstructure:"source_dirs"`
		// Root is the serving directory assets are collected into
		// (default: ${DataDir}/static)
		Root string `mapstructure:"root"`
		// Manifest enables content-hashed copies plus staticmanifest.json
		Manifest bool `mapstructure:"manifest"`
	} `mapstructure:"static"`

	Server struct {
		// Bind is the listen address as host:port (default 0.0.0.0:8000)
		Bind string `mapstructure:"bind"`
		// Workers is the serving worker process count
		Workers int `mapstructure:"workers" validate:"min=1,max=512"`
		// WorkerModel is the per-worker concurrency model; only "sync"
		// (one request at a time) is implemented
		WorkerModel string `mapstructure:"worker_model" validate:"oneof=sync"`
		// WorkerConnections bounds simultaneous accepted connections per worker
		WorkerConnections int `mapstructure:"worker_connections" validate:"min=1"`
		// Timeout kills a silent worker after this many seconds
		Timeout int `mapstructure:"timeout" validate:"min=1"`
		// KeepAlive holds idle connections open for this many seconds
		KeepAlive int `mapstructure:"keepalive" validate:"min=0"`
		// MaxRequests recycles a worker after this many requests (0 = never)
		MaxRequests int `mapstructure:"max_requests" validate:"min=0"`
		// MaxRequestsJitter adds random variance to MaxRequests per worker
		MaxRequestsJitter int `mapstructure:"max_requests_jitter" validate:"min=0"`
		// GracefulTimeout is how long the master waits for workers to
		// drain on shutdown, in seconds
		GracefulTimeout int `mapstructure:"graceful_timeout" validate:"min=1"`
	} `mapstructure:"server"`

	Logging struct {
		// Level is the zap level threshold (debug, info, warn, error)
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
		// AccessLog and ErrorLog are log targets; "-" means stdout/stderr
		AccessLog string `mapstructure:"access_log"`
		ErrorLog  string `mapstructure:"error_log"`
	} `mapstructure:"logging"`
}

// setDefaults sets default configuration values. Server defaults match the
// production entrypoint tuning; a config file or env vars override them.
func setDefaults() {
	viper.SetDefault("mode", string(ModeProduction))
	viper.SetDefault("startup_mode", string(StartupModeStrict))

	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.host", "127.0.0.1")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.name", "appboot")
	viper.SetDefault("database.user", "appboot")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.connect_timeout", 10)

	viper.SetDefault("secrets.provider", "env")
	viper.SetDefault("secrets.vault.address", "")
	viper.SetDefault("secrets.vault.token", "")
	viper.SetDefault("secrets.vault.path", "")
	viper.SetDefault("secrets.aws.region", "us-east-1")

	viper.SetDefault("static.source_dirs", []string{"./static"})
	viper.SetDefault("static.root", "") // Empty = derive from data_dir
	viper.SetDefault("static.manifest", true)

	viper.SetDefault("server.bind", "0.0.0.0:8000")
	viper.SetDefault("server.workers", 4)
	viper.SetDefault("server.worker_model", "sync")
	viper.SetDefault("server.worker_connections", 1000)
	viper.SetDefault("server.timeout", 60)
	viper.SetDefault("server.keepalive", 5)
	viper.SetDefault("server.max_requests", 1000)
	viper.SetDefault("server.max_requests_jitter", 50)
	viper.SetDefault("server.graceful_timeout", 30)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.access_log", "-")
	viper.SetDefault("logging.error_log", "-")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("APPBOOT")
	viper.AutomaticEnv()

	// Explicit environment variable bindings so deployment manifests can
	// use short, conventional names
	_ = viper.BindEnv("mode", "APPBOOT_MODE")
	_ = viper.BindEnv("startup_mode", "APPBOOT_STARTUP_MODE")
	_ = viper.BindEnv("data_paths.data_dir", "APPBOOT_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "APPBOOT_SQLITE_PATH")
	_ = viper.BindEnv("database.driver", "APPBOOT_DB_DRIVER")
	_ = viper.BindEnv("database.dsn", "APPBOOT_DB_DSN", "DATABASE_URL")
	_ = viper.BindEnv("database.host", "APPBOOT_DB_HOST")
	_ = viper.BindEnv("database.port", "APPBOOT_DB_PORT")
	_ = viper.BindEnv("database.name", "APPBOOT_DB_NAME")
	_ = viper.BindEnv("database.user", "APPBOOT_DB_USER")
	_ = viper.BindEnv("database.password", "APPBOOT_DB_PASSWORD")
	_ = viper.BindEnv("secrets.provider", "APPBOOT_SECRETS_PROVIDER")
	_ = viper.BindEnv("secrets.vault.address", "VAULT_ADDR")
	_ = viper.BindEnv("secrets.vault.token", "VAULT_TOKEN")
	_ = viper.BindEnv("static.root", "APPBOOT_STATIC_ROOT")
	_ = viper.BindEnv("server.bind", "APPBOOT_BIND")
	_ = viper.BindEnv("server.workers", "APPBOOT_WORKERS")
	_ = viper.BindEnv("server.timeout", "APPBOOT_TIMEOUT")
	_ = viper.BindEnv("logging.level", "APPBOOT_LOG_LEVEL")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("appboot")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/appboot")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.ResolveDataPaths()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ResolveDataPaths derives dependent paths that were not explicitly set.
func (c *Config) ResolveDataPaths() {
	if c.DataPaths.DataDir == "" {
		c.DataPaths.DataDir = "./data"
	}
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(c.DataPaths.DataDir, "appboot.db")
	}
	if c.Static.Root == "" {
		c.Static.Root = filepath.Join(c.DataPaths.DataDir, "static")
	}
}

// validateConfig validates the loaded configuration before any step runs.
func validateConfig(config *Config) error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return err
	}

	host, port, err := net.SplitHostPort(config.Server.Bind)
	if err != nil {
		return fmt.Errorf("invalid bind address %q: %w", config.Server.Bind, err)
	}
	if host == "" {
		return fmt.Errorf("invalid bind address %q: host cannot be empty", config.Server.Bind)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid bind port %q (must be 1-65535)", port)
	}

	if config.Database.Driver == "mysql" && config.Database.DSN == "" {
		if config.Database.Name == "" {
			return fmt.Errorf("database name cannot be empty")
		}
		if config.Database.User == "" {
			return fmt.Errorf("database user cannot be empty")
		}
	}

	if len(config.Static.SourceDirs) == 0 {
		return fmt.Errorf("static source_dirs cannot be empty")
	}
	if config.Static.Root == "" {
		return fmt.Errorf("static root cannot be empty")
	}

	return nil
}

// DatabaseDSN returns the database/sql DSN for the configured database.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	switch c.Database.Driver {
	case "sqlite":
		return c.DataPaths.SQLitePath
	default:
		timeout := time.Duration(c.Database.ConnectTimeout) * time.Second
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=%s",
			c.Database.User, c.Database.Password,
			c.Database.Host, c.Database.Port, c.Database.Name, timeout)
	}
}

// RequestTimeout returns the per-request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.Timeout) * time.Second
}

// KeepAliveTimeout returns the idle connection timeout as a duration.
func (c *Config) KeepAliveTimeout() time.Duration {
	return time.Duration(c.Server.KeepAlive) * time.Second
}

// GracefulTimeout returns the shutdown drain window as a duration.
func (c *Config) GracefulTimeout() time.Duration {
	return time.Duration(c.Server.GracefulTimeout) * time.Second
}
