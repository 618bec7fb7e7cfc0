package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "HYDRA_"

type Config struct {
	Primary       Primary             `koanf:"primary" validate:"required"`
	Server        ServerConfig        `koanf:"server" validate:"required"`
	Stream        StreamConfig        `koanf:"stream" validate:"required"`
	Cursor        CursorConfig        `koanf:"cursor" validate:"required"`
	Store         StoreConfig         `koanf:"store" validate:"required"`
	Retrain       RetrainConfig       `koanf:"retrain" validate:"required"`
	Model         ModelConfig         `koanf:"model" validate:"required"`
	Storage       StorageConfig       `koanf:"storage"`
	Database      DatabaseConfig      `koanf:"database"`
	Observability ObservabilityConfig `koanf:"observability" validate:"required"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port         string        `koanf:"port" validate:"required"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"required"`
}

type StreamConfig struct {
	Backend          string        `koanf:"backend" validate:"oneof=redis memory"`
	Host             string        `koanf:"host" validate:"required_if=Backend redis"`
	Port             int           `koanf:"port" validate:"required_if=Backend redis"`
	Password         string        `koanf:"password"`
	DB               int           `koanf:"db" validate:"gte=0"`
	Key              string        `koanf:"key" validate:"required"`
	Field            string        `koanf:"field" validate:"required"`
	MaxLen           int64         `koanf:"max_len" validate:"gte=0"`
	BatchSize        int64         `koanf:"batch_size" validate:"gt=0"`
	BlockTimeout     time.Duration `koanf:"block_timeout" validate:"gt=0"`
	ReconnectBackoff time.Duration `koanf:"reconnect_backoff" validate:"gt=0"`
}

// Addr returns the broker address as host:port.
func (s StreamConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type CursorConfig struct {
	Backend string `koanf:"backend" validate:"oneof=file redis postgres memory"`
	Path    string `koanf:"path" validate:"required_if=Backend file"`
	Name    string `koanf:"name" validate:"required"`
}

type StoreConfig struct {
	Backend       string        `koanf:"backend" validate:"oneof=file postgres memory"`
	Path          string        `koanf:"path" validate:"required_if=Backend file"`
	RetentionDays int           `koanf:"retention_days" validate:"gt=0"`
	MinRetained   int           `koanf:"min_retained" validate:"gte=0"`
	PruneInterval time.Duration `koanf:"prune_interval" validate:"gt=0"`
}

// RetentionWindow converts RetentionDays to a duration.
func (s StoreConfig) RetentionWindow() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

type RetrainConfig struct {
	Threshold     int           `koanf:"threshold" validate:"gt=0"`
	CheckInterval time.Duration `koanf:"check_interval" validate:"gt=0"`
}

type ModelConfig struct {
	Backend   string `koanf:"backend" validate:"oneof=file o3"`
	Path      string `koanf:"path" validate:"required_if=Backend file"`
	ObjectKey string `koanf:"object_key" validate:"required_if=Backend o3"`
}

type StorageConfig struct {
	O3 O3Config `koanf:"o3"`
}

// O3Config configures the S3-compatible Akave O3 endpoint.
type O3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns" validate:"gte=0"`
}

type ObservabilityConfig struct {
	LogLevel string         `koanf:"log_level" validate:"oneof=trace debug info warn error"`
	NewRelic NewRelicConfig `koanf:"new_relic"`
}

type NewRelicConfig struct {
	Enabled    bool   `koanf:"enabled"`
	AppName    string `koanf:"app_name"`
	LicenseKey string `koanf:"license_key" validate:"required_if=Enabled true"`
}

// IsLocal reports whether the process runs on a developer machine.
func (c *Config) IsLocal() bool {
	return c.Primary.Env == "local"
}

var defaults = map[string]any{
	"primary.env": "local",

	"server.port":          "8500",
	"server.read_timeout":  10 * time.Second,
	"server.write_timeout": 10 * time.Second,

	"stream.backend":           "redis",
	"stream.host":              "localhost",
	"stream.port":              6379,
	"stream.db":                0,
	"stream.key":               "flask_logs",
	"stream.field":             "log",
	"stream.max_len":           2000,
	"stream.batch_size":        5,
	"stream.block_timeout":     5 * time.Second,
	"stream.reconnect_backoff": 5 * time.Second,

	"cursor.backend": "file",
	"cursor.path":    "data/cursor.json",
	"cursor.name":    "hydra-trainer",

	"store.backend":        "file",
	"store.path":           "data/training_logs.json",
	"store.retention_days": 365,
	"store.min_retained":   500,
	"store.prune_interval": time.Hour,

	"retrain.threshold":      100,
	"retrain.check_interval": 30 * time.Second,

	"model.backend":    "file",
	"model.path":       "data/model.bin.zst",
	"model.object_key": "models/current.bin.zst",

	"database.max_conns": 10,

	"observability.log_level":         "info",
	"observability.new_relic.enabled":  false,
	"observability.new_relic.app_name": "hydra",
}

// LoadOptions name the optional config sources.
type LoadOptions struct {
	// File is a YAML config file. Empty means none.
	File string
	// EnvFile is a dotenv file; a missing file is ignored.
	EnvFile string
}

// Load builds the configuration from defaults, then the YAML file, then the
// environment (HYDRA_<SECTION>__<KEY>, with a .env file filling unset
// variables). Later sources win.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("default %s: %w", key, err)
		}
	}

	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", opts.File, err)
		}
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field rules and the rules that span sections.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	usesPostgres := c.Store.Backend == "postgres" || c.Cursor.Backend == "postgres"
	if usesPostgres && c.Database.URL == "" {
		return errors.New("invalid config: database.url is required for postgres backends")
	}
	if c.Model.Backend == "o3" && (c.Storage.O3.Endpoint == "" || c.Storage.O3.Bucket == "") {
		return errors.New("invalid config: storage.o3.endpoint and storage.o3.bucket are required for model.backend=o3")
	}
	if c.Cursor.Backend == "redis" && c.Stream.Backend != "redis" {
		return errors.New("invalid config: cursor.backend=redis needs stream.backend=redis")
	}
	return nil
}

// Exists reports whether path names a readable file. Used for optional
// default config locations.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
