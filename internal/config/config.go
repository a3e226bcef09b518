// Package config loads service configuration from built-in defaults, an
// optional YAML file and IMAGESTORE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "IMAGESTORE_"

type Config struct {
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	HTTP      HTTPConfig      `yaml:"http" envPrefix:"HTTP_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Images    ImagesConfig    `yaml:"images" envPrefix:"IMAGES_"`
	Reconcile ReconcileConfig `yaml:"reconcile" envPrefix:"RECONCILE_"`
	// Watch enables the filesystem watcher for the disk storage backend.
	Watch bool `yaml:"watch" env:"WATCH"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"` // text, json or both
}

type HTTPConfig struct {
	Addr              string        `yaml:"addr" env:"ADDR"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	CORSOrigins       []string      `yaml:"cors_origins" env:"CORS_ORIGINS"`
	// UploadRate is the sustained number of uploads per second allowed per
	// client IP; zero disables limiting.
	UploadRate  float64 `yaml:"upload_rate" env:"UPLOAD_RATE"`
	UploadBurst float64 `yaml:"upload_burst" env:"UPLOAD_BURST"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // sqlite or badger
	// Path is the SQLite file or the Badger directory.
	Path string `yaml:"path" env:"PATH"`
}

type StorageConfig struct {
	Backend string   `yaml:"backend" env:"BACKEND"` // disk, sqlite or s3
	Dir     string   `yaml:"dir" env:"DIR"`
	S3      S3Config `yaml:"s3" envPrefix:"S3_"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"BUCKET"`
	Region    string `yaml:"region" env:"REGION"`
	UseSSL    bool   `yaml:"use_ssl" env:"USE_SSL"`
}

type ImagesConfig struct {
	HashAlgorithm string `yaml:"hash_algorithm" env:"HASH_ALGORITHM"`
	MaxDimension  int    `yaml:"max_dimension" env:"MAX_DIMENSION"`
	// HealOnRead removes image rows whose stored file has gone missing when
	// they are read.
	HealOnRead bool `yaml:"heal_on_read" env:"HEAL_ON_READ"`
}

type ReconcileConfig struct {
	// MinAge protects files written by in-flight transactions from the sweep.
	MinAge   time.Duration `yaml:"min_age" env:"MIN_AGE"`
	Workers  int           `yaml:"workers" env:"WORKERS"`
	Interval time.Duration `yaml:"interval" env:"INTERVAL"` // zero disables periodic sweeps
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			MaxUploadBytes:    20 << 20,
			UploadRate:        2,
			UploadBurst:       10,
		},
		Database: DatabaseConfig{Driver: "sqlite", Path: "imagestore.db"},
		Storage:  StorageConfig{Backend: "disk", Dir: "images"},
		Images: ImagesConfig{
			HashAlgorithm: "blake3",
			MaxDimension:  10000,
			HealOnRead:    true,
		},
		Reconcile: ReconcileConfig{MinAge: 10 * time.Minute, Workers: 4},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the process environment are used.
func Load(path string) (Config, error) {
	return load(path, nil)
}

// load reads environment overrides from environ, or from the process
// environment when environ is nil.
func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "badger":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	switch c.Storage.Backend {
	case "disk":
		if c.Storage.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for the disk backend"))
		}
	case "sqlite":
		if c.Database.Driver != "sqlite" {
			errs = append(errs, errors.New("storage.backend sqlite requires database.driver sqlite"))
		}
	case "s3":
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.endpoint and storage.s3.bucket are required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}

	switch c.Images.HashAlgorithm {
	case "blake3", "blake2b", "sha256":
	default:
		errs = append(errs, fmt.Errorf("images.hash_algorithm: unknown algorithm %q", c.Images.HashAlgorithm))
	}
	if c.Images.MaxDimension <= 0 {
		errs = append(errs, errors.New("images.max_dimension must be positive"))
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("http.max_upload_bytes must be positive"))
	}
	if c.Reconcile.Workers <= 0 {
		errs = append(errs, errors.New("reconcile.workers must be positive"))
	}
	if c.Watch && c.Storage.Backend != "disk" {
		errs = append(errs, errors.New("watch requires the disk storage backend"))
	}

	return errors.Join(errs...)
}
