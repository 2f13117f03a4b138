// Package config loads the service configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Limits    LimitsConfig    `yaml:"limits"`
	Engine    EngineConfig    `yaml:"engine"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Logger    LoggerConfig    `yaml:"logger"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	GinMode         string        `yaml:"gin_mode"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LimitsConfig struct {
	MaxUploadBytes    int64 `yaml:"max_upload_bytes"`
	MaxExtractedBytes int64 `yaml:"max_extracted_bytes"`
}

type EngineConfig struct {
	Binary       string        `yaml:"binary"`
	Timeout      time.Duration `yaml:"timeout"`
	FontsTimeout time.Duration `yaml:"fonts_timeout"`
	FontPaths    []string      `yaml:"font_paths"`
}

type WorkspaceConfig struct {
	// TempRoot is the parent directory of per-request workspaces.
	// Empty means os.TempDir().
	TempRoot string `yaml:"temp_root"`
}

type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StorageConfig points at an optional Supabase bucket holding project archives.
type StorageConfig struct {
	URL    string `yaml:"url"`
	Key    string `yaml:"key"`
	Bucket string `yaml:"bucket"`
}

// Enabled reports whether remote archives can be fetched.
func (s StorageConfig) Enabled() bool {
	return s.URL != "" && s.Key != "" && s.Bucket != ""
}

const (
	DefaultPort              = "8000"
	DefaultMaxUploadBytes    = 50 * 1024 * 1024
	DefaultMaxExtractedBytes = 200 * 1024 * 1024
	DefaultEngineBinary      = "typst"
	DefaultEngineTimeout     = 30 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
)

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Limits: LimitsConfig{
			MaxUploadBytes:    DefaultMaxUploadBytes,
			MaxExtractedBytes: DefaultMaxExtractedBytes,
		},
		Engine: EngineConfig{
			Binary:       DefaultEngineBinary,
			Timeout:      DefaultEngineTimeout,
			FontsTimeout: DefaultEngineTimeout,
		},
		Logger: LoggerConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Storage: StorageConfig{
			Bucket: "projects",
		},
	}
}

// Load reads the file named by CONFIG_PATH (defaults when unset) and applies
// environment overrides.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("CONFIG_PATH"))
}

// LoadFrom reads path on top of the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		cfg.Server.GinMode = v
	}
	if v := os.Getenv("TYPST_BINARY"); v != "" {
		cfg.Engine.Binary = v
	}
	if v := os.Getenv("TYPST_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid TYPST_TIMEOUT_SECONDS %q", v)
		}
		cfg.Engine.Timeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("TMP_ROOT"); v != "" {
		cfg.Workspace.TempRoot = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Storage.URL = v
	}
	if v := os.Getenv("SUPABASE_KEY"); v != "" {
		cfg.Storage.Key = v
	}
	if v := os.Getenv("SUPABASE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is empty"))
	}
	if c.Limits.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("limits.max_upload_bytes must be positive"))
	}
	if c.Limits.MaxExtractedBytes <= 0 {
		errs = append(errs, errors.New("limits.max_extracted_bytes must be positive"))
	}
	if c.Engine.Binary == "" {
		errs = append(errs, errors.New("engine.binary is empty"))
	}
	if c.Engine.Timeout <= 0 {
		errs = append(errs, errors.New("engine.timeout must be positive"))
	}
	if c.Engine.FontsTimeout <= 0 {
		errs = append(errs, errors.New("engine.fonts_timeout must be positive"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
