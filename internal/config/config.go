package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "CORKBOARD"

	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultLogLevel         = "info"
	defaultStorageBackend   = "sqlite"
	defaultSQLitePath       = "corkboard.db"
	defaultMaxNotes         = 1000
	defaultCacheTTLSeconds  = 30
	defaultOpTimeoutSeconds = 15
)

// StorageBackend selects the blob store implementation.
type StorageBackend string

const (
	BackendS3     StorageBackend = "s3"
	BackendSQLite StorageBackend = "sqlite"
	BackendMemory StorageBackend = "memory"
)

// AppConfig captures runtime configuration for the board server.
type AppConfig struct {
	HTTPAddress    string
	LogLevel       string
	StorageBackend StorageBackend
	Bucket         string
	Endpoint       string
	Region         string
	SQLitePath     string
	MaxNotes       int
	CacheTTL       time.Duration
	OpTimeout      time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.bucket", "")
	configViper.SetDefault("storage.endpoint", "")
	configViper.SetDefault("storage.region", "auto")
	configViper.SetDefault("storage.sqlite_path", defaultSQLitePath)
	configViper.SetDefault("limits.max_notes", defaultMaxNotes)
	configViper.SetDefault("cache.ttl_seconds", defaultCacheTTLSeconds)
	configViper.SetDefault("scheduler.op_timeout_seconds", defaultOpTimeoutSeconds)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		LogLevel:       configViper.GetString("log.level"),
		StorageBackend: StorageBackend(strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend")))),
		Bucket:         configViper.GetString("storage.bucket"),
		Endpoint:       configViper.GetString("storage.endpoint"),
		Region:         configViper.GetString("storage.region"),
		SQLitePath:     configViper.GetString("storage.sqlite_path"),
		MaxNotes:       configViper.GetInt("limits.max_notes"),
		CacheTTL:       time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
		OpTimeout:      time.Duration(configViper.GetInt("scheduler.op_timeout_seconds")) * time.Second,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.StorageBackend {
	case BackendS3:
		if strings.TrimSpace(c.Bucket) == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be one of s3, sqlite, memory")
	}
	if c.MaxNotes <= 0 {
		return fmt.Errorf("limits.max_notes must be positive")
	}
	return nil
}
