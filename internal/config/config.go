package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Cache   CacheConfig   `json:"cache" mapstructure:"cache"`
	Store   StoreConfig   `json:"store" mapstructure:"store"`
	Network NetworkConfig `json:"network" mapstructure:"network"`
	Catalog CatalogConfig `json:"catalog" mapstructure:"catalog"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// CacheConfig controls where downloaded media lives
type CacheConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	AudioExt        string `json:"audio_ext" mapstructure:"audio_ext"`
	ImageExt        string `json:"image_ext" mapstructure:"image_ext"`
	DefaultCategory string `json:"default_category" mapstructure:"default_category"`
}

// StoreConfig selects the metadata persistence backend
type StoreConfig struct {
	Backend   string `json:"backend" mapstructure:"backend"` // sqlite, redis, memory
	DBPath    string `json:"db_path" mapstructure:"db_path"`
	RedisAddr string `json:"redis_addr" mapstructure:"redis_addr"`
	RedisDB   int    `json:"redis_db" mapstructure:"redis_db"`
	Key       string `json:"key" mapstructure:"key"`
}

// NetworkConfig contains network-related settings
type NetworkConfig struct {
	Timeout           int     `json:"timeout" mapstructure:"timeout"` // seconds
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `json:"burst" mapstructure:"burst"`
}

// CatalogConfig points at an optional catalog override
type CatalogConfig struct {
	Path string `json:"path" mapstructure:"path"` // empty uses the bundled catalog
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig controls the metrics endpoint of the serve command
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Listen  string `json:"listen" mapstructure:"listen"`
}

// Load loads configuration from file or creates default
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = GetConfigPath()
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := ensureConfigDir(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if err := v.WriteConfigAs(configPath); err != nil {
				return nil, fmt.Errorf("failed to write default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// SONGCACHE_CACHE_DIR overrides cache.dir
	v.SetEnvPrefix("SONGCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache directory cannot be empty")
	}

	if !strings.HasPrefix(c.Cache.AudioExt, ".") || !strings.HasPrefix(c.Cache.ImageExt, ".") {
		return fmt.Errorf("cache extensions must start with a dot")
	}

	if c.Cache.AudioExt == c.Cache.ImageExt {
		return fmt.Errorf("audio and image extensions must differ")
	}

	if c.Cache.DefaultCategory == "" {
		c.Cache.DefaultCategory = "default"
	}

	switch c.Store.Backend {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("sqlite backend requires a db path")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis backend requires an address")
		}
		if c.Store.RedisDB < 0 {
			return fmt.Errorf("redis db cannot be negative")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store backend: %s (must be sqlite, redis, or memory)", c.Store.Backend)
	}

	if c.Store.Key == "" {
		return fmt.Errorf("store key cannot be empty")
	}

	if c.Network.Timeout < 1 {
		return fmt.Errorf("network timeout must be at least 1 second")
	}

	if c.Network.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}

	if c.Network.Burst < 1 {
		return fmt.Errorf("network burst must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}

	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s (must be file, console, or both)", c.Logging.Output)
	}

	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("log max backups cannot be negative")
	}

	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("log max age cannot be negative")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics listen address cannot be empty when metrics are enabled")
	}

	return nil
}

// Save saves the configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.Set("cache", c.Cache)
	v.Set("store", c.Store)
	v.Set("network", c.Network)
	v.Set("catalog", c.Catalog)
	v.Set("logging", c.Logging)
	v.Set("metrics", c.Metrics)

	return v.WriteConfigAs(path)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	dataDir := GetDataDir()

	v.SetDefault("cache.dir", filepath.Join(dataDir, "media"))
	v.SetDefault("cache.audio_ext", ".mp3")
	v.SetDefault("cache.image_ext", ".jpg")
	v.SetDefault("cache.default_category", "default")

	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.db_path", filepath.Join(dataDir, "data", "metadata.db"))
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.key", "downloadedSongs")

	v.SetDefault("network.timeout", 60)
	v.SetDefault("network.requests_per_second", 4)
	v.SetDefault("network.burst", 2)

	v.SetDefault("catalog.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(dataDir, "logs", "songcache.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")
}

// ensureConfigDir ensures the configuration directory exists
func ensureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

// GetDataDir returns the application data directory.
// SONGCACHE_HOME takes precedence over the platform default.
func GetDataDir() string {
	if home := os.Getenv("SONGCACHE_HOME"); home != "" {
		return home
	}

	appData := os.Getenv("APPDATA")
	if appData == "" {
		appData = os.Getenv("HOME")
	}
	return filepath.Join(appData, "SongCache")
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(GetDataDir(), "settings.json")
}
