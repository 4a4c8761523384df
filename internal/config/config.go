package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/segcache/internal/storage"
)

// Config represents the application configuration
type Config struct {
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Script  string        `yaml:"script"`
}

// CacheConfig contains storage settings for the cache connection
type CacheConfig struct {
	Base          string   `yaml:"base"`           // Root directory; empty = in-memory
	Partition     string   `yaml:"partition"`      // Sub-directory under base
	Ext           string   `yaml:"ext"`            // Collection file extension (default: db)
	Engine        string   `yaml:"engine"`         // memory, sqlite or badger
	Driver        string   `yaml:"driver"`         // sqlite3 or sqlite (default: sqlite3)
	SweepInterval Duration `yaml:"sweep_interval"` // Expired-document sweep period (default: 1m)
}

// StorageOptions converts the cache settings to storage options
func (c *CacheConfig) StorageOptions() storage.Options {
	return storage.Options{
		Base:          c.Base,
		Partition:     c.Partition,
		Ext:           c.Ext,
		Engine:        c.Engine,
		Driver:        c.Driver,
		SweepInterval: c.SweepInterval.Duration(),
	}
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // Log gathered metrics on exit
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Script == "" {
		cfg.Script = "main.lua"
	}

	// Cache defaults - in-memory unless a base directory is set
	if cfg.Cache.Ext == "" {
		cfg.Cache.Ext = storage.DefaultExt
	}
	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = storage.DriverSQLite3
	}
	if cfg.Cache.SweepInterval == 0 {
		cfg.Cache.SweepInterval = Duration(storage.DefaultSweepInterval)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
