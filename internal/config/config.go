package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the kbsearch API configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Feed     FeedConfig     `yaml:"feed"`
	Index    IndexConfig    `yaml:"index"`
	Synonyms SynonymsConfig `yaml:"synonyms"`
	Content  ContentConfig  `yaml:"content"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// FeedConfig holds change-feed consumer settings.
type FeedConfig struct {
	Driver string `yaml:"driver"` // redis, kafka, none (default: none)

	// redis driver
	Addrs       []string `yaml:"addrs"`
	Password    string   `yaml:"password"`
	Stream      string   `yaml:"stream"`
	Group       string   `yaml:"group"`
	Consumer    string   `yaml:"consumer"`
	BlockMillis int64    `yaml:"block_millis"`
	Count       int64    `yaml:"count"`

	// kafka driver
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// IndexConfig holds index build, publish and pagination settings.
type IndexConfig struct {
	Path               string `yaml:"path"` // empty = in-memory generations
	BatchSize          int    `yaml:"batch_size"`
	QueueCapacity      int    `yaml:"queue_capacity"`
	RetryAttempts      int    `yaml:"retry_attempts"`
	RetryBackoffMillis int    `yaml:"retry_backoff_millis"`
	MinDocCount        uint64 `yaml:"min_doc_count"`
	RetentionGraceSec  int    `yaml:"retention_grace_sec"`
	RebuildIntervalMin int    `yaml:"rebuild_interval_min"` // 0 = no periodic rebuild
	RecencyWindowDays  int    `yaml:"recency_window_days"`
	DefaultPageSize    int    `yaml:"default_page_size"`
	MaxPageSize        int    `yaml:"max_page_size"`
}

// SynonymsConfig holds synonym dictionary settings.
type SynonymsConfig struct {
	Dir     string   `yaml:"dir"`
	Locales []string `yaml:"locales"`
}

// ContentConfig holds the upstream content service settings.
type ContentConfig struct {
	BaseURL    string `yaml:"base_url"`
	PageSize   int    `yaml:"page_size"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Feed.Driver == "" {
		c.Feed.Driver = "none"
	}
	if c.Index.BatchSize <= 0 {
		c.Index.BatchSize = 500
	}
	if c.Index.QueueCapacity <= 0 {
		c.Index.QueueCapacity = 4096
	}
	if c.Index.RetryAttempts <= 0 {
		c.Index.RetryAttempts = 3
	}
	if c.Index.RetryBackoffMillis <= 0 {
		c.Index.RetryBackoffMillis = 100
	}
	if c.Index.RetentionGraceSec <= 0 {
		c.Index.RetentionGraceSec = 60
	}
	if c.Index.RecencyWindowDays <= 0 {
		c.Index.RecencyWindowDays = 90
	}
	if c.Index.DefaultPageSize <= 0 {
		c.Index.DefaultPageSize = 20
	}
	if c.Index.MaxPageSize <= 0 {
		c.Index.MaxPageSize = 100
	}
	if len(c.Synonyms.Locales) == 0 {
		c.Synonyms.Locales = []string{"en"}
	}
	if c.Content.PageSize <= 0 {
		c.Content.PageSize = 200
	}
	if c.Content.TimeoutSec <= 0 {
		c.Content.TimeoutSec = 30
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Feed.Driver {
	case "none":
	case "redis":
		if len(c.Feed.Addrs) == 0 {
			return fmt.Errorf("feed.addrs is required for the redis driver")
		}
		if c.Feed.Stream == "" {
			return fmt.Errorf("feed.stream is required for the redis driver")
		}
	case "kafka":
		if len(c.Feed.Brokers) == 0 {
			return fmt.Errorf("feed.brokers is required for the kafka driver")
		}
		if c.Feed.Topic == "" {
			return fmt.Errorf("feed.topic is required for the kafka driver")
		}
	default:
		return fmt.Errorf("feed.driver must be \"redis\", \"kafka\" or \"none\", got %q", c.Feed.Driver)
	}
	if c.Content.BaseURL == "" {
		return fmt.Errorf("content.base_url is required")
	}
	if c.Synonyms.Dir == "" {
		return fmt.Errorf("synonyms.dir is required")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
