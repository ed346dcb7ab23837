// Package config provides environment-based configuration for the bridge server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the bridge server.
type Config struct {
	// Host is the address the server binds and advertises.
	Host string

	// PreferredPort is the first port of the ten-port claim range.
	PreferredPort int

	// DevtoolURL is the WebSocket debugger endpoint of the host process.
	// When empty the server starts without a debug attachment; execution
	// and log endpoints report the missing precondition.
	DevtoolURL string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// Monitor configuration
	Monitor MonitorConfig

	// Bridge configuration
	Bridge BridgeConfig

	// Cache configuration
	Cache CacheConfig
}

// MonitorConfig holds console monitor-specific configuration.
type MonitorConfig struct {
	Capacity     int // buffer capacity in entries
	MaxStringLen int // logged string truncation limit
	MaxArrayLen  int // logged array element limit
	MaxDepth     int // logged object nesting limit
	MaxKeys      int // logged object key enumeration limit
}

// BridgeConfig holds execution bridge-specific configuration.
type BridgeConfig struct {
	// WorkerMarker is the global whose presence marks a sandbox-capable worker.
	WorkerMarker string
	// FrameEntryPoint is the function the companion UI registers on window.
	FrameEntryPoint string
	CallTimeout     time.Duration
	MaxAttempts     int
	RetryDelay      time.Duration
}

// CacheConfig holds response cache and shaper configuration.
type CacheConfig struct {
	TTL         time.Duration
	Capacity    int
	TokenBudget int
}

// Load reads configuration from environment variables, then overlays values
// from the YAML file named by BRIDGE_CONFIG_FILE when it is set.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("BRIDGE_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWithDefaults loads configuration without validating required fields,
// useful for testing.
func LoadWithDefaults() *Config {
	return defaults()
}

func defaults() *Config {
	return &Config{
		Host:            getEnv("BRIDGE_HOST", "127.0.0.1"),
		PreferredPort:   getIntEnv("BRIDGE_PREFERRED_PORT", 9223),
		DevtoolURL:      getEnv("BRIDGE_DEVTOOL_URL", ""),
		ShutdownTimeout: getDurationEnv("BRIDGE_SHUTDOWN_TIMEOUT", 15*time.Second),
		Monitor: MonitorConfig{
			Capacity:     getIntEnv("BRIDGE_LOG_CAPACITY", 1000),
			MaxStringLen: getIntEnv("BRIDGE_LOG_MAX_STRING", 1000),
			MaxArrayLen:  getIntEnv("BRIDGE_LOG_MAX_ARRAY", 25),
			MaxDepth:     getIntEnv("BRIDGE_LOG_MAX_DEPTH", 4),
			MaxKeys:      getIntEnv("BRIDGE_LOG_MAX_KEYS", 50),
		},
		Bridge: BridgeConfig{
			WorkerMarker:    getEnv("BRIDGE_WORKER_MARKER", "hostPluginAPI"),
			FrameEntryPoint: getEnv("BRIDGE_FRAME_ENTRYPOINT", "__bridgeExecute"),
			CallTimeout:     getDurationEnv("BRIDGE_CALL_TIMEOUT", 8*time.Second),
			MaxAttempts:     getIntEnv("BRIDGE_MAX_ATTEMPTS", 2),
			RetryDelay:      getDurationEnv("BRIDGE_RETRY_DELAY", 500*time.Millisecond),
		},
		Cache: CacheConfig{
			TTL:         getDurationEnv("BRIDGE_CACHE_TTL", 5*time.Minute),
			Capacity:    getIntEnv("BRIDGE_CACHE_CAPACITY", 10),
			TokenBudget: getIntEnv("BRIDGE_TOKEN_BUDGET", 10000),
		},
	}
}

// fileConfig mirrors Config for the YAML overlay. Durations are strings in
// time.ParseDuration format. Only fields present in the file are applied.
type fileConfig struct {
	Host            *string `yaml:"host"`
	PreferredPort   *int    `yaml:"preferred_port"`
	DevtoolURL      *string `yaml:"devtool_url"`
	ShutdownTimeout *string `yaml:"shutdown_timeout"`

	Monitor struct {
		Capacity     *int `yaml:"capacity"`
		MaxStringLen *int `yaml:"max_string_len"`
		MaxArrayLen  *int `yaml:"max_array_len"`
		MaxDepth     *int `yaml:"max_depth"`
		MaxKeys      *int `yaml:"max_keys"`
	} `yaml:"monitor"`

	Bridge struct {
		WorkerMarker    *string `yaml:"worker_marker"`
		FrameEntryPoint *string `yaml:"frame_entrypoint"`
		CallTimeout     *string `yaml:"call_timeout"`
		MaxAttempts     *int    `yaml:"max_attempts"`
		RetryDelay      *string `yaml:"retry_delay"`
	} `yaml:"bridge"`

	Cache struct {
		TTL         *string `yaml:"ttl"`
		Capacity    *int    `yaml:"capacity"`
		TokenBudget *int    `yaml:"token_budget"`
	} `yaml:"cache"`
}

// applyFile overlays values from a YAML file onto the config.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	setString(&c.Host, fc.Host)
	setInt(&c.PreferredPort, fc.PreferredPort)
	setString(&c.DevtoolURL, fc.DevtoolURL)
	if err := setDuration(&c.ShutdownTimeout, fc.ShutdownTimeout); err != nil {
		return err
	}

	setInt(&c.Monitor.Capacity, fc.Monitor.Capacity)
	setInt(&c.Monitor.MaxStringLen, fc.Monitor.MaxStringLen)
	setInt(&c.Monitor.MaxArrayLen, fc.Monitor.MaxArrayLen)
	setInt(&c.Monitor.MaxDepth, fc.Monitor.MaxDepth)
	setInt(&c.Monitor.MaxKeys, fc.Monitor.MaxKeys)

	setString(&c.Bridge.WorkerMarker, fc.Bridge.WorkerMarker)
	setString(&c.Bridge.FrameEntryPoint, fc.Bridge.FrameEntryPoint)
	if err := setDuration(&c.Bridge.CallTimeout, fc.Bridge.CallTimeout); err != nil {
		return err
	}
	setInt(&c.Bridge.MaxAttempts, fc.Bridge.MaxAttempts)
	if err := setDuration(&c.Bridge.RetryDelay, fc.Bridge.RetryDelay); err != nil {
		return err
	}

	if err := setDuration(&c.Cache.TTL, fc.Cache.TTL); err != nil {
		return err
	}
	setInt(&c.Cache.Capacity, fc.Cache.Capacity)
	setInt(&c.Cache.TokenBudget, fc.Cache.TokenBudget)

	return nil
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.PreferredPort < 1 || c.PreferredPort > 65525 {
		return fmt.Errorf("BRIDGE_PREFERRED_PORT must leave room for a ten-port range, got %d", c.PreferredPort)
	}
	if c.Monitor.Capacity <= 0 {
		return fmt.Errorf("BRIDGE_LOG_CAPACITY must be positive, got %d", c.Monitor.Capacity)
	}
	if c.Bridge.MaxAttempts < 1 {
		return fmt.Errorf("BRIDGE_MAX_ATTEMPTS must be at least 1, got %d", c.Bridge.MaxAttempts)
	}
	if c.Bridge.FrameEntryPoint == "" {
		return fmt.Errorf("BRIDGE_FRAME_ENTRYPOINT is required")
	}
	if c.Bridge.WorkerMarker == "" {
		return fmt.Errorf("BRIDGE_WORKER_MARKER is required")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("BRIDGE_CACHE_CAPACITY must be positive, got %d", c.Cache.Capacity)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", *v, err)
	}
	*dst = d
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
