package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Estimator   EstimatorConfig `toml:"estimator"`
	Worker      WorkerConfig    `toml:"worker"`
	Provider    ProviderConfig  `toml:"provider"`
	Pricing     PricingConfig   `toml:"pricing"`
	Logging     LoggingConfig   `toml:"logging"`
	Bridge      BridgeConfig    `toml:"bridge"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// QueueConfig selects and tunes the queue backend
type QueueConfig struct {
	Backend           string `toml:"backend"`            // "memory" or "badger"
	Name              string `toml:"name"`               // Queue name prefix in Badger
	MaxAttempts       int    `toml:"max_attempts"`       // Retry budget before a job fails terminally
	RetryBaseDelay    string `toml:"retry_base_delay"`   // First retry delay, doubled per attempt
	RetryMaxDelay     string `toml:"retry_max_delay"`    // Backoff ceiling
	FailureLogDepth   int    `toml:"failure_log_depth"`  // Bounded failed-entry history per queue
}

// EstimatorConfig tunes the queue snapshot heuristics. These are display
// values, not scheduling promises.
type EstimatorConfig struct {
	AvgJobSeconds           int `toml:"avg_job_seconds"`
	QueueSlotSeconds        int `toml:"queue_slot_seconds"`
	MinProcessingEtaSeconds int `toml:"min_processing_eta_seconds"`
}

// WorkerConfig tunes the tick driver
type WorkerConfig struct {
	TickInterval  string `toml:"tick_interval"`  // e.g. "2s" - cadence of the tick schedule
	BatchLimit    int    `toml:"batch_limit"`    // Max jobs advanced per tick
	PollDelay     string `toml:"poll_delay"`     // Spacing between provider polls for one job
	StaleAfter    string `toml:"stale_after"`    // In-flight jobs untouched longer than this are swept
	SweepSchedule string `toml:"sweep_schedule"` // Cron schedule for the stale-job sweep
}

// ProviderConfig selects the generation provider
type ProviderConfig struct {
	Default string               `toml:"default"` // "mock" or "remote"
	Remote  RemoteProviderConfig `toml:"remote"`
}

type RemoteProviderConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"` // Requests per second
	Timeout   string `toml:"timeout"`
}

// PricingConfig maps generation modes to token cost
type PricingConfig struct {
	TextTo3D  int `toml:"text_to_3d"`
	ImageTo3D int `toml:"image_to_3d"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// BridgeConfig tunes the DCC bridge pairing flow
type BridgeConfig struct {
	PairCodeTTL string `toml:"pair_code_ttl"` // e.g. "10m"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Queue: QueueConfig{
			Backend:           "badger",
			Name:              "forge_jobs",
			MaxAttempts:       3,
			RetryBaseDelay:    "15s",
			RetryMaxDelay:     "4m",
			FailureLogDepth:   200,
		},
		Estimator: EstimatorConfig{
			AvgJobSeconds:           90,
			QueueSlotSeconds:        20,
			MinProcessingEtaSeconds: 10,
		},
		Worker: WorkerConfig{
			TickInterval:  "2s",
			BatchLimit:    10,
			PollDelay:     "3s",
			StaleAfter:    "15m",
			SweepSchedule: "0 */5 * * * *", // Every 5 minutes (cron format with seconds)
		},
		Provider: ProviderConfig{
			Default: "mock",
			Remote: RemoteProviderConfig{
				RateLimit: 5,
				Timeout:   "30s",
			},
		},
		Pricing: PricingConfig{
			TextTo3D:  10,
			ImageTo3D: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Bridge: BridgeConfig{
			PairCodeTTL: "10m",
		},
	}
}

// LoadFromFiles loads configuration from defaults, then overlays each TOML
// file in order, then environment variables. Later sources win.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies FORGE_* environment variables over the loaded config
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FORGE_ENV"); v != "" {
		config.Environment = v
	}
	if v := os.Getenv("FORGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("FORGE_QUEUE_BACKEND"); v != "" {
		config.Queue.Backend = v
	}
	if v := os.Getenv("FORGE_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("FORGE_PROVIDER_API_KEY"); v != "" {
		config.Provider.Remote.APIKey = v
	}
	if v := os.Getenv("FORGE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction reports whether the config targets a production deployment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ParseDuration parses a duration string with a fallback default
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
