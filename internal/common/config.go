package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/easel/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Logging     LoggingConfig    `toml:"logging"`
	Storage     StorageConfig    `toml:"storage"`
	Nodes       NodesConfig      `toml:"nodes"`
	Workers     WorkersConfig    `toml:"workers"`
	Templates   TemplatesConfig  `toml:"templates"`
	Catalog     CatalogConfig    `toml:"catalog"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
	Rewriter    RewriterConfig   `toml:"rewriter"`
	Generation  GenerationConfig `toml:"generation"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

type StorageConfig struct {
	Badger BadgerConfig     `toml:"badger"`
	Images ImageStoreConfig `toml:"images"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"`
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type ImageStoreConfig struct {
	Dir string `toml:"dir" validate:"required"` // Base directory for generated artifacts
}

// NodesConfig points at the declarative GPU node inventory file.
type NodesConfig struct {
	InventoryPath string `toml:"inventory_path" validate:"required"`
}

// WorkersConfig carries every timeout and interval governing worker I/O.
// Durations are strings ("3s", "5m") parsed at load time.
type WorkersConfig struct {
	ProbeInterval   string `toml:"probe_interval"`   // Health probe tick (default 10s)
	ProbeTimeout    string `toml:"probe_timeout"`    // Per-probe deadline (default 3s)
	SubmitTimeout   string `toml:"submit_timeout"`   // Job submission deadline (default 30s)
	PollInterval    string `toml:"poll_interval"`    // History poll spacing (default 1s)
	PollTimeout     string `toml:"poll_timeout"`     // Per-history-poll deadline (default 5s)
	ArtifactTimeout string `toml:"artifact_timeout"` // Artifact fetch deadline (default 60s)
	JobTimeout      string `toml:"job_timeout"`      // Dispatch-to-complete deadline (default 300s)
	KeepaliveEvery  string `toml:"keepalive_every"`  // WS application keepalive (default 30s)
	ReconnectMin    string `toml:"reconnect_min"`    // WS backoff floor (default 1s)
	ReconnectMax    string `toml:"reconnect_max"`    // WS backoff cap (default 30s)
}

type TemplatesConfig struct {
	Dir string `toml:"dir" validate:"required"` // Directory with manifest.yaml and graph files
}

// CatalogConfig controls the model catalog refresh schedule.
type CatalogConfig struct {
	RefreshSchedule string `toml:"refresh_schedule"` // Cron expression (default every 5 minutes)
	StaleSweep      string `toml:"stale_sweep"`      // Cron expression for stale job sweep
}

// WebSocketConfig contains configuration for the downstream session hub.
type WebSocketConfig struct {
	// Throttle intervals for high-frequency events. Map of event type to duration string.
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
	// Bounded per-subscriber buffer; progress events are dropped when full.
	SubscriberBuffer int `toml:"subscriber_buffer"`
}

// RewriterConfig selects the prompt rewriter implementation.
type RewriterConfig struct {
	Mode    string `toml:"mode" validate:"oneof=none claude"` // "none" or "claude"
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	Timeout string `toml:"timeout"`
}

// GenerationConfig carries executor policy knobs.
type GenerationConfig struct {
	OverflowThreshold int `toml:"overflow_threshold"` // Queue depth above which the router spills (default 3)
	MaxAutoAdapters   int `toml:"max_auto_adapters"`  // Adapter auto-selection cap (default 3)
}

// NewDefaultConfig returns configuration defaults. Files, environment
// variables and CLI flags layer on top in that order.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8095,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/easel.db",
				ResetOnStartup: false,
			},
			Images: ImageStoreConfig{
				Dir: "./data/images",
			},
		},
		Nodes: NodesConfig{
			InventoryPath: "./config/nodes.yaml",
		},
		Workers: WorkersConfig{
			ProbeInterval:   "10s",
			ProbeTimeout:    "3s",
			SubmitTimeout:   "30s",
			PollInterval:    "1s",
			PollTimeout:     "5s",
			ArtifactTimeout: "60s",
			JobTimeout:      "300s",
			KeepaliveEvery:  "30s",
			ReconnectMin:    "1s",
			ReconnectMax:    "30s",
		},
		Templates: TemplatesConfig{
			Dir: "./config/templates",
		},
		Catalog: CatalogConfig{
			RefreshSchedule: "*/5 * * * *",
			StaleSweep:      "*/5 * * * *",
		},
		WebSocket: WebSocketConfig{
			ThrottleIntervals: map[string]string{
				"progress": "250ms",
			},
			SubscriberBuffer: 64,
		},
		Rewriter: RewriterConfig{
			Mode:    "none",
			Model:   "claude-haiku-3-5-20241022",
			Timeout: "30s",
		},
		Generation: GenerationConfig{
			OverflowThreshold: 3,
			MaxAutoAdapters:   3,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files. Invalid configuration surfaces as a ConfigError, fatal at startup.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, models.WrapError(models.ErrConfig, fmt.Sprintf("failed to read config file %s", path), err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, models.WrapError(models.ErrConfig,
				fmt.Sprintf("failed to parse config file %s (file %d of %d)", path, i+1, len(paths)), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks structural and duration-string validity.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return models.WrapError(models.ErrConfig, "invalid configuration", err)
	}

	durations := map[string]string{
		"workers.probe_interval":   c.Workers.ProbeInterval,
		"workers.probe_timeout":    c.Workers.ProbeTimeout,
		"workers.submit_timeout":   c.Workers.SubmitTimeout,
		"workers.poll_interval":    c.Workers.PollInterval,
		"workers.poll_timeout":     c.Workers.PollTimeout,
		"workers.artifact_timeout": c.Workers.ArtifactTimeout,
		"workers.job_timeout":      c.Workers.JobTimeout,
		"workers.keepalive_every":  c.Workers.KeepaliveEvery,
		"workers.reconnect_min":    c.Workers.ReconnectMin,
		"workers.reconnect_max":    c.Workers.ReconnectMax,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return models.Errorf(models.ErrConfig, "invalid duration for %s: %q", name, value)
		}
	}

	return nil
}

// Duration parses a config duration string, falling back to def when the
// string is empty or unparseable. Validate has already rejected bad values
// for the known fields, so the fallback only covers omissions.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("EASEL_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("EASEL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("EASEL_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("EASEL_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if imagesDir := os.Getenv("EASEL_IMAGES_DIR"); imagesDir != "" {
		config.Storage.Images.Dir = imagesDir
	}

	// Node inventory
	if inventory := os.Getenv("EASEL_NODES_INVENTORY"); inventory != "" {
		config.Nodes.InventoryPath = inventory
	}

	// Logging configuration
	if level := os.Getenv("EASEL_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("EASEL_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Rewriter configuration
	if mode := os.Getenv("EASEL_REWRITER_MODE"); mode != "" {
		config.Rewriter.Mode = mode
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		config.Rewriter.APIKey = key
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
