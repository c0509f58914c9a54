// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrover/jobrover/internal/scan"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig           `mapstructure:"server"`
	Auth      AuthConfig             `mapstructure:"auth"`
	Engine    EngineConfig           `mapstructure:"engine"`
	Budget    scan.PolicyConstraints `mapstructure:"budget"`
	Fetcher   FetcherConfig          `mapstructure:"fetcher"`
	Renderer  RendererConfig         `mapstructure:"renderer"`
	Completer CompleterConfig        `mapstructure:"completer"`
	Storage   StorageConfig          `mapstructure:"storage"`
	DB        DBConfig               `mapstructure:"db"`
	PubSub    PubSubConfig           `mapstructure:"pubsub"`
	Logging   LoggingConfig          `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// EngineConfig governs scan execution and the run queue.
type EngineConfig struct {
	Workers          int    `mapstructure:"workers"`
	MaxSourceWorkers int    `mapstructure:"max_source_workers"`
	QueueDepth       int    `mapstructure:"queue_depth"`
	CompletionTopic  string `mapstructure:"completion_topic"`
	DraftTopK        int    `mapstructure:"draft_top_k"`
}

// FetcherConfig configures the HTTP fetch client.
type FetcherConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout converts the configured fetch timeout into a duration.
func (c FetcherConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RendererConfig configures the headless rendering subsystem.
type RendererConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	Screenshots   bool `mapstructure:"screenshots"`
}

// CompleterConfig configures the language-model capability.
type CompleterConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	// Backend is "memory" or "postgres" for the relational stores.
	Backend string `mapstructure:"backend"`
	// BlobBackend is "memory", "local" or "gcs" for artifact storage.
	BlobBackend string `mapstructure:"blob_backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe wiring. ScanTopic
// and ScanSubscription are optional; when both are set the scan queue
// itself runs on Pub/Sub instead of process memory.
type PubSubConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	ProjectID        string `mapstructure:"project_id"`
	ScanTopic        string `mapstructure:"scan_topic"`
	ScanSubscription string `mapstructure:"scan_subscription"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCANENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("engine.workers", 2)
	v.SetDefault("engine.max_source_workers", 4)
	v.SetDefault("engine.queue_depth", 64)
	v.SetDefault("engine.completion_topic", "scan-complete")
	v.SetDefault("engine.draft_top_k", 5)
	v.SetDefault("budget.max_pages_per_source", scan.DefaultMaxPagesPerSource)
	v.SetDefault("budget.max_jobs_per_source", scan.DefaultMaxJobsPerSource)
	v.SetDefault("budget.max_tokens_per_run", scan.DefaultMaxTokensPerRun)
	v.SetDefault("budget.max_run_duration", scan.DefaultMaxRunDuration)
	v.SetDefault("budget.rate_per_domain", scan.DefaultRatePerDomain)
	v.SetDefault("fetcher.user_agent", "jobrover-bot/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("renderer.enabled", false)
	v.SetDefault("renderer.max_parallel", 1)
	v.SetDefault("renderer.nav_timeout_seconds", 25)
	v.SetDefault("completer.model", "gemini-2.0-flash")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.blob_backend", "memory")
	v.SetDefault("storage.prefix", "artifacts")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be > 0")
	}
	if c.Engine.QueueDepth <= 0 {
		return fmt.Errorf("engine.queue_depth must be > 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Renderer.Enabled && c.Renderer.MaxParallel <= 0 {
		return fmt.Errorf("renderer.max_parallel must be > 0 when the renderer is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when storage.backend is postgres")
		}
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	switch c.Storage.BlobBackend {
	case "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.blob_backend is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.blob_backend is gcs")
		}
	default:
		return fmt.Errorf("storage.blob_backend must be memory, local or gcs, got %q", c.Storage.BlobBackend)
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	if (c.PubSub.ScanTopic == "") != (c.PubSub.ScanSubscription == "") {
		return fmt.Errorf("pubsub.scan_topic and pubsub.scan_subscription must be set together")
	}
	if c.PubSub.ScanTopic != "" && !c.PubSub.Enabled {
		return fmt.Errorf("pubsub must be enabled to back the scan queue")
	}
	return nil
}
