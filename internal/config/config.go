// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	DB        DBConfig                `mapstructure:"db"`
	PubSub    PubSubConfig            `mapstructure:"pubsub"`
	Storage   StorageConfig           `mapstructure:"storage"`
	Scheduler SchedulerConfig         `mapstructure:"scheduler"`
	Crawl     CrawlConfig             `mapstructure:"crawl"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the ledger database.
type DBConfig struct {
	DSN            string `mapstructure:"dsn"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	MaxConnLifeMin int    `mapstructure:"max_conn_life_minutes"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// PubSubConfig holds metadata for completion-event publishing.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// StorageConfig sets the raw payload archive destination.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// SchedulerConfig governs the priority overlay and pass fan-out.
type SchedulerConfig struct {
	PriorityLimit         int `mapstructure:"priority_limit"`
	PriorityCooldownHours int `mapstructure:"priority_cooldown_hours"`
	DispatchConcurrency   int `mapstructure:"dispatch_concurrency"`
}

// CrawlConfig configures the outbound source crawlers.
type CrawlConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RatingsBaseURL string `mapstructure:"ratings_base_url"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceConfig carries the per-source scheduling knobs.
type SourceConfig struct {
	BatchSize        int  `mapstructure:"batch_size"`
	BufferMinutes    int  `mapstructure:"buffer_minutes"`
	StaleReadmission bool `mapstructure:"stale_readmission"`
	IntervalSeconds  int  `mapstructure:"interval_seconds"`
	Enabled          bool `mapstructure:"enabled"`
}

// Buffer returns the reservation buffer window as a duration.
func (s SourceConfig) Buffer() time.Duration {
	return time.Duration(s.BufferMinutes) * time.Minute
}

// Interval returns the scheduling pass interval as a duration.
func (s SourceConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_life_minutes", 30)
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("pubsub.provider", "noop")
	v.SetDefault("storage.provider", "noop")
	v.SetDefault("storage.prefix", "payloads")
	v.SetDefault("scheduler.priority_limit", 5)
	v.SetDefault("scheduler.priority_cooldown_hours", 24)
	v.SetDefault("scheduler.dispatch_concurrency", 4)
	v.SetDefault("crawl.user_agent", "goodwatch-harvester/0.1")
	v.SetDefault("crawl.timeout_seconds", 20)
	v.SetDefault("logging.development", false)

	for _, source := range catalog.SourceTypes() {
		prefix := "sources." + string(source)
		v.SetDefault(prefix+".batch_size", 40)
		v.SetDefault(prefix+".buffer_minutes", 30)
		v.SetDefault(prefix+".stale_readmission", true)
		v.SetDefault(prefix+".interval_seconds", 60)
		v.SetDefault(prefix+".enabled", source == catalog.SourceRatings)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.PriorityLimit <= 0 {
		return fmt.Errorf("scheduler.priority_limit must be > 0")
	}
	if c.Scheduler.DispatchConcurrency <= 0 {
		return fmt.Errorf("scheduler.dispatch_concurrency must be > 0")
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set when storage.provider is gcs")
	}
	if c.PubSub.Provider == "pubsub" && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub.provider is pubsub")
	}
	for name, src := range c.Sources {
		if !catalog.SourceType(name).Valid() {
			return fmt.Errorf("sources.%s: unknown source", name)
		}
		if src.BatchSize < 1 || src.BatchSize > 100 {
			return fmt.Errorf("sources.%s.batch_size must be within 1..100", name)
		}
		if src.BufferMinutes <= 0 {
			return fmt.Errorf("sources.%s.buffer_minutes must be > 0", name)
		}
		if src.Enabled && src.IntervalSeconds <= 0 {
			return fmt.Errorf("sources.%s.interval_seconds must be > 0 when enabled", name)
		}
		if src.Enabled && catalog.SourceType(name) == catalog.SourceRatings && c.Crawl.RatingsBaseURL == "" {
			return fmt.Errorf("sources.ratings is enabled but crawl.ratings_base_url is not set")
		}
	}
	return nil
}

// PriorityCooldown returns the overlay cooldown as a duration.
func (c Config) PriorityCooldown() time.Duration {
	return time.Duration(c.Scheduler.PriorityCooldownHours) * time.Hour
}

// CrawlTimeout returns the outbound crawl timeout as a duration.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}
