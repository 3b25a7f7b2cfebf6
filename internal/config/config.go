// Package config loads and validates erasure configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Mail     MailConfig     `mapstructure:"mail"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
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

// CrawlerConfig governs the contact crawler.
type CrawlerConfig struct {
	UserAgent       string   `mapstructure:"user_agent"`
	MaxDepth        int      `mapstructure:"max_depth"`
	Keywords        []string `mapstructure:"keywords"`
	SectionKeywords []string `mapstructure:"section_keywords"`
	IgnoreRobots    bool     `mapstructure:"ignore_robots"`
	RatePerSecond   float64  `mapstructure:"rate_per_second"`
	RateBurst       int      `mapstructure:"rate_burst"`
}

// HTTPConfig configures fetch timeouts and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	MaxParallel         int      `mapstructure:"max_parallel"`
	NavTimeoutSec       int      `mapstructure:"nav_timeout_seconds"`
	ChallengeTimeoutSec int      `mapstructure:"challenge_timeout_seconds"`
	PromotionThresh     int      `mapstructure:"promotion_threshold"`
	CookieLabels        []string `mapstructure:"cookie_labels"`
}

// MailConfig selects and configures the mailbox provider.
type MailConfig struct {
	Provider        string `mapstructure:"provider"`
	CredentialsFile string `mapstructure:"credentials_file"`
	TokenFile       string `mapstructure:"token_file"`
	Sender          string `mapstructure:"sender"`
	MaxResults      int    `mapstructure:"max_results"`
}

// PollerConfig configures confirmation polling.
type PollerConfig struct {
	IntervalSeconds  int    `mapstructure:"interval_seconds"`
	MaxDurationHours int    `mapstructure:"max_duration_hours"`
	MaxTicks         int    `mapstructure:"max_ticks"`
	MatchStrategy    string `mapstructure:"match_strategy"`
	Phrase           string `mapstructure:"phrase"`
	JSONField        string `mapstructure:"json_field"`
	ScopeToDomain    bool   `mapstructure:"scope_to_domain"`
	MarkRead         string `mapstructure:"mark_read"`
}

// WorkflowConfig drives the record runner.
type WorkflowConfig struct {
	InputPath          string `mapstructure:"input_path"`
	RecordDelaySeconds int    `mapstructure:"record_delay_seconds"`
	ConfirmWorkers     int    `mapstructure:"confirm_workers"`
	QueueDepth         int    `mapstructure:"queue_depth"`
	PrivacyLaw         string `mapstructure:"privacy_law"`
	ResponseDays       int    `mapstructure:"response_days"`
	StatusPrefix       string `mapstructure:"status_prefix"`
}

// LedgerConfig names the ledger document.
type LedgerConfig struct {
	Document string `mapstructure:"document"`
}

// CacheConfig names the domain cache document.
type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Document string `mapstructure:"document"`
}

// StorageConfig selects the document store backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
}

// PubSubConfig holds metadata for outcome notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig toggles OpenTelemetry span recording.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ERASURE")
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
	v.SetDefault("crawler.user_agent", "erasure-bot/0.1")
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.keywords", []string{"contact", "support", "about", "help"})
	v.SetDefault("crawler.section_keywords", []string{"contact", "support", "help"})
	v.SetDefault("crawler.ignore_robots", true)
	v.SetDefault("crawler.rate_per_second", 1.0)
	v.SetDefault("crawler.rate_burst", 1)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.challenge_timeout_seconds", 20)
	v.SetDefault("headless.promotion_threshold", 25)
	v.SetDefault("headless.cookie_labels", []string{
		"Accept all", "Accept All Cookies", "Accept", "I agree", "Agree", "Allow all", "Got it", "OK",
	})
	v.SetDefault("mail.provider", "gmail")
	v.SetDefault("mail.credentials_file", "credentials.json")
	v.SetDefault("mail.token_file", "token.json")
	v.SetDefault("mail.max_results", 20)
	v.SetDefault("poller.interval_seconds", 3600)
	v.SetDefault("poller.max_duration_hours", 720)
	v.SetDefault("poller.max_ticks", 0)
	v.SetDefault("poller.match_strategy", "phrase")
	v.SetDefault("poller.phrase", "deletion confirmed")
	v.SetDefault("poller.json_field", "deletionConfirmed")
	v.SetDefault("poller.scope_to_domain", false)
	v.SetDefault("poller.mark_read", "all")
	v.SetDefault("workflow.input_path", "data/users.csv")
	v.SetDefault("workflow.record_delay_seconds", 5)
	v.SetDefault("workflow.confirm_workers", 0)
	v.SetDefault("workflow.queue_depth", 64)
	v.SetDefault("workflow.privacy_law", "GDPR and CCPA")
	v.SetDefault("workflow.response_days", 30)
	v.SetDefault("workflow.status_prefix", "status")
	v.SetDefault("ledger.document", "completed_tasks.json")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.document", "domain_data.json")
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.table", "documents")
	v.SetDefault("logging.development", true)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "erasure")
}

var (
	mailProviders   = map[string]bool{"gmail": true, "memory": true}
	matchStrategies = map[string]bool{"phrase": true, "json_field": true, "any": true}
	markReadModes   = map[string]bool{"all": true, "matched": true, "none": true}
	storageBackends = map[string]bool{"local": true, "memory": true, "gcs": true, "postgres": true}
)

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if len(c.Crawler.Keywords) == 0 {
		return fmt.Errorf("crawler.keywords must not be empty")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if !mailProviders[c.Mail.Provider] {
		return fmt.Errorf("mail.provider %q is not supported", c.Mail.Provider)
	}
	if c.Mail.MaxResults <= 0 {
		return fmt.Errorf("mail.max_results must be > 0")
	}
	if c.Poller.IntervalSeconds <= 0 {
		return fmt.Errorf("poller.interval_seconds must be > 0")
	}
	if c.Poller.MaxDurationHours <= 0 {
		return fmt.Errorf("poller.max_duration_hours must be > 0")
	}
	if c.Poller.MaxTicks < 0 {
		return fmt.Errorf("poller.max_ticks must be >= 0")
	}
	if !matchStrategies[c.Poller.MatchStrategy] {
		return fmt.Errorf("poller.match_strategy %q is not supported", c.Poller.MatchStrategy)
	}
	if !markReadModes[c.Poller.MarkRead] {
		return fmt.Errorf("poller.mark_read %q is not supported", c.Poller.MarkRead)
	}
	if c.Workflow.ConfirmWorkers < 0 {
		return fmt.Errorf("workflow.confirm_workers must be >= 0")
	}
	if c.Workflow.ConfirmWorkers > 0 && c.Workflow.QueueDepth <= 0 {
		return fmt.Errorf("workflow.queue_depth must be > 0 when confirm_workers is set")
	}
	// Background confirmations share one inbox; marking every inspected
	// message read would hide other targets' replies.
	if c.Workflow.ConfirmWorkers > 0 && c.Poller.MarkRead == "all" {
		return fmt.Errorf("poller.mark_read must be matched or none when confirm_workers is set")
	}
	if c.Ledger.Document == "" {
		return fmt.Errorf("ledger.document must be set")
	}
	if c.Cache.Enabled && c.Cache.Document == "" {
		return fmt.Errorf("cache.document must be set when the cache is enabled")
	}
	if !storageBackends[c.Storage.Backend] {
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres backend")
		}
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout returns the per-request fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PollInterval returns the delay between confirmation polls.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalSeconds) * time.Second
}

// PollMaxDuration returns the confirmation window.
func (c Config) PollMaxDuration() time.Duration {
	return time.Duration(c.Poller.MaxDurationHours) * time.Hour
}

// RecordDelay returns the pause between processed records.
func (c Config) RecordDelay() time.Duration {
	return time.Duration(c.Workflow.RecordDelaySeconds) * time.Second
}
