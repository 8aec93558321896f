// Package config loads and validates edition-fetcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Timezone string         `mapstructure:"timezone"`
	Locale   string         `mapstructure:"locale"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Staging  StagingConfig  `mapstructure:"staging"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CatalogConfig points at the YAML source catalog.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// LedgerConfig selects and configures the ledger backend.
type LedgerConfig struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DeliveryConfig selects and configures the remote file store.
type DeliveryConfig struct {
	Transport string      `mapstructure:"transport"`
	FTP       FTPConfig   `mapstructure:"ftp"`
	GCS       GCSConfig   `mapstructure:"gcs"`
	Local     LocalConfig `mapstructure:"local"`
}

// FTPConfig configures the FTP transport.
type FTPConfig struct {
	Address              string `mapstructure:"address"`
	User                 string `mapstructure:"user"`
	Password             string `mapstructure:"password"`
	BasePath             string `mapstructure:"base_path"`
	ConnectWindowSeconds int    `mapstructure:"connect_window_seconds"`
	RetryIntervalSeconds int    `mapstructure:"retry_interval_seconds"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
}

// GCSConfig configures the GCS transport.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// LocalConfig configures the filesystem transport.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// HTTPConfig configures the session HTTP client and page fetcher.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	UserAgent         string  `mapstructure:"user_agent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HeadlessConfig configures the chromedp browser.
type HeadlessConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	Headless              bool   `mapstructure:"headless"`
	ExecPath              string `mapstructure:"exec_path"`
	WindowWidth           int    `mapstructure:"window_width"`
	WindowHeight          int    `mapstructure:"window_height"`
	NavTimeoutSeconds     int    `mapstructure:"nav_timeout_seconds"`
	ElementTimeoutSeconds int    `mapstructure:"element_timeout_seconds"`
	StepDelaySeconds      int    `mapstructure:"step_delay_seconds"`
}

// AuthConfig tunes login retries.
type AuthConfig struct {
	SessionAttempts        int `mapstructure:"session_attempts"`
	SessionWaitSeconds     int `mapstructure:"session_wait_seconds"`
	InteractiveAttempts    int `mapstructure:"interactive_attempts"`
	InteractiveWaitSeconds int `mapstructure:"interactive_wait_seconds"`
}

// ExtractConfig holds extraction defaults a root source may override.
type ExtractConfig struct {
	MaxPages               int `mapstructure:"max_pages"`
	DownloadTimeoutSeconds int `mapstructure:"download_timeout_seconds"`
	PollIntervalSeconds    int `mapstructure:"poll_interval_seconds"`
}

// StagingConfig sets where sessions stage files before upload.
type StagingConfig struct {
	Dir string `mapstructure:"dir"`
}

// NotifyConfig configures delivery event publishers.
type NotifyConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
	SNS    SNSConfig    `mapstructure:"sns"`
	Log    bool         `mapstructure:"log"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SNSConfig configures the AWS SNS publisher.
type SNSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	TopicARN string `mapstructure:"topic_arn"`
	Region   string `mapstructure:"region"`
}

// MetricsConfig configures the pushgateway used after one-shot runs.
type MetricsConfig struct {
	PushURL string `mapstructure:"push_url"`
	Job     string `mapstructure:"job"`
}

// ServerConfig controls the serve command.
type ServerConfig struct {
	Port                  int    `mapstructure:"port"`
	APIKey                string `mapstructure:"api_key"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// Load builds a Config from .env, the environment and an optional file.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("EDITIONS")
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
	cfg.Delivery.FTP.Password = os.ExpandEnv(cfg.Delivery.FTP.Password)
	cfg.Ledger.DSN = os.ExpandEnv(cfg.Ledger.DSN)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("timezone", "Europe/Madrid")
	v.SetDefault("locale", "es_ES")
	v.SetDefault("catalog.path", "catalog.yaml")
	v.SetDefault("ledger.backend", "sqlite")
	v.SetDefault("ledger.path", "data/ledger.db")
	v.SetDefault("ledger.table", "ledger_entries")
	v.SetDefault("ledger.max_conns", 4)
	v.SetDefault("delivery.transport", "local")
	v.SetDefault("delivery.local.base_dir", "data/delivered")
	v.SetDefault("delivery.ftp.connect_window_seconds", 300)
	v.SetDefault("delivery.ftp.retry_interval_seconds", 10)
	v.SetDefault("delivery.ftp.timeout_seconds", 30)
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("http.requests_per_second", 2.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.headless", true)
	v.SetDefault("headless.window_width", 1920)
	v.SetDefault("headless.window_height", 1080)
	v.SetDefault("headless.nav_timeout_seconds", 60)
	v.SetDefault("headless.element_timeout_seconds", 15)
	v.SetDefault("headless.step_delay_seconds", 2)
	v.SetDefault("auth.session_attempts", 3)
	v.SetDefault("auth.session_wait_seconds", 10)
	v.SetDefault("auth.interactive_attempts", 2)
	v.SetDefault("auth.interactive_wait_seconds", 5)
	v.SetDefault("extract.max_pages", 400)
	v.SetDefault("extract.download_timeout_seconds", 120)
	v.SetDefault("extract.poll_interval_seconds", 1)
	v.SetDefault("staging.dir", "")
	v.SetDefault("notify.log", true)
	v.SetDefault("metrics.job", "edition-fetcher")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Catalog.Path) == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}

	switch c.Ledger.Backend {
	case "sqlite", "bolt":
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the %s backend", c.Ledger.Backend)
		}
	case "postgres":
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend)
	}

	switch c.Delivery.Transport {
	case "ftp":
		if c.Delivery.FTP.Address == "" {
			return fmt.Errorf("delivery.ftp.address is required")
		}
		if c.Delivery.FTP.RetryIntervalSeconds <= 0 {
			return fmt.Errorf("delivery.ftp.retry_interval_seconds must be > 0")
		}
	case "gcs":
		if c.Delivery.GCS.Bucket == "" {
			return fmt.Errorf("delivery.gcs.bucket is required")
		}
	case "local":
		if c.Delivery.Local.BaseDir == "" {
			return fmt.Errorf("delivery.local.base_dir is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown delivery.transport %q", c.Delivery.Transport)
	}

	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
	}
	if c.Auth.SessionAttempts <= 0 || c.Auth.InteractiveAttempts <= 0 {
		return fmt.Errorf("auth attempts must be > 0")
	}
	if c.Extract.MaxPages <= 0 {
		return fmt.Errorf("extract.max_pages must be > 0")
	}
	if c.Notify.PubSub.Enabled && (c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.TopicName == "") {
		return fmt.Errorf("notify.pubsub requires project_id and topic_name")
	}
	if c.Notify.SNS.Enabled && c.Notify.SNS.TopicARN == "" {
		return fmt.Errorf("notify.sns.topic_arn is required when sns is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// Seconds converts a seconds knob to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
