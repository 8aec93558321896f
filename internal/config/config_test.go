package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Ledger.Backend)
	assert.Equal(t, "local", cfg.Delivery.Transport)
	assert.Equal(t, 300, cfg.Delivery.FTP.ConnectWindowSeconds)
	assert.Equal(t, 10, cfg.Delivery.FTP.RetryIntervalSeconds)
	assert.Equal(t, 3, cfg.Auth.SessionAttempts)
	assert.Equal(t, 10*time.Second, Seconds(cfg.Auth.SessionWaitSeconds))
	assert.Equal(t, 2, cfg.Auth.InteractiveAttempts)
	assert.Equal(t, 400, cfg.Extract.MaxPages)
	assert.Equal(t, "es_ES", cfg.Locale)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
logging:
  development: true
timezone: Europe/Paris
locale: fr_FR
catalog:
  path: /etc/editions/catalog.yaml
ledger:
  backend: postgres
  dsn: postgres://ledger@localhost/editions
  table: entregas
delivery:
  transport: ftp
  ftp:
    address: ftp.example.test:21
    user: editions
    password: secret
    base_path: /incoming
    connect_window_seconds: 60
headless:
  enabled: true
  step_delay_seconds: 1
auth:
  session_attempts: 5
notify:
  pubsub:
    enabled: true
    project_id: press
    topic_name: editions
  sns:
    enabled: true
    topic_arn: arn:aws:sns:eu-west-1:123456789012:editions
    region: eu-west-1
metrics:
  push_url: http://pushgateway:9091
server:
  port: 9090
  api_key: k
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "Europe/Paris", cfg.Timezone)
	assert.Equal(t, "postgres", cfg.Ledger.Backend)
	assert.Equal(t, "entregas", cfg.Ledger.Table)
	assert.Equal(t, "ftp.example.test:21", cfg.Delivery.FTP.Address)
	assert.Equal(t, 60, cfg.Delivery.FTP.ConnectWindowSeconds)
	assert.Equal(t, 10, cfg.Delivery.FTP.RetryIntervalSeconds)
	assert.Equal(t, 5, cfg.Auth.SessionAttempts)
	assert.Equal(t, "editions", cfg.Notify.PubSub.TopicName)
	assert.Equal(t, "eu-west-1", cfg.Notify.SNS.Region)
	assert.Equal(t, "http://pushgateway:9091", cfg.Metrics.PushURL)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Timezone: "UTC",
		Catalog:  CatalogConfig{Path: "catalog.yaml"},
		Ledger:   LedgerConfig{Backend: "memory"},
		Delivery: DeliveryConfig{Transport: "memory"},
		HTTP:     HTTPConfig{TimeoutSeconds: 10},
		Auth:     AuthConfig{SessionAttempts: 3, InteractiveAttempts: 2},
		Extract:  ExtractConfig{MaxPages: 400},
		Server:   ServerConfig{Port: 8080},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "no catalog", mutate: func(c *Config) { c.Catalog.Path = "" }, want: "catalog.path"},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, want: "timezone"},
		{name: "unknown ledger", mutate: func(c *Config) { c.Ledger.Backend = "redis" }, want: "ledger.backend"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Ledger.Backend = "sqlite" }, want: "ledger.path"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Ledger.Backend = "postgres" }, want: "ledger.dsn"},
		{name: "unknown transport", mutate: func(c *Config) { c.Delivery.Transport = "s3" }, want: "delivery.transport"},
		{name: "ftp without address", mutate: func(c *Config) { c.Delivery.Transport = "ftp" }, want: "delivery.ftp.address"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Delivery.Transport = "gcs" }, want: "delivery.gcs.bucket"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "headless without timeout", mutate: func(c *Config) { c.Headless.Enabled = true }, want: "headless.nav_timeout_seconds"},
		{name: "no login attempts", mutate: func(c *Config) { c.Auth.SessionAttempts = 0 }, want: "auth attempts"},
		{name: "pubsub without topic", mutate: func(c *Config) { c.Notify.PubSub.Enabled = true }, want: "notify.pubsub"},
		{name: "sns without arn", mutate: func(c *Config) { c.Notify.SNS.Enabled = true }, want: "notify.sns.topic_arn"},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
