// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "tabquery", cfg.Logger().ServiceName)
	assert.Equal(t, BackendCDP, cfg.Browser().Backend)
	assert.Equal(t, 9222, cfg.Browser().ChromePort)
	assert.Equal(t, 9223, cfg.Browser().EdgePort)
	assert.Equal(t, 10*time.Second, cfg.Browser().ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.Query().ActionTimeout)
	assert.False(t, cfg.Query().YieldHostMatches)
	assert.False(t, cfg.Query().DescendLightDOM)
	assert.Equal(t, int64(16<<20), cfg.Static().MaxBodyBytes)
	assert.Equal(t, "text", cfg.Output().Format)
	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestBrowserConfig_Port(t *testing.T) {
	b := NewDefaultConfig().Browser()

	assert.Equal(t, 9222, b.Port(""), "empty name falls back to the preferred browser")
	assert.Equal(t, 9222, b.Port("chrome"))
	assert.Equal(t, 9223, b.Port("Edge"))

	b.Prefer = BrowserEdge
	assert.Equal(t, 9223, b.Port(""))
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.BrowserCfg.Backend = "selenium" }, "browser.backend must be one of"},
		{"unknown browser", func(c *Config) { c.BrowserCfg.Prefer = "firefox" }, "browser.prefer must be chrome or edge"},
		{"chrome port zero", func(c *Config) { c.BrowserCfg.ChromePort = 0 }, "browser.chrome_port must be between 1 and 65535"},
		{"edge port too big", func(c *Config) { c.BrowserCfg.EdgePort = 70000 }, "browser.edge_port must be between 1 and 65535"},
		{"connect timeout", func(c *Config) { c.BrowserCfg.ConnectTimeout = 0 }, "browser.connect_timeout must be a positive duration"},
		{"rate limit", func(c *Config) { c.BrowserCfg.CDPRateLimit = -1 }, "browser.cdp_rate_limit must be positive"},
		{"burst", func(c *Config) { c.BrowserCfg.CDPBurst = 0 }, "browser.cdp_burst must be a positive integer"},
		{"concurrency", func(c *Config) { c.BrowserCfg.Concurrency = 0 }, "browser.concurrency must be a positive integer"},
		{"action timeout", func(c *Config) { c.QueryCfg.ActionTimeout = 0 }, "query.action_timeout must be a positive duration"},
		{"fetch timeout", func(c *Config) { c.StaticCfg.FetchTimeout = -time.Second }, "static.fetch_timeout must be a positive duration"},
		{"body limit", func(c *Config) { c.StaticCfg.MaxBodyBytes = 0 }, "static.max_body_bytes must be positive"},
		{"output format", func(c *Config) { c.OutputCfg.Format = "xml" }, "output.format must be text or json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetBrowserBackend(BackendStatic)
	iface.SetBrowserTab("*youtube*")
	iface.SetQueryYieldHostMatches(true)
	iface.SetQueryDescendLightDOM(true)
	iface.SetOutputFormat("json")

	assert.Equal(t, BackendStatic, cfg.Browser().Backend)
	assert.Equal(t, "*youtube*", cfg.Browser().Tab)
	assert.True(t, cfg.Query().YieldHostMatches)
	assert.True(t, cfg.Query().DescendLightDOM)
	assert.Equal(t, "json", cfg.Output().Format)
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	yamlConfig := []byte(`
logger:
  level: debug
browser:
  backend: playwright
  prefer: edge
  edge_port: 9333
  tab: "*mail*"
  cdp_rate_limit: 50
query:
  yield_host_matches: true
  action_timeout: 5s
static:
  base_url: https://example.com/
output:
  format: json
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, BackendPlaywright, cfg.Browser().Backend)
	assert.Equal(t, 9333, cfg.Browser().Port(""))
	assert.Equal(t, "*mail*", cfg.Browser().Tab)
	assert.Equal(t, 50.0, cfg.Browser().CDPRateLimit)
	// Unset keys keep their defaults.
	assert.Equal(t, 9222, cfg.Browser().ChromePort)
	assert.True(t, cfg.Query().YieldHostMatches)
	assert.Equal(t, 5*time.Second, cfg.Query().ActionTimeout)
	assert.Equal(t, "https://example.com/", cfg.Static().BaseURL)
	assert.Equal(t, "json", cfg.Output().Format)
}

func TestNewConfigFromViper_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("output.format", "csv")

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "output.format must be text or json")
}
