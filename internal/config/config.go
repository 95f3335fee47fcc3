// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Commands depend on it so tests can hand in a tailored config.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Query() QueryConfig
	Static() StaticConfig
	Output() OutputConfig

	SetBrowserBackend(Backend)
	SetBrowserTab(pattern string)
	SetQueryYieldHostMatches(bool)
	SetQueryDescendLightDOM(bool)
	SetOutputFormat(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	QueryCfg   QueryConfig   `mapstructure:"query" yaml:"query"`
	StaticCfg  StaticConfig  `mapstructure:"static" yaml:"static"`
	OutputCfg  OutputConfig  `mapstructure:"output" yaml:"output"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Query() QueryConfig     { return c.QueryCfg }
func (c *Config) Static() StaticConfig   { return c.StaticCfg }
func (c *Config) Output() OutputConfig   { return c.OutputCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserBackend(b Backend)     { c.BrowserCfg.Backend = b }
func (c *Config) SetBrowserTab(pattern string)    { c.BrowserCfg.Tab = pattern }
func (c *Config) SetQueryYieldHostMatches(b bool) { c.QueryCfg.YieldHostMatches = b }
func (c *Config) SetQueryDescendLightDOM(b bool)  { c.QueryCfg.DescendLightDOM = b }
func (c *Config) SetOutputFormat(format string)   { c.OutputCfg.Format = format }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Backend selects where a query runs.
type Backend string

const (
	// BackendStatic parses an HTML document in process.
	BackendStatic Backend = "static"
	// BackendCDP drives the traversal from Go through per-node CDP calls.
	BackendCDP Backend = "cdp"
	// BackendInPage injects the whole traversal into the tab through chromedp.
	BackendInPage Backend = "inpage"
	// BackendPlaywright injects the traversal through a Playwright CDP connection.
	BackendPlaywright Backend = "playwright"
)

// Browser names accepted by browser.prefer.
const (
	BrowserChrome = "chrome"
	BrowserEdge   = "edge"
)

// BrowserConfig describes how to reach a running Chromium based browser.
type BrowserConfig struct {
	Backend Backend `mapstructure:"backend" yaml:"backend"`
	// Prefer picks the debugging port when neither --chrome nor --edge is given.
	Prefer     string `mapstructure:"prefer" yaml:"prefer"`
	Host       string `mapstructure:"host" yaml:"host"`
	ChromePort int    `mapstructure:"chrome_port" yaml:"chrome_port"`
	EdgePort   int    `mapstructure:"edge_port" yaml:"edge_port"`
	// Tab is a glob matched against tab titles and URLs. Empty selects the first page.
	Tab            string        `mapstructure:"tab" yaml:"tab"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	CDPRateLimit   float64       `mapstructure:"cdp_rate_limit" yaml:"cdp_rate_limit"`
	CDPBurst       int           `mapstructure:"cdp_burst" yaml:"cdp_burst"`
	// Concurrency bounds per-tab fan-out for multi-tab commands.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// Port resolves the debugging port for the named browser, falling back to Prefer.
func (b BrowserConfig) Port(browser string) int {
	if browser == "" {
		browser = b.Prefer
	}
	if strings.EqualFold(browser, BrowserEdge) {
		return b.EdgePort
	}
	return b.ChromePort
}

// QueryConfig tunes the traversal engine.
type QueryConfig struct {
	// YieldHostMatches makes a shadow host or frame reached at the final selector
	// yield its own result instead of being swallowed.
	YieldHostMatches bool `mapstructure:"yield_host_matches" yaml:"yield_host_matches"`
	// DescendLightDOM queries a plain element's subtree with the next selector.
	DescendLightDOM bool          `mapstructure:"descend_light_dom" yaml:"descend_light_dom"`
	ActionTimeout   time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// StaticConfig configures the in-process document host.
type StaticConfig struct {
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	// PierceClosedShadowRoots exposes closed roots, which a page script cannot see.
	PierceClosedShadowRoots bool `mapstructure:"pierce_closed_shadow_roots" yaml:"pierce_closed_shadow_roots"`
	// AllowRemoteFrames lets same-origin iframe src documents be fetched over HTTP.
	AllowRemoteFrames bool `mapstructure:"allow_remote_frames" yaml:"allow_remote_frames"`
}

// OutputConfig controls how results are printed.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tabquery")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.backend", string(BackendCDP))
	v.SetDefault("browser.prefer", BrowserChrome)
	v.SetDefault("browser.host", "localhost")
	v.SetDefault("browser.chrome_port", 9222)
	v.SetDefault("browser.edge_port", 9223)
	v.SetDefault("browser.tab", "")
	v.SetDefault("browser.connect_timeout", "10s")
	v.SetDefault("browser.cdp_rate_limit", 200.0)
	v.SetDefault("browser.cdp_burst", 20)
	v.SetDefault("browser.concurrency", 4)

	// -- Query --
	v.SetDefault("query.yield_host_matches", false)
	v.SetDefault("query.descend_light_dom", false)
	v.SetDefault("query.action_timeout", "30s")

	// -- Static --
	v.SetDefault("static.base_url", "")
	v.SetDefault("static.fetch_timeout", "30s")
	v.SetDefault("static.max_body_bytes", int64(16<<20))
	v.SetDefault("static.pierce_closed_shadow_roots", false)
	v.SetDefault("static.allow_remote_frames", true)

	// -- Output --
	v.SetDefault("output.format", "text")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for values the commands cannot work with.
func (c *Config) Validate() error {
	switch c.BrowserCfg.Backend {
	case BackendStatic, BackendCDP, BackendInPage, BackendPlaywright:
	default:
		return fmt.Errorf("browser.backend must be one of static, cdp, inpage, playwright (got %q)", c.BrowserCfg.Backend)
	}
	if !strings.EqualFold(c.BrowserCfg.Prefer, BrowserChrome) && !strings.EqualFold(c.BrowserCfg.Prefer, BrowserEdge) {
		return fmt.Errorf("browser.prefer must be chrome or edge (got %q)", c.BrowserCfg.Prefer)
	}
	if err := validatePort("browser.chrome_port", c.BrowserCfg.ChromePort); err != nil {
		return err
	}
	if err := validatePort("browser.edge_port", c.BrowserCfg.EdgePort); err != nil {
		return err
	}
	if c.BrowserCfg.ConnectTimeout <= 0 {
		return fmt.Errorf("browser.connect_timeout must be a positive duration")
	}
	if c.BrowserCfg.CDPRateLimit <= 0 {
		return fmt.Errorf("browser.cdp_rate_limit must be positive")
	}
	if c.BrowserCfg.CDPBurst <= 0 {
		return fmt.Errorf("browser.cdp_burst must be a positive integer")
	}
	if c.BrowserCfg.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	if c.QueryCfg.ActionTimeout <= 0 {
		return fmt.Errorf("query.action_timeout must be a positive duration")
	}
	if c.StaticCfg.FetchTimeout <= 0 {
		return fmt.Errorf("static.fetch_timeout must be a positive duration")
	}
	if c.StaticCfg.MaxBodyBytes <= 0 {
		return fmt.Errorf("static.max_body_bytes must be positive")
	}
	switch c.OutputCfg.Format {
	case "text", "json":
	default:
		return fmt.Errorf("output.format must be text or json (got %q)", c.OutputCfg.Format)
	}
	return nil
}

func validatePort(key string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", key)
	}
	return nil
}
