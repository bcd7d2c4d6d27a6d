// Package config loads proxy configuration from an optional YAML file with
// environment variable overrides. Hot-reloadable flags (the ENABLE_* mirror)
// live in Features and can be refreshed at runtime by the file watcher.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration. Fields with yaml tags load from
// the config file; environment variables win over file values.
type Config struct {
	Server struct {
		Port  string `yaml:"port"`
		Debug bool   `yaml:"debug"`
	} `yaml:"server"`

	Security struct {
		JWTSecret     string `yaml:"jwt_secret"`
		AdminUsername string `yaml:"admin_username"`
		AdminPassword string `yaml:"admin_password"`
		LogFile       string `yaml:"log_file"`
	} `yaml:"security"`

	Storage struct {
		DatabaseURL string `yaml:"database_url"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"storage"`

	Upstream struct {
		CloudCodeBase   string `yaml:"cloudcode_base"`
		AntigravityBase string `yaml:"antigravity_base"`
		GoogleTokenURL  string `yaml:"google_token_url"`
		UserInfoURL     string `yaml:"userinfo_url"`
		ProxyURL        string `yaml:"proxy_url"`
	} `yaml:"upstream"`

	Quota struct {
		IncrementPerCredential int64 `yaml:"increment_per_credential"`
	} `yaml:"quota"`

	RateGuard struct {
		GlobalRPS   int `yaml:"global_rps"`
		GlobalBurst int `yaml:"global_burst"`
	} `yaml:"rate_guard"`

	mu       sync.RWMutex
	features Features
	onReload func()
}

// Features are the hot-reloadable toggles mirrored into SYSTEM_CONFIG.
type Features struct {
	ForceDiscordBind        bool  `yaml:"force_discord_bind"`
	EnableGemini3OpenAccess bool  `yaml:"enable_gemini3_open_access"`
	CLISharedMode           bool  `yaml:"cli_shared_mode"`
	UseTokenQuota           bool  `yaml:"use_token_quota"`
	ClaudeLimit             int64 `yaml:"claude_limit"`
	Gemini3Limit            int64 `yaml:"gemini3_limit"`
	ClaudeTokenQuota        int64 `yaml:"claude_token_quota"`
	Gemini3TokenQuota       int64 `yaml:"gemini3_token_quota"`
}

type fileLayout struct {
	Server   yaml.Node `yaml:"server"`
	Features Features  `yaml:"features"`
}

// Load reads the config file at path (missing file is fine), applies
// defaults and environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			var extra fileLayout
			if err := yaml.Unmarshal(raw, &extra); err == nil {
				cfg.features = extra.Features
			}
		case os.IsNotExist(err):
			// config file optional; env-only deployments are common
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Server.Port = "8080"
	c.Upstream.CloudCodeBase = "https://cloudcode-pa.googleapis.com"
	c.Upstream.AntigravityBase = "https://daily-cloudcode-pa.googleapis.com"
	c.Upstream.GoogleTokenURL = "https://oauth2.googleapis.com/token"
	c.Upstream.UserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	c.Quota.IncrementPerCredential = 1000
	c.RateGuard.GlobalRPS = 100
	c.RateGuard.GlobalBurst = 200
	c.features = Features{
		CLISharedMode: true,
		ClaudeLimit:   300,
		Gemini3Limit:  300,
	}
}

func (c *Config) applyEnv() {
	c.Server.Port = getenv("PORT", c.Server.Port)
	c.Storage.DatabaseURL = getenv("DATABASE_URL", c.Storage.DatabaseURL)
	c.Storage.RedisURL = getenv("REDIS_URL", c.Storage.RedisURL)
	c.Security.JWTSecret = getenv("JWT_SECRET", c.Security.JWTSecret)
	c.Security.AdminUsername = getenv("ADMIN_USERNAME", c.Security.AdminUsername)
	c.Security.AdminPassword = getenv("ADMIN_PASSWORD", c.Security.AdminPassword)
	c.Upstream.CloudCodeBase = getenv("CLOUDCODE_BASE_URL", c.Upstream.CloudCodeBase)
	c.Upstream.AntigravityBase = getenv("ANTIGRAVITY_BASE_URL", c.Upstream.AntigravityBase)
	c.Upstream.GoogleTokenURL = getenv("GOOGLE_TOKEN_URL", c.Upstream.GoogleTokenURL)
	c.Upstream.ProxyURL = getenv("PROXY_URL", c.Upstream.ProxyURL)

	setToggleFromEnv("DEBUG", func(v bool) { c.Server.Debug = v })
	setToggleFromEnv("FORCE_DISCORD_BIND", func(v bool) { c.features.ForceDiscordBind = v })
	setToggleFromEnv("ENABLE_GEMINI3_OPEN_ACCESS", func(v bool) { c.features.EnableGemini3OpenAccess = v })
	setToggleFromEnv("CLI_SHARED_MODE", func(v bool) { c.features.CLISharedMode = v })
	setToggleFromEnv("USE_TOKEN_QUOTA", func(v bool) { c.features.UseTokenQuota = v })
	setInt64FromEnv("QUOTA_INCREMENT_PER_CREDENTIAL", func(v int64) { c.Quota.IncrementPerCredential = v })
	setInt64FromEnv("CLAUDE_LIMIT", func(v int64) { c.features.ClaudeLimit = v })
	setInt64FromEnv("GEMINI3_LIMIT", func(v int64) { c.features.Gemini3Limit = v })
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Storage.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.Storage.RedisURL) == "" {
		return fmt.Errorf("REDIS_URL (coordination store) is required")
	}
	return nil
}

// Feature returns a snapshot of the hot-reloadable flags.
func (c *Config) Feature() Features {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.features
}

// SetFeatures replaces the hot-reloadable flags (used by the watcher and by
// the settings mirror refresh).
func (c *Config) SetFeatures(f Features) {
	c.mu.Lock()
	c.features = f
	fn := c.onReload
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// OnReload registers fn to run after every feature update, so callers can
// re-publish the settings mirror.
func (c *Config) OnReload(fn func()) {
	c.mu.Lock()
	c.onReload = fn
	c.mu.Unlock()
}
