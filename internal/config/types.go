package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Privacy   PrivacyConfig   `yaml:"privacy" mapstructure:"privacy"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Upstream  UpstreamConfig  `yaml:"upstream" mapstructure:"upstream"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Stats     StatsConfig     `yaml:"stats" mapstructure:"stats"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// PrivacyConfig contains masking engine configuration
type PrivacyConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Preset is one of developer, personal, enterprise or custom.
	// Only custom consults Detectors.
	Preset          string                `yaml:"preset" mapstructure:"preset"`
	Detectors       []string              `yaml:"detectors" mapstructure:"detectors"`
	CustomRulesPath string                `yaml:"custom_rules_path" mapstructure:"custom_rules_path"`
	Context         ContextConfig         `yaml:"context" mapstructure:"context"`
	Leakage         LeakageConfig         `yaml:"leakage" mapstructure:"leakage"`
	Registry        RegistryConfig        `yaml:"registry" mapstructure:"registry"`
	HeaderScrubbing HeaderScrubbingConfig `yaml:"header_scrubbing" mapstructure:"header_scrubbing"`
}

// ContextConfig tunes the context analyzer. Scores are integer points out of 100.
type ContextConfig struct {
	WindowSize      int `yaml:"window_size" mapstructure:"window_size"`
	Baseline        int `yaml:"baseline" mapstructure:"baseline"`
	PositiveBoost   int `yaml:"positive_boost" mapstructure:"positive_boost"`
	NegativePenalty int `yaml:"negative_penalty" mapstructure:"negative_penalty"`
	HighThreshold   int `yaml:"high_threshold" mapstructure:"high_threshold"`
	MediumThreshold int `yaml:"medium_threshold" mapstructure:"medium_threshold"`
}

// LeakageConfig tunes the response leakage heuristics
type LeakageConfig struct {
	CommonDomains     []string `yaml:"common_domains" mapstructure:"common_domains"`
	MinNameTokenLen   int      `yaml:"min_name_token_len" mapstructure:"min_name_token_len"`
	NumericSuffixLen  int      `yaml:"numeric_suffix_len" mapstructure:"numeric_suffix_len"`
	RiskContextWindow int      `yaml:"risk_context_window" mapstructure:"risk_context_window"`
}

// RegistryConfig controls the session-scoped placeholder registry
type RegistryConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Sticky        bool          `yaml:"sticky" mapstructure:"sticky"`
	SessionTTL    time.Duration `yaml:"session_ttl" mapstructure:"session_ttl"`
	SweepSchedule string        `yaml:"sweep_schedule" mapstructure:"sweep_schedule"`
}

// HeaderScrubbingConfig controls scrubbing of sensitive request headers
type HeaderScrubbingConfig struct {
	Enabled              bool     `yaml:"enabled" mapstructure:"enabled"`
	Headers              []string `yaml:"headers" mapstructure:"headers"`
	PreserveUpstreamAuth bool     `yaml:"preserve_upstream_auth" mapstructure:"preserve_upstream_auth"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// UpstreamConfig contains the chat provider base URLs
type UpstreamConfig struct {
	OpenAI    string        `yaml:"openai" mapstructure:"openai"`
	Anthropic string        `yaml:"anthropic" mapstructure:"anthropic"`
	Google    string        `yaml:"google" mapstructure:"google"`
	XAI       string        `yaml:"xai" mapstructure:"xai"`
	DeepSeek  string        `yaml:"deepseek" mapstructure:"deepseek"`
	Mistral   string        `yaml:"mistral" mapstructure:"mistral"`
	Ollama    string        `yaml:"ollama" mapstructure:"ollama"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// Providers returns the configured provider base URLs keyed by route name
func (u UpstreamConfig) Providers() map[string]string {
	providers := map[string]string{
		"openai":    u.OpenAI,
		"anthropic": u.Anthropic,
		"google":    u.Google,
		"xai":       u.XAI,
		"deepseek":  u.DeepSeek,
		"mistral":   u.Mistral,
		"ollama":    u.Ollama,
	}
	for name, target := range providers {
		if target == "" {
			delete(providers, name)
		}
	}
	return providers
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	Path           string `yaml:"path" mapstructure:"path"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
	Username       string `yaml:"username" mapstructure:"username"`
	Password       string `yaml:"password" mapstructure:"password"`
	Events         struct {
		BroadcastMasking     bool `yaml:"broadcast_masking" mapstructure:"broadcast_masking"`
		BroadcastLeakage     bool `yaml:"broadcast_leakage" mapstructure:"broadcast_leakage"`
		BroadcastRequests    bool `yaml:"broadcast_requests" mapstructure:"broadcast_requests"`
		BroadcastSystem      bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
		BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// RateLimitConfig contains per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// StatsConfig contains detection counter configuration. An empty RedisURL keeps counters in memory.
type StatsConfig struct {
	RedisURL     string        `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix    string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	Retention    time.Duration `yaml:"retention" mapstructure:"retention"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// AuditConfig contains audit trail configuration
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	// Retention is how long events are kept; zero keeps them forever
	Retention time.Duration `yaml:"retention" mapstructure:"retention"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8787,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 4 << 20,
		},
		Privacy: PrivacyConfig{
			Enabled:   true,
			Preset:    "custom",
			Detectors: []string{"all"},
			Context: ContextConfig{
				WindowSize:      40,
				Baseline:        50,
				PositiveBoost:   15,
				NegativePenalty: 25,
				HighThreshold:   85,
				MediumThreshold: 60,
			},
			Leakage: LeakageConfig{
				CommonDomains: []string{
					"gmail.com", "yahoo.com", "outlook.com", "hotmail.com",
					"icloud.com", "proton.me", "protonmail.com", "aol.com",
				},
				MinNameTokenLen:   3,
				NumericSuffixLen:  4,
				RiskContextWindow: 50,
			},
			Registry: RegistryConfig{
				Enabled:       true,
				Sticky:        true,
				SessionTTL:    2 * time.Hour,
				SweepSchedule: "@every 5m",
			},
			HeaderScrubbing: HeaderScrubbingConfig{
				Enabled:              true,
				Headers:              []string{"authorization", "x-api-key", "cookie"},
				PreserveUpstreamAuth: true,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Upstream: UpstreamConfig{
			OpenAI:    "https://api.openai.com",
			Anthropic: "https://api.anthropic.com",
			Google:    "https://generativelanguage.googleapis.com",
			XAI:       "https://api.x.ai",
			DeepSeek:  "https://api.deepseek.com",
			Mistral:   "https://api.mistral.ai",
			Ollama:    "http://localhost:11434",
			Timeout:   60 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Enabled:        true,
			Path:           "/ws",
			MaxConnections: 16,
			Username:       "glasslm",
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 600,
			Burst:          60,
		},
		Stats: StatsConfig{
			KeyPrefix:    "glasslm",
			Retention:    30 * 24 * time.Hour,
			PoolSize:     10,
			MinIdleConns: 1,
		},
		Audit: AuditConfig{
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			Retention:       90 * 24 * time.Hour,
		},
	}

	cfg.Logging.File.Path = "logs/glasslm.log"
	cfg.WebSocket.Events.BroadcastMasking = true
	cfg.WebSocket.Events.BroadcastLeakage = true
	cfg.WebSocket.Events.BroadcastRequests = true
	cfg.WebSocket.Events.BroadcastSystem = true
	cfg.WebSocket.Events.BroadcastConnections = true

	return cfg
}
