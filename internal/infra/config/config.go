// Package config loads the gateway's two configuration documents:
// the orchestrator config (routing, sessions, per-agent settings, logging)
// and the API config (server binding, CORS, per-agent endpoint settings).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"clarvis/internal/domain"
)

// OrchestratorConfig is the orchestrator configuration document.
type OrchestratorConfig struct {
	Orchestrator  OrchestratorSection    `yaml:"orchestrator"`
	Routing       RoutingSection         `yaml:"routing"`
	RateLimit     RateLimitSection       `yaml:"rate_limit"`
	Agents        map[string]AgentEntry  `yaml:"agents"`
	Announcements map[string]string      `yaml:"announcements"`
	Patterns      map[string][]string    `yaml:"patterns"` // extra classifier regexes per agent
	Logging       LoggingSection         `yaml:"logging"`
	Tracer        TracerConfig           `yaml:"tracer"`
	Provider      ProviderConfig         `yaml:"provider"`
	Scheduler     SchedulerSection       `yaml:"scheduler"`
	Specialists   SpecialistsSection     `yaml:"specialists"`
}

// SpecialistsSection holds settings for the built-in specialist agents.
type SpecialistsSection struct {
	DataDir             string `yaml:"data_dir"`              // notes database lives here
	MailboxPath         string `yaml:"mailbox_path"`          // JSON mailbox snapshot for the email agent
	SkiConditionsURL    string `yaml:"ski_conditions_url"`    // conditions feed endpoint
	SkiCacheTTLMinutes  int    `yaml:"ski_cache_ttl_minutes"` // feed cache lifetime
}

// OrchestratorSection holds the orchestrator's own knobs.
type OrchestratorSection struct {
	Model                 string `yaml:"model"`
	RouterModel           string `yaml:"router_model"`
	SessionTimeoutMinutes int    `yaml:"session_timeout_minutes"`
	MaxTurns              int    `yaml:"max_turns"`
	ContextTokens         int    `yaml:"context_tokens"`
}

// RoutingSection holds router behavior knobs.
type RoutingSection struct {
	CodeRoutingThreshold float64 `yaml:"code_routing_threshold"`
	LLMRoutingEnabled    bool    `yaml:"llm_routing_enabled"`
	FollowUpDetection    bool    `yaml:"follow_up_detection"`
	DefaultAgent         string  `yaml:"default_agent"`
}

// RateLimitSection configures the per-agent sliding window.
type RateLimitSection struct {
	MaxEvents     int `yaml:"max_events"`
	WindowSeconds int `yaml:"window_seconds"`
}

// AgentEntry configures one specialist agent.
type AgentEntry struct {
	Enabled  bool `yaml:"enabled"`
	Priority int  `yaml:"priority"`
}

// LoggingSection holds logging settings.
type LoggingSection struct {
	Level               string `yaml:"level"`
	Format              string `yaml:"format"` // "text" or "json"
	Output              string `yaml:"output"` // "stdout", "stderr", or a file path
	LogRoutingDecisions bool   `yaml:"log_routing_decisions"`
	LogAgentResponses   bool   `yaml:"log_agent_responses"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// ProviderConfig holds LLM provider connection settings. The API key comes
// from the environment, never from the file.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
}

// SchedulerSection configures periodic maintenance.
type SchedulerSection struct {
	Enabled       bool   `yaml:"enabled"`
	SweepSchedule string `yaml:"sweep_schedule"` // cron expression or duration
	ProbeSchedule string `yaml:"probe_schedule"`
}

// APIConfig is the API configuration document.
type APIConfig struct {
	Server ServerSection              `yaml:"server"`
	Agents map[string]APIAgentEntry   `yaml:"agents"`
}

// ServerSection holds HTTP server settings.
type ServerSection struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Debug       bool     `yaml:"debug"`
}

// APIAgentEntry holds per-agent endpoint settings.
type APIAgentEntry struct {
	Enabled        bool `yaml:"enabled"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

// OrchestratorDefaults returns the orchestrator config defaults.
func OrchestratorDefaults() *OrchestratorConfig {
	return &OrchestratorConfig{
		Orchestrator: OrchestratorSection{
			Model:                 "claude-sonnet-4-20250514",
			RouterModel:           "claude-3-5-haiku-20241022",
			SessionTimeoutMinutes: 30,
			MaxTurns:              50,
			ContextTokens:         1024,
		},
		Routing: RoutingSection{
			CodeRoutingThreshold: 0.7,
			LLMRoutingEnabled:    true,
			FollowUpDetection:    true,
		},
		RateLimit: RateLimitSection{
			MaxEvents:     30,
			WindowSeconds: 60,
		},
		Announcements: map[string]string{
			"gmail": "Checking your email. ",
			"ski":   "Checking the mountain. ",
			"notes": "Looking at your notes. ",
		},
		Logging: LoggingSection{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Provider: ProviderConfig{
			Name:      "anthropic",
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		Scheduler: SchedulerSection{
			Enabled:       true,
			SweepSchedule: "1m",
			ProbeSchedule: "5m",
		},
		Specialists: SpecialistsSection{
			DataDir:            "./data",
			MailboxPath:        "./data/mailbox.json",
			SkiConditionsURL:   "https://www.skihood.com/api/conditions",
			SkiCacheTTLMinutes: 10,
		},
	}
}

// APIDefaults returns the API config defaults.
func APIDefaults() *APIConfig {
	return &APIConfig{
		Server: ServerSection{
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: []string{"*"},
		},
	}
}

// LoadOrchestrator reads the orchestrator YAML document. A missing file
// yields defaults; a malformed file or invalid values are fatal.
func LoadOrchestrator(path string) (*OrchestratorConfig, error) {
	cfg := OrchestratorDefaults()
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAPI reads the API YAML document and applies environment overrides.
func LoadAPI(path string) (*APIConfig, error) {
	cfg := APIDefaults()
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	if host := os.Getenv("API_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %v", domain.ErrConfigLoad, path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: parse %s: %v", domain.ErrConfigLoad, path, err)
	}
	return nil
}

// Validate checks orchestrator config invariants.
func (c *OrchestratorConfig) Validate() error {
	if c.Orchestrator.SessionTimeoutMinutes <= 0 {
		return fmt.Errorf("%w: session_timeout_minutes must be positive", domain.ErrConfigLoad)
	}
	if c.Orchestrator.MaxTurns <= 0 {
		return fmt.Errorf("%w: max_turns must be positive", domain.ErrConfigLoad)
	}
	if t := c.Routing.CodeRoutingThreshold; t < 0 || t > 1 {
		return fmt.Errorf("%w: code_routing_threshold must be in [0,1]", domain.ErrConfigLoad)
	}
	if c.RateLimit.MaxEvents < 0 || c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("%w: rate_limit requires max_events >= 0 and window_seconds > 0", domain.ErrConfigLoad)
	}
	if c.Routing.DefaultAgent != "" {
		if entry, ok := c.Agents[c.Routing.DefaultAgent]; ok && !entry.Enabled {
			return fmt.Errorf("%w: default_agent %q is disabled", domain.ErrConfigLoad, c.Routing.DefaultAgent)
		}
	}
	return nil
}

// Validate checks API config invariants.
func (c *APIConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", domain.ErrConfigLoad, c.Server.Port)
	}
	for name, entry := range c.Agents {
		if entry.TimeoutSeconds < 0 {
			return fmt.Errorf("%w: agent %q timeout_seconds must not be negative", domain.ErrConfigLoad, name)
		}
	}
	return nil
}

// SessionTTL returns the session timeout as a duration.
func (c *OrchestratorConfig) SessionTTL() time.Duration {
	return time.Duration(c.Orchestrator.SessionTimeoutMinutes) * time.Minute
}

// RateLimitWindow returns the sliding-window duration.
func (c *OrchestratorConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// AgentEnabled reports whether an agent is enabled. Agents absent from the
// table default to enabled.
func (c *OrchestratorConfig) AgentEnabled(name string) bool {
	entry, ok := c.Agents[name]
	if !ok {
		return true
	}
	return entry.Enabled
}

// AgentTimeout returns the direct-endpoint timeout for an agent, falling
// back to the given default.
func (c *APIConfig) AgentTimeout(name string, fallback time.Duration) time.Duration {
	entry, ok := c.Agents[name]
	if !ok || entry.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(entry.TimeoutSeconds) * time.Second
}
