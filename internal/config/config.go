// Package config loads agentmux.jsonc, the single configuration file for
// the server. JSONC comments are stripped and ${ENV_VAR} references are
// expanded before parsing.
package config

import "time"

// Config is the full configuration file format for agentmux.jsonc
type Config struct {
	Server   ServerSection   `json:"server"`
	Sessions SessionsSection `json:"sessions"`
	Engine   EngineSection   `json:"engine"`
	Sandbox  SandboxSection  `json:"sandbox"`
	Cleanup  CleanupSection  `json:"cleanup"`
	Audit    AuditSection    `json:"audit"`
	Logging  LoggingSection  `json:"logging"`
}

// ServerSection contains the MCP/HTTP listener configuration
type ServerSection struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// SessionsSection governs the session manager
type SessionsSection struct {
	BaseDirectory     string  `json:"base_directory"`
	MaxSessions       int     `json:"max_sessions"`
	CreateRatePerMin  float64 `json:"create_rate_per_min"`
	CreateBurst       int     `json:"create_burst"`
	PermissionTimeout string  `json:"permission_timeout"` // Go duration, e.g. "5m"
	EventBufferSize   int     `json:"event_buffer_size"`
}

// EngineSection configures the coding engine invocation
type EngineSection struct {
	Binary          string                  `json:"binary"`
	DefaultModel    string                  `json:"default_model"`
	FallbackModel   string                  `json:"fallback_model"`
	MaxTurns        int                     `json:"max_turns"`
	DefaultTools    []string                `json:"default_tools"`
	DisallowedTools []string                `json:"disallowed_tools"`
	MCPServers      map[string]MCPServerDef `json:"mcp_servers"`
}

// MCPServerDef is an MCP server definition in configuration
type MCPServerDef struct {
	Type    string            `json:"type"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	URL     string            `json:"url,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// SandboxSection selects and tunes the isolation boundary
type SandboxSection struct {
	Backend     string `json:"backend"` // process, docker
	DefaultMode string `json:"default_mode"`
	Image       string `json:"image"`
	MemoryMB    int64  `json:"memory_mb"`
	CPUs        int    `json:"cpus"`
}

// CleanupSection configures the background janitor
type CleanupSection struct {
	Enabled      bool   `json:"enabled"`
	Schedule     string `json:"schedule"` // cron expression
	IdleTimeout  string `json:"idle_timeout"`
	SweepOrphans bool   `json:"sweep_orphans"`
}

// AuditSection configures the command history store
type AuditSection struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingSection configures log output
type LoggingSection struct {
	Directory string `json:"directory"`
	JSON      bool   `json:"json"`
}

// PermissionTimeoutDuration parses the configured permission timeout,
// falling back to the default when unset or invalid.
func (s SessionsSection) PermissionTimeoutDuration() time.Duration {
	if s.PermissionTimeout == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(s.PermissionTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// IdleTimeoutDuration parses the janitor idle timeout.
func (s CleanupSection) IdleTimeoutDuration() time.Duration {
	if s.IdleTimeout == "" {
		return 2 * time.Hour
	}
	d, err := time.ParseDuration(s.IdleTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Hour
	}
	return d
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.MetricsAddress == "" {
		cfg.Server.MetricsAddress = ":9090"
	}

	if cfg.Sessions.BaseDirectory == "" {
		cfg.Sessions.BaseDirectory = "data/sessions"
	}
	if cfg.Sessions.MaxSessions == 0 {
		cfg.Sessions.MaxSessions = 16
	}
	if cfg.Sessions.CreateRatePerMin == 0 {
		cfg.Sessions.CreateRatePerMin = 30
	}
	if cfg.Sessions.CreateBurst == 0 {
		cfg.Sessions.CreateBurst = 5
	}
	if cfg.Sessions.EventBufferSize == 0 {
		cfg.Sessions.EventBufferSize = 1000
	}

	if cfg.Engine.Binary == "" {
		cfg.Engine.Binary = "claude"
	}
	if cfg.Engine.MCPServers == nil {
		cfg.Engine.MCPServers = make(map[string]MCPServerDef)
	}

	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = "process"
	}
	if cfg.Sandbox.DefaultMode == "" {
		cfg.Sandbox.DefaultMode = "standard"
	}
	if cfg.Sandbox.Image == "" {
		cfg.Sandbox.Image = "agentmux-engine:latest"
	}

	if cfg.Cleanup.Schedule == "" {
		cfg.Cleanup.Schedule = "*/15 * * * *"
	}

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = "data/agentmux.db"
	}

	if cfg.Logging.Directory == "" {
		cfg.Logging.Directory = "logs"
	}
}
