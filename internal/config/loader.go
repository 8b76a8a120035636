package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// FindConfigPath returns the path to agentmux.jsonc using precedence:
// 1. configDir + /agentmux.jsonc (if configDir specified)
// 2. ./config/agentmux.jsonc (project-local)
// 3. ~/.agentmux/config/agentmux.jsonc (user global)
func FindConfigPath(configDir string) (string, error) {
	if configDir != "" {
		path := filepath.Join(configDir, "agentmux.jsonc")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("agentmux.jsonc not found in %s", configDir)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return path, nil
		}
		return abs, nil
	}

	candidates := []string{
		filepath.Join("config", "agentmux.jsonc"),
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".agentmux", "config", "agentmux.jsonc"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("agentmux.jsonc not found; tried: %v", candidates)
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvRefs replaces ${VAR} references with the environment value.
// Unset variables expand to the empty string.
func expandEnvRefs(data []byte) []byte {
	return envRefPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envRefPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads and parses agentmux.jsonc from the given path.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	jsonData := expandEnvRefs(StripJSONComments(data))

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadAll finds and loads agentmux.jsonc; when no file exists, defaults are
// returned so the server can start bare.
func LoadAll(configDir string) (*Config, error) {
	configPath, err := FindConfigPath(configDir)
	if err != nil {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg, nil
	}
	return Load(configPath)
}

// Validate checks that required configuration is present and coherent.
func (c *Config) Validate() error {
	if c.Sessions.MaxSessions < 0 {
		return fmt.Errorf("sessions.max_sessions must not be negative")
	}
	switch c.Sandbox.Backend {
	case "process", "docker":
	default:
		return fmt.Errorf("sandbox.backend must be process or docker, got %q", c.Sandbox.Backend)
	}
	switch c.Sandbox.DefaultMode {
	case "restricted", "standard", "full":
	default:
		return fmt.Errorf("sandbox.default_mode must be restricted, standard or full, got %q", c.Sandbox.DefaultMode)
	}
	return nil
}
