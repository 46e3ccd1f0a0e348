// Package config loads and persists wabridge configuration.
//
// Configuration is a JSON file (default ~/.wabridge/config.json) merged with
// WABRIDGE_* environment variable overrides. Environment values win over file
// values; file values win over defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// GatewayConfig controls the admin/status HTTP listener.
type GatewayConfig struct {
	Host string `json:"host" env:"WABRIDGE_GATEWAY_HOST"`
	Port int    `json:"port" env:"WABRIDGE_GATEWAY_PORT"`
}

// BridgeConfig controls the transport session.
type BridgeConfig struct {
	// AuthDir is the directory holding pairing credentials for the
	// transport session store.
	AuthDir string `json:"auth_dir" env:"WABRIDGE_BRIDGE_AUTH_DIR"`
	// RelayURL is the websocket endpoint of the session relay daemon that
	// holds the actual network connection.
	RelayURL string `json:"relay_url" env:"WABRIDGE_BRIDGE_RELAY_URL"`
}

// BackendConfig selects and configures the reasoning backend.
type BackendConfig struct {
	// Mode is "cli" (subprocess, default) or "api" (direct API calls).
	Mode           string `json:"mode" env:"WABRIDGE_BACKEND_MODE"`
	Binary         string `json:"binary" env:"WABRIDGE_BACKEND_BINARY"`
	Model          string `json:"model" env:"WABRIDGE_BACKEND_MODEL"`
	MaxTurns       int    `json:"max_turns" env:"WABRIDGE_BACKEND_MAX_TURNS"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"WABRIDGE_BACKEND_TIMEOUT_SECONDS"`
	APIKey         string `json:"api_key,omitempty" env:"WABRIDGE_BACKEND_API_KEY"`
	APIBase        string `json:"api_base,omitempty" env:"WABRIDGE_BACKEND_API_BASE"`
}

// AuthzConfig points at the user registry consulted per inbound message.
type AuthzConfig struct {
	RegistryPath string `json:"registry_path" env:"WABRIDGE_AUTHZ_REGISTRY_PATH"`
}

// MCPServer describes one tool server entry written into the generated
// tool-configuration artifact.
type MCPServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ToolsConfig controls generation of the backend tool-configuration file.
type ToolsConfig struct {
	Dir        string               `json:"dir" env:"WABRIDGE_TOOLS_DIR"`
	MCPServers map[string]MCPServer `json:"mcp_servers,omitempty"`
}

// ScheduledPrompt is a cron-driven prompt dispatched without an inbound
// message and delivered to a fixed conversation address.
type ScheduledPrompt struct {
	Cron    string `json:"cron"`
	Prompt  string `json:"prompt"`
	Address string `json:"address"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `json:"level" env:"WABRIDGE_LOG_LEVEL"`
}

// Config is the root configuration tree.
type Config struct {
	Gateway  GatewayConfig     `json:"gateway"`
	Bridge   BridgeConfig      `json:"bridge"`
	Backend  BackendConfig     `json:"backend"`
	Authz    AuthzConfig       `json:"authz"`
	Tools    ToolsConfig       `json:"tools"`
	Schedule []ScheduledPrompt `json:"schedule,omitempty"`
	Logging  LoggingConfig     `json:"logging"`
}

// DefaultConfig returns the configuration template used when no file exists.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".wabridge")
	return &Config{
		Gateway: GatewayConfig{Host: "127.0.0.1", Port: 18790},
		Bridge: BridgeConfig{
			AuthDir:  filepath.Join(base, "auth"),
			RelayURL: "ws://127.0.0.1:18791/session",
		},
		Backend: BackendConfig{
			Mode:           "cli",
			Binary:         "claude",
			Model:          "sonnet",
			MaxTurns:       5,
			TimeoutSeconds: 120,
		},
		Authz:   AuthzConfig{RegistryPath: filepath.Join(base, "users.json")},
		Tools:   ToolsConfig{Dir: filepath.Join(base, "tools")},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads the JSON file at path (if present), overlays environment
// variables, and fills remaining zero values from DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Fine: defaults plus environment.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment overrides: %w", err)
	}

	cfg.Bridge.AuthDir = expandHome(cfg.Bridge.AuthDir)
	cfg.Authz.RegistryPath = expandHome(cfg.Authz.RegistryPath)
	cfg.Tools.Dir = expandHome(cfg.Tools.Dir)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as indented JSON, creating the parent directory.
func SaveConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Backend.Mode {
	case "cli", "api":
	default:
		return fmt.Errorf("backend.mode must be \"cli\" or \"api\", got %q", c.Backend.Mode)
	}
	if c.Backend.Mode == "cli" && c.Backend.Binary == "" {
		return fmt.Errorf("backend.binary is required in cli mode")
	}
	if c.Backend.Mode == "api" && c.Backend.APIKey == "" {
		return fmt.Errorf("backend.api_key is required in api mode")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		return fmt.Errorf("backend.timeout_seconds must be positive, got %d", c.Backend.TimeoutSeconds)
	}
	if c.Backend.MaxTurns <= 0 {
		return fmt.Errorf("backend.max_turns must be positive, got %d", c.Backend.MaxTurns)
	}
	if c.Bridge.RelayURL == "" {
		return fmt.Errorf("bridge.relay_url is required")
	}
	return nil
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
