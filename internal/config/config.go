package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig               `toml:"general"`
	Logging       LoggingConfig               `toml:"logging"`
	Git           GitConfig                   `toml:"git"`
	Sandbox       SandboxConfig               `toml:"sandbox"`
	Oracle        OracleConfig                `toml:"oracle"`
	Prompts       PromptsConfig               `toml:"prompts"`
	Server        ServerConfig                `toml:"server"`
	Notifications NotificationsConfig         `toml:"notifications"`
	Schedules     []ScheduleConfig            `toml:"schedule"`
	Languages     map[string]LanguageOverride `toml:"languages"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	WorkspaceDir  string `toml:"workspace_dir"`
	KeepWorkspace bool   `toml:"keep_workspace"`
	MaxIterations int    `toml:"max_iterations"`
	DatabasePath  string `toml:"database_path"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or console
}

// GitConfig holds source control settings
type GitConfig struct {
	UserName              string `toml:"user_name"`
	UserEmail             string `toml:"user_email"`
	TokenUser             string `toml:"token_user"`
	KnownHosts            string `toml:"known_hosts"`
	InsecureIgnoreHostKey bool   `toml:"insecure_ignore_host_key"`
}

// SandboxConfig holds container settings for test execution
type SandboxConfig struct {
	Mode               string `toml:"mode"` // docker or local
	Image              string `toml:"image"`
	DockerBinary       string `toml:"docker_binary"`
	Network            string `toml:"network"`
	Memory             string `toml:"memory"`
	CPUs               string `toml:"cpus"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	StepTimeoutSeconds int    `toml:"step_timeout_seconds"`
}

// OracleConfig selects and tunes the remediation backend
type OracleConfig struct {
	Backend           string `toml:"backend"` // claude or openai
	Model             string `toml:"model"` // empty uses the backend's own default
	BaseURL           string `toml:"base_url"`
	APIKeyEnv         string `toml:"api_key_env"`
	ClaudeBinary      string `toml:"claude_binary"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
	MaxLogChars       int    `toml:"max_log_chars"`
}

// PromptsConfig holds prompt template overrides
type PromptsConfig struct {
	OverrideDir string `toml:"override_dir"`
	Watch       bool   `toml:"watch"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// ScheduleConfig describes a recurring healing run
type ScheduleConfig struct {
	Name          string `toml:"name"`
	Cron          string `toml:"cron"`
	RepoURL       string `toml:"repo_url"`
	TeamName      string `toml:"team_name"`
	LeaderName    string `toml:"leader_name"`
	AuthMode      string `toml:"auth_mode"`
	TokenEnv      string `toml:"token_env"`
	KeyFile       string `toml:"key_file"`
	PassphraseEnv string `toml:"passphrase_env"`
	MaxIterations int    `toml:"max_iterations"`
}

// LanguageOverride replaces the built-in install/test steps of one language
type LanguageOverride struct {
	Install [][]string `toml:"install"`
	Test    [][]string `toml:"test"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			WorkspaceDir:  filepath.Join(home, ".heal-orch", "workspaces"),
			MaxIterations: 5,
			DatabasePath:  filepath.Join(home, ".heal-orch", "runs.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Git: GitConfig{
			UserName:  "AI Agent",
			UserEmail: "ai-agent@heal-orch.local",
			TokenUser: "x-access-token",
		},
		Sandbox: SandboxConfig{
			Mode:               "docker",
			Image:              "heal-sandbox:latest",
			DockerBinary:       "docker",
			Network:            "bridge",
			Memory:             "2g",
			CPUs:               "2",
			TimeoutSeconds:     1800,
			StepTimeoutSeconds: 600,
		},
		Oracle: OracleConfig{
			Backend:           "claude",
			APIKeyEnv:         "OPENAI_API_KEY",
			ClaudeBinary:      "claude",
			RequestsPerMinute: 20,
			TimeoutSeconds:    300,
			MaxLogChars:       5000,
		},
		Server: ServerConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Validate checks enumerated settings and bounds
func (c *Config) Validate() error {
	switch c.Sandbox.Mode {
	case "docker", "local":
	default:
		return fmt.Errorf("sandbox.mode must be docker or local, got %q", c.Sandbox.Mode)
	}
	switch c.Oracle.Backend {
	case "claude", "openai":
	default:
		return fmt.Errorf("oracle.backend must be claude or openai, got %q", c.Oracle.Backend)
	}
	if c.General.MaxIterations <= 0 {
		return fmt.Errorf("general.max_iterations must be positive, got %d", c.General.MaxIterations)
	}
	for i, s := range c.Schedules {
		if s.Name == "" || s.Cron == "" || s.RepoURL == "" {
			return fmt.Errorf("schedule %d: name, cron and repo_url are required", i)
		}
	}
	return nil
}

// Timeout bounds a whole sandbox invocation
func (s SandboxConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// StepTimeout bounds a single install or test command
func (s SandboxConfig) StepTimeout() time.Duration {
	return time.Duration(s.StepTimeoutSeconds) * time.Second
}

// Timeout bounds a single oracle call
func (o OracleConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "heal-orch", "config.toml")
}
