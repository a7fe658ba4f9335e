package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envTrustedOrigin = "MESHBRIDGE_TRUSTED_ORIGIN"
	envPartnerName   = "MESHBRIDGE_PARTNER_NAME"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Bridge    BridgeConfig    `json:"bridge"`
	Channel   ChannelConfig   `json:"channel"`
	Status    StatusConfig    `json:"status"`
	Artifacts ArtifactsConfig `json:"artifacts"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// BridgeConfig holds the protocol-level settings: the single trusted
// origin, the partner identity announced in the init handshake, and the
// handshake watchdog.
type BridgeConfig struct {
	TrustedOrigin       string   `json:"trusted_origin"`
	PartnerName         string   `json:"partner_name"`
	Features            []string `json:"features,omitempty"`
	ReadyTimeoutSeconds int      `json:"ready_timeout_seconds,omitempty"`
}

// ChannelConfig configures the WebSocket channel endpoint the embedded
// peer connects to.
type ChannelConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path"`
}

// StatusConfig configures the HTTP status/health bind settings.
type StatusConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ArtifactsConfig controls where exported STL artifacts are written.
type ArtifactsConfig struct {
	Dir string `json:"dir"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment
// overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// Validate checks the settings the host cannot run without.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}
	if strings.TrimSpace(c.Bridge.TrustedOrigin) == "" {
		return errors.New("bridge.trusted_origin is required")
	}
	if strings.TrimSpace(c.Bridge.PartnerName) == "" {
		return errors.New("bridge.partner_name is required")
	}

	return nil
}

// Features returns the capability list announced in init, defaulting to
// the export capability when the config names none.
func (c *BridgeConfig) FeatureList() []string {
	if len(c.Features) == 0 {
		return []string{"export"}
	}

	return slices.Clone(c.Features)
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if origin := strings.TrimSpace(os.Getenv(envTrustedOrigin)); origin != "" {
		cfg.Bridge.TrustedOrigin = origin
	}

	if partner := strings.TrimSpace(os.Getenv(envPartnerName)); partner != "" {
		cfg.Bridge.PartnerName = partner
	}
}

// findConfigPath resolves the active config file location.
//
// Precedence is MESHBRIDGE_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("MESHBRIDGE_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("MESHBRIDGE_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
