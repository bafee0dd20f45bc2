package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// UserConfig represents ~/.dpm/config.yaml.
type UserConfig struct {
	CurrentProfile string             `yaml:"current-profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile represents a single named configuration profile. Empty fields
// fall back to the environment.
type Profile struct {
	Project     string `yaml:"project,omitempty"`
	Location    string `yaml:"location,omitempty"`
	Environment string `yaml:"environment,omitempty"`
	Output      string `yaml:"output,omitempty"`
	LogLevel    string `yaml:"log-level,omitempty"`
	Keyfile     string `yaml:"keyfile,omitempty"`
	// KeyfileSecret is a Secret Manager id holding a service account key.
	KeyfileSecret      string `yaml:"keyfile-secret,omitempty"`
	HubSpotTokenSecret string `yaml:"hubspot-token-secret,omitempty"`
	JobsDir            string `yaml:"jobs-dir,omitempty"`
}

// ActiveProfile returns the profile to use based on the override or
// current-profile. A missing current profile yields an empty Profile; a
// missing override is an error.
func (c *UserConfig) ActiveProfile(override string) (Profile, error) {
	name := c.CurrentProfile
	if override != "" {
		name = override
	}
	if p, ok := c.Profiles[name]; ok {
		return p, nil
	}
	if override != "" {
		return Profile{}, fmt.Errorf("profile %q not found", override)
	}
	return Profile{}, nil
}

// ConfigDir returns the path to ~/.dpm/.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".dpm")
}

// ConfigPath returns the path to ~/.dpm/config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// LoadUserConfig reads ~/.dpm/config.yaml.
func LoadUserConfig() (*UserConfig, error) {
	path := ConfigPath()
	data, err := os.ReadFile(path) //nolint:gosec // fixed path under the home directory
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg UserConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]Profile{}
	}
	return &cfg, nil
}

// SaveUserConfig writes ~/.dpm/config.yaml.
func SaveUserConfig(cfg *UserConfig) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(ConfigPath(), data, 0o600)
}
