package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UserConfig represents users seeded from users.yaml
type UserConfig struct {
	Users []UserConfigEntry `yaml:"users"`
}

// UserConfigEntry represents a single user with their chat destination and alert interests
type UserConfigEntry struct {
	Email    string             `yaml:"email"`
	Name     string             `yaml:"name"`
	ChatID   string             `yaml:"chat_id"`
	Username string             `yaml:"username,omitempty"`
	Alerts   []AlertConfigEntry `yaml:"alerts"`
}

// AlertConfigEntry represents a symbol/strategy/signal interest
type AlertConfigEntry struct {
	Symbol   string   `yaml:"symbol"`
	Strategy string   `yaml:"strategy"`
	Signals  []string `yaml:"signals"`
}

// LoadUserConfig loads user configuration from a YAML file
func LoadUserConfig(filename string) (*UserConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read user config file: %w", err)
	}

	var config UserConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse user config file: %w", err)
	}

	return &config, nil
}
