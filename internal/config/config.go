package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models deskline.yml.
type Config struct {
	Desk struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"desk"`
	Intake struct {
		MinRequestLength int `yaml:"min_request_length"`
	} `yaml:"intake"`
	Locale struct {
		Default string `yaml:"default"`
	} `yaml:"locale"`
	// Channels holds the webhook endpoints the notifier posts channel
	// messages to. An empty endpoint disables delivery for that channel.
	Channels struct {
		Reviewers  string `yaml:"reviewers"`
		Fulfillers string `yaml:"fulfillers"`
		Requesters string `yaml:"requesters"`
	} `yaml:"channels"`
	Categories []CategorySeed `yaml:"categories"`
	Auth       struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
}

type CategorySeed struct {
	Name string `yaml:"name"`
	Tag  string `yaml:"tag"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Desk.ID == "" {
		return fmt.Errorf("config.desk.id is required")
	}
	if c.Intake.MinRequestLength <= 0 {
		return fmt.Errorf("config.intake.min_request_length must be positive")
	}
	if c.Locale.Default == "" {
		return fmt.Errorf("config.locale.default is required")
	}
	seen := map[string]bool{}
	for i, cat := range c.Categories {
		if cat.Name == "" {
			return fmt.Errorf("category %d has empty name", i)
		}
		if cat.Tag == "" {
			return fmt.Errorf("category %q has empty tag", cat.Name)
		}
		if seen[cat.Tag] {
			return fmt.Errorf("category tag %s duplicated", cat.Tag)
		}
		seen[cat.Tag] = true
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "deskline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(deskID string) string {
	return fmt.Sprintf(defaultTemplate, deskID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a desk.
func Default(deskID string) *Config {
	var cfg Config
	cfg.Desk.ID = deskID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, deskID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `desk:
  id: %s
  name: Support Desk

intake:
  min_request_length: 20

locale:
  default: en

channels:
  reviewers: ""
  fulfillers: ""
  requesters: ""

categories:
  - name: Contracts
    tag: contracts
  - name: Billing
    tag: billing
  - name: Technical
    tag: technical
  - name: General
    tag: general
`
