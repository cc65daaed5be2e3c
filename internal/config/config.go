package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"meritline/internal/authority"
)

// Config models meritline.yml.
type Config struct {
	Org struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"org"`
	Governance struct {
		// RevisionCap bounds revision cycles per work item. 0 means unlimited.
		RevisionCap int `yaml:"revision_cap"`
	} `yaml:"governance"`
	Assignments map[string]Assignment `yaml:"assignments"`
	Webhooks    []Webhook             `yaml:"webhooks"`
}

// Assignment binds an actor to a role, optionally scoped to domains.
type Assignment struct {
	Role    string   `yaml:"role"`
	Domains []string `yaml:"domains"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with ml org config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Org.ID == "" {
		return fmt.Errorf("config.org.id is required")
	}
	if c.Governance.RevisionCap < 0 {
		return fmt.Errorf("config.governance.revision_cap must not be negative")
	}
	for actorID, a := range c.Assignments {
		if actorID == "" {
			return fmt.Errorf("config.assignments contains empty actor id")
		}
		role := authority.Role(a.Role)
		if !authority.Known(role) {
			return fmt.Errorf("assignment for %s names unknown role %s", actorID, a.Role)
		}
		if len(a.Domains) > 0 && role != authority.RoleDomainAdmin {
			return fmt.Errorf("assignment for %s scopes domains but role %s is not domain-admin", actorID, a.Role)
		}
		for _, d := range a.Domains {
			if d == "" {
				return fmt.Errorf("assignment for %s has empty domain", actorID)
			}
		}
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "meritline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// Default returns the default Config struct for an org.
func Default(orgID string) *Config {
	var cfg Config
	cfg.Org.ID = orgID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, orgID))).Decode(&cfg)
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

const defaultTemplate = `org:
  id: %s
  name: ""

governance:
  revision_cap: 0

assignments:
  root:
    role: supreme-authority

webhooks: []
`
