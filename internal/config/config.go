package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models skylane.yml.
type Config struct {
	USS struct {
		Manager   string `yaml:"manager"`
		Domain    string `yaml:"domain"`
		PublicKey string `yaml:"public_key"`
	} `yaml:"uss"`
	DSS struct {
		URL string `yaml:"url"`
	} `yaml:"dss"`
	Auth struct {
		URL string `yaml:"url"`
		Key string `yaml:"key"`
	} `yaml:"auth"`
	Constraints struct {
		DefaultType string `yaml:"default_type"`
	} `yaml:"constraints"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with skylane config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.USS.Manager == "" {
		return fmt.Errorf("config.uss.manager is required")
	}
	if c.USS.Domain == "" {
		return fmt.Errorf("config.uss.domain is required")
	}
	if !strings.HasPrefix(c.USS.Domain, "http://") && !strings.HasPrefix(c.USS.Domain, "https://") {
		return fmt.Errorf("config.uss.domain must be an http(s) URL")
	}
	if c.DSS.URL == "" {
		return fmt.Errorf("config.dss.url is required")
	}
	if c.Auth.URL == "" {
		return fmt.Errorf("config.auth.url is required")
	}
	if c.Auth.Key == "" {
		return fmt.Errorf("config.auth.key is required")
	}
	if c.Constraints.DefaultType == "" {
		return fmt.Errorf("config.constraints.default_type is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "skylane.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(manager, domain string) string {
	return fmt.Sprintf(defaultTemplate, manager, domain)
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

// Default returns the default Config struct for a manager/domain pair.
func Default(manager, domain string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(manager, domain)), &cfg)
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

const defaultTemplate = `uss:
  manager: %s
  domain: %s
  # PEM public key used to verify inbound peer tokens; leave empty to
  # disable inbound auth (development only).
  public_key: ""

dss:
  url: http://localhost:8082

auth:
  url: http://localhost:8085
  key: dev-api-key

constraints:
  default_type: uss.skylane.non_utm_aircraft_operations
`
