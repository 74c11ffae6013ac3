package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"taskline/internal/domain"
)

// Config models taskline.yml.
type Config struct {
	Admin struct {
		Root string `yaml:"root"`
	} `yaml:"admin"`
	Users struct {
		DefaultRole domain.Role `yaml:"default_role"`
	} `yaml:"users"`
	Tasks struct {
		DefaultStatus domain.Status `yaml:"default_status"`
	} `yaml:"tasks"`
	Paging struct {
		PageSize int `yaml:"page_size"`
	} `yaml:"paging"`
	Dates struct {
		Format string `yaml:"format"`
	} `yaml:"dates"`
	Sessions struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"sessions"`
}

// DefaultDateFormat renders day-granularity dates as dd.mm.yyyy.
const DefaultDateFormat = "02.01.2006"

const (
	defaultPageSize   = 5
	defaultSessionTTL = 15 * time.Minute
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with tl init --admin <identity>", path)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Admin.Root == "" {
		return fmt.Errorf("config.admin.root is required")
	}
	if c.Users.DefaultRole == "" {
		c.Users.DefaultRole = domain.RoleUser
	}
	if !c.Users.DefaultRole.Valid() {
		return fmt.Errorf("config.users.default_role %q is not a known role", c.Users.DefaultRole)
	}
	if c.Tasks.DefaultStatus == "" {
		c.Tasks.DefaultStatus = domain.StatusNew
	}
	if !c.Tasks.DefaultStatus.Valid() {
		return fmt.Errorf("config.tasks.default_status %q is not a known status", c.Tasks.DefaultStatus)
	}
	if c.Paging.PageSize < 0 {
		return fmt.Errorf("config.paging.page_size must be positive")
	}
	if c.Paging.PageSize == 0 {
		c.Paging.PageSize = defaultPageSize
	}
	if c.Dates.Format == "" {
		c.Dates.Format = DefaultDateFormat
	}
	if c.Sessions.TTLSeconds < 0 {
		return fmt.Errorf("config.sessions.ttl_seconds must be positive")
	}
	return nil
}

// SessionTTL returns the configured session expiry as a duration.
func (c *Config) SessionTTL() time.Duration {
	if c.Sessions.TTLSeconds == 0 {
		return defaultSessionTTL
	}
	return time.Duration(c.Sessions.TTLSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(rootAdmin string) string {
	return fmt.Sprintf(defaultTemplate, rootAdmin)
}

// Default returns the default Config struct for a root admin identity.
func Default(rootAdmin string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(rootAdmin)), &cfg)
	_ = cfg.Validate()
	return &cfg
}

const defaultTemplate = `admin:
  root: %s

users:
  default_role: user

tasks:
  default_status: new

paging:
  page_size: 5

dates:
  format: "02.01.2006"

sessions:
  ttl_seconds: 900
`
