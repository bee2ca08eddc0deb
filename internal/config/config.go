package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"truckdash/internal/datefilter"
	"truckdash/internal/log"
)

// FileName is the config file looked up in the workspace.
const FileName = "truckdash.yml"

// Config models truckdash.yml.
type Config struct {
	Server struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"server"`
	Push struct {
		Path string `yaml:"path"`
	} `yaml:"push"`
	State struct {
		Dir string `yaml:"dir"`
	} `yaml:"state"`
	Filter struct {
		From     string `yaml:"from"`
		To       string `yaml:"to"`
		Timezone string `yaml:"timezone"`
	} `yaml:"filter"`
	Log log.Options `yaml:"log"`
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.URL) == "" {
		return fmt.Errorf("config.server.url is required")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("config.server.url invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config.server.url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("config.server.url must include a host")
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("config.server.timeout must not be negative")
	}
	if !strings.HasPrefix(c.Push.Path, "/") {
		return fmt.Errorf("config.push.path must start with /")
	}
	if c.State.Dir == "" {
		return fmt.Errorf("config.state.dir is required")
	}
	from, err := datefilter.ParseOptional(c.Filter.From)
	if err != nil {
		return fmt.Errorf("config.filter.from: %w", err)
	}
	to, err := datefilter.ParseOptional(c.Filter.To)
	if err != nil {
		return fmt.Errorf("config.filter.to: %w", err)
	}
	if from != nil && to != nil && to.Before(*from) {
		return fmt.Errorf("config.filter.to %s is before config.filter.from %s", to, from)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config.filter.timezone: %w", err)
	}
	if errs := c.Log.Validate(); len(errs) > 0 {
		return fmt.Errorf("config.log: %w", errs[0])
	}
	return nil
}

// Location resolves the time zone used for date filter admission.
// An empty value means the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Filter.Timezone == "" || strings.EqualFold(c.Filter.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Filter.Timezone)
}

// StateDir resolves the state directory against the workspace.
func (c *Config) StateDir(workspace string) string {
	if filepath.IsAbs(c.State.Dir) {
		return c.State.Dir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.State.Dir)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with truckdash config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses config from raw YAML bytes on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  url: http://localhost:8000
  timeout: 10s

push:
  path: /ws

state:
  dir: .truckdash

filter:
  from: ""
  to: ""
  timezone: local

log:
  level: warn
  format: console
  enable_color: true
  output_paths: [stderr]
`
