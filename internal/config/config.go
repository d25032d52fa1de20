package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const FileName = "sgc.yml"

// Config models sgc.yml.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Prazos struct {
		// Etapa1Dias is the default stage-1 deadline, counted from the process start.
		Etapa1Dias int `yaml:"etapa1_dias"`
	} `yaml:"prazos"`
	Notificacoes struct {
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notificacoes"`
	Metrics struct {
		Namespace string `yaml:"namespace"`
	} `yaml:"metrics"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	return (w.Enabled == nil || *w.Enabled) && strings.TrimSpace(w.URL) != ""
}

var (
	validLevels     = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats    = map[string]bool{"console": true, "json": true}
	metricNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error (got %q)", c.Log.Level)
	}
	if !validFormats[strings.ToLower(c.Log.Format)] {
		return fmt.Errorf("config.log.format must be console or json (got %q)", c.Log.Format)
	}
	if c.Prazos.Etapa1Dias <= 0 {
		return fmt.Errorf("config.prazos.etapa1_dias must be positive")
	}
	if c.Metrics.Namespace != "" && !metricNameRegex.MatchString(c.Metrics.Namespace) {
		return fmt.Errorf("config.metrics.namespace %q is not a valid metric prefix", c.Metrics.Namespace)
	}
	for i, hook := range c.Notificacoes.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook %d: url %q must be absolute http(s)", i, hook.URL)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d: timeout_seconds cannot be negative", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("webhook %d: empty event pattern", i)
			}
		}
	}
	return nil
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
			return nil, fmt.Errorf("config %s not found; create it with sgc init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
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

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(DefaultYAML)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) fillDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const DefaultYAML = `log:
  level: info
  format: console

prazos:
  etapa1_dias: 30

notificacoes:
  webhooks: []

metrics:
  namespace: sgc
`
