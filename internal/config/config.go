package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models itersight.yml.
type Config struct {
	Tracker struct {
		BaseURL  string `yaml:"base_url"`
		TokenEnv string `yaml:"token_env"`
	} `yaml:"tracker"`
	LLM struct {
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"llm"`
	Auth struct {
		JWTSecretEnv string `yaml:"jwt_secret_env"`
	} `yaml:"auth"`
	Report struct {
		HistoryLimit int `yaml:"history_limit"`
	} `yaml:"report"`
	Teams struct {
		Selected []string `yaml:"selected"`
	} `yaml:"teams"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with its config init", path)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Tracker.BaseURL == "" {
		return fmt.Errorf("config.tracker.base_url is required")
	}
	if c.Tracker.TokenEnv == "" {
		return fmt.Errorf("config.tracker.token_env is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("config.llm.model is required")
	}
	if c.Report.HistoryLimit < 0 {
		return fmt.Errorf("config.report.history_limit must not be negative")
	}
	for _, team := range c.Teams.Selected {
		if team == "" {
			return fmt.Errorf("config.teams.selected contains an empty team id")
		}
	}
	return nil
}

// TrackerToken reads the tracker API token from the configured env var.
func (c *Config) TrackerToken() string {
	return os.Getenv(c.Tracker.TokenEnv)
}

// LLMAPIKey reads the LLM API key from the configured env var.
func (c *Config) LLMAPIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

// JWTSecret reads the bearer-auth secret from the configured env var.
// Empty means bearer auth is disabled.
func (c *Config) JWTSecret() string {
	if c.Auth.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(c.Auth.JWTSecretEnv)
}

// HistoryLimit returns the configured default history page size.
func (c *Config) HistoryLimit() int {
	if c.Report.HistoryLimit == 0 {
		return 10
	}
	return c.Report.HistoryLimit
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "itersight.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

const defaultTemplate = `tracker:
  base_url: https://api.app.shortcut.com/api/v3
  token_env: ITERSIGHT_TRACKER_TOKEN

llm:
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  api_key_env: ITERSIGHT_LLM_API_KEY

auth:
  jwt_secret_env: ITERSIGHT_JWT_SECRET

report:
  history_limit: 10

teams:
  selected: []
`
