package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models preflight.yml.
type Config struct {
	Validation struct {
		// SkillCoverageSeverity is "error" or "warning".
		SkillCoverageSeverity string `yaml:"skill_coverage_severity"`
	} `yaml:"validation"`
	Suggest struct {
		CoRunMinClients    int `yaml:"corun_min_clients"`
		GroupSizeThreshold int `yaml:"group_size_threshold"`
	} `yaml:"suggest"`
	Weights struct {
		Defaults map[string]float64 `yaml:"defaults"`
	} `yaml:"weights"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Validation.SkillCoverageSeverity {
	case "error", "warning":
	default:
		return fmt.Errorf("config.validation.skill_coverage_severity must be 'error' or 'warning'")
	}
	if c.Suggest.CoRunMinClients < 1 {
		return fmt.Errorf("config.suggest.corun_min_clients must be >= 1")
	}
	if c.Suggest.GroupSizeThreshold < 1 {
		return fmt.Errorf("config.suggest.group_size_threshold must be >= 1")
	}
	for name, w := range c.Weights.Defaults {
		if w < 0 {
			return fmt.Errorf("config.weights.defaults.%s must not be negative", name)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "preflight.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
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
	applyDefaults(&cfg)
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

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Validation.SkillCoverageSeverity == "" {
		cfg.Validation.SkillCoverageSeverity = "error"
	}
	if cfg.Suggest.CoRunMinClients == 0 {
		cfg.Suggest.CoRunMinClients = 3
	}
	if cfg.Suggest.GroupSizeThreshold == 0 {
		cfg.Suggest.GroupSizeThreshold = 5
	}
	if cfg.Weights.Defaults == nil {
		cfg.Weights.Defaults = map[string]float64{
			"priorityLevel":   0.4,
			"taskFulfillment": 0.3,
			"fairness":        0.2,
			"efficiency":      0.1,
		}
	}
}

// GenerateDefault returns default config YAML for pf init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `validation:
  # Whether an uncovered required skill blocks export (error) or only
  # flags it (warning).
  skill_coverage_severity: error

suggest:
  corun_min_clients: 3
  group_size_threshold: 5

weights:
  defaults:
    priorityLevel: 0.4
    taskFulfillment: 0.3
    fairness: 0.2
    efficiency: 0.1
`
