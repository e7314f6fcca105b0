package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models shiftline.yml.
type Config struct {
	Superadmin struct {
		Handle string `yaml:"handle"`
	} `yaml:"superadmin"`
	Timezone string `yaml:"timezone"`
	Summary  struct {
		Hour      int    `yaml:"hour"`
		ExportDir string `yaml:"export_dir"`
	} `yaml:"summary"`
	Tasks struct {
		Seed []string `yaml:"seed"`
	} `yaml:"tasks"`
	Sessions struct {
		Policy string `yaml:"policy"`
	} `yaml:"sessions"`
	Board struct {
		Emoji []string `yaml:"emoji"`
	} `yaml:"board"`
	Server struct {
		Listen    string `yaml:"listen"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Mirror struct {
		URL string `yaml:"url"`
	} `yaml:"mirror"`
}

// SessionPolicy values accepted by sessions.policy.
const (
	SessionPolicyPerUser        = "per_user"
	SessionPolicyPerUserPerKind = "per_user_per_kind"
)

// Load reads and validates config from the workspace, falling back to the
// built-in defaults when shiftline.yml does not exist.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "shiftline.yml")
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Superadmin.Handle) == "" {
		return fmt.Errorf("config.superadmin.handle is required")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("config.timezone %q: %w", c.Timezone, err)
		}
	}
	if c.Summary.Hour < 0 || c.Summary.Hour > 23 {
		return fmt.Errorf("config.summary.hour must be within 0..23")
	}
	if len(c.Tasks.Seed) == 0 {
		return fmt.Errorf("config.tasks.seed must not be empty")
	}
	for _, name := range c.Tasks.Seed {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.tasks.seed contains an empty task name")
		}
	}
	switch c.Sessions.Policy {
	case SessionPolicyPerUser, SessionPolicyPerUserPerKind:
	default:
		return fmt.Errorf("config.sessions.policy must be %s or %s", SessionPolicyPerUser, SessionPolicyPerUserPerKind)
	}
	if len(c.Board.Emoji) == 0 {
		return fmt.Errorf("config.board.emoji must not be empty")
	}
	return nil
}

// Location resolves the configured timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// NormalizedHandle returns the superadmin handle lowercased without a
// leading @.
func (c *Config) NormalizedHandle() string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Superadmin.Handle), "@"))
}

// Default returns the built-in default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Fields absent
// from the input keep their default values.
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `superadmin:
  handle: zooloopa

timezone: Europe/Kyiv

summary:
  hour: 9
  export_dir: exports

tasks:
  seed:
    - "🧹 Помыл пол"
    - "🌿 Полил цветы"
    - "🪑 Протёр мебель"

sessions:
  policy: per_user

board:
  emoji: ["❤️", "👍", "🎉", "😮", "👏"]

server:
  listen: :8080
  base_path: /v0
  jwt_secret: ""

mirror:
  url: ""
`
