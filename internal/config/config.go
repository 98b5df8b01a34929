package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Pirikara/pipgate/internal/logger"
)

const (
	// EnvFirewallURL overrides the configured firewall URL
	EnvFirewallURL = "PIPGATE_FIREWALL_URL"

	// DefaultFirewallURL is used when nothing else is configured
	DefaultFirewallURL = "http://127.0.0.1:8000"

	// SourceEmbedded marks a config loaded from the built-in default
	SourceEmbedded = "embedded default"
)

// Config represents the pipgate configuration
type Config struct {
	FirewallURL string        `yaml:"firewall_url"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	StrictIndex bool          `yaml:"strict_index"`
	Installer   []string      `yaml:"installer"`
	LogLevel    string        `yaml:"log_level"`

	// Where the config came from (not in YAML)
	Source string `yaml:"-"`
}

// LoadConfig loads configuration with 3-level fallback:
// 1. Explicit path (--config flag)
// 2. Home directory (~/.pipgate/config.yaml)
// 3. Embedded default (passed as defaultData)
//
// Keys missing from a file keep the embedded default's values.
func LoadConfig(path string, defaultData []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(defaultData, &config); err != nil {
		return nil, fmt.Errorf("invalid embedded config: %w", err)
	}
	config.Source = SourceEmbedded

	data, source, err := readOverride(path)
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", source, err)
		}
		config.Source = source
	}

	if config.FirewallURL == "" {
		config.FirewallURL = DefaultFirewallURL
	}

	return &config, nil
}

// readOverride returns the user config file contents, or nil when only the
// embedded default applies.
func readOverride(path string) ([]byte, string, error) {
	// Level 1: Explicit path
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
		return data, path, nil
	}

	// Level 2: Home directory
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, "", nil
	}
	homeConfig := filepath.Join(home, ".pipgate", "config.yaml")
	data, err := os.ReadFile(homeConfig)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}
	return data, homeConfig, nil
}

// ApplyFirewallURL applies the precedence flag > environment > file
func (c *Config) ApplyFirewallURL(flagValue string, getenv func(string) string) {
	if flagValue != "" {
		c.FirewallURL = flagValue
		return
	}
	if env := getenv(EnvFirewallURL); env != "" {
		c.FirewallURL = env
	}
}

// Validate checks the configuration for values the gate cannot run with
func (c *Config) Validate() error {
	u, err := url.Parse(c.FirewallURL)
	if err != nil {
		return fmt.Errorf("invalid firewall_url %q: %w", c.FirewallURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid firewall_url %q: want http(s)://host[:port]", c.FirewallURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if len(c.Installer) == 0 || c.Installer[0] == "" {
		return errors.New("installer command must not be empty")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
