package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultData = []byte(`
firewall_url: http://127.0.0.1:8000
timeout: 30s
concurrency: 4
strict_index: false
installer:
  - pip
log_level: warn
`)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_EmbeddedDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig("", defaultData)
	require.NoError(t, err)

	assert.Equal(t, SourceEmbedded, cfg.Source)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.FirewallURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.False(t, cfg.StrictIndex)
	assert.Equal(t, []string{"pip"}, cfg.Installer)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_HomeDirectory(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := writeFile(t, home, ".pipgate/config.yaml", "firewall_url: https://fw.internal\nstrict_index: true\n")

	cfg, err := LoadConfig("", defaultData)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Source)
	assert.Equal(t, "https://fw.internal", cfg.FirewallURL)
	assert.True(t, cfg.StrictIndex)
	assert.Equal(t, 30*time.Second, cfg.Timeout, "unset keys keep the default")
}

func TestLoadConfig_ExplicitPathWins(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	writeFile(t, home, ".pipgate/config.yaml", "concurrency: 2\n")
	explicit := writeFile(t, t.TempDir(), "gate.yaml", "concurrency: 9\ninstaller: [python, -m, pip]\ntimeout: 5s\n")

	cfg, err := LoadConfig(explicit, defaultData)
	require.NoError(t, err)

	assert.Equal(t, explicit, cfg.Source)
	assert.Equal(t, 9, cfg.Concurrency)
	assert.Equal(t, []string{"python", "-m", "pip"}, cfg.Installer)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), defaultData)
	assert.Error(t, err)

	bad := writeFile(t, t.TempDir(), "bad.yaml", "concurrency: [not a number\n")
	_, err = LoadConfig(bad, defaultData)
	assert.Error(t, err)

	_, err = LoadConfig("", []byte("timeout: {"))
	assert.Error(t, err)
}

func TestLoadConfig_EmptyURLFallsBackToDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig("", []byte("timeout: 1s\nconcurrency: 1\ninstaller: [pip]\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultFirewallURL, cfg.FirewallURL)
}

func TestApplyFirewallURL(t *testing.T) {
	env := func(value string) func(string) string {
		return func(key string) string {
			if key == EnvFirewallURL {
				return value
			}
			return ""
		}
	}

	tests := []struct {
		name string
		flag string
		env  string
		want string
	}{
		{name: "file value", want: "http://file:8000"},
		{name: "env over file", env: "http://env:8000", want: "http://env:8000"},
		{name: "flag over env", flag: "http://flag:8000", env: "http://env:8000", want: "http://flag:8000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{FirewallURL: "http://file:8000"}
			cfg.ApplyFirewallURL(tt.flag, env(tt.env))
			assert.Equal(t, tt.want, cfg.FirewallURL)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			FirewallURL: "http://127.0.0.1:8000",
			Timeout:     time.Second,
			Concurrency: 1,
			Installer:   []string{"pip"},
			LogLevel:    "info",
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "scheme", mutate: func(c *Config) { c.FirewallURL = "ftp://host" }},
		{name: "no host", mutate: func(c *Config) { c.FirewallURL = "http://" }},
		{name: "unparsable", mutate: func(c *Config) { c.FirewallURL = "http://[::1" }},
		{name: "timeout", mutate: func(c *Config) { c.Timeout = 0 }},
		{name: "concurrency", mutate: func(c *Config) { c.Concurrency = 0 }},
		{name: "installer", mutate: func(c *Config) { c.Installer = nil }},
		{name: "log level", mutate: func(c *Config) { c.LogLevel = "loud" }},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
