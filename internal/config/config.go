package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Ruleset RulesetConfig `yaml:"ruleset"`
	Target  TargetConfig  `yaml:"target"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`

	// PublicBaseURL is how sing-box clients reach this service. Rule
	// providers are rewritten to <base>/ruleset when it is set.
	PublicBaseURL string `yaml:"public_base_url"`

	ConvertTimeout  time.Duration `yaml:"convert_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type FetchConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	MaxBytes  int64         `yaml:"max_bytes"`
	UserAgent string        `yaml:"user_agent"`
}

type RulesetConfig struct {
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`
}

type TargetConfig struct {
	FakeIP bool `yaml:"fakeip"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "0.0.0.0:25500",
			ConvertTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Fetch: FetchConfig{
			Timeout: 15 * time.Second,
		},
		Ruleset: RulesetConfig{
			CacheTTL:        24 * time.Hour,
			CacheMaxEntries: 512,
		},
		Target: TargetConfig{FakeIP: true},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Server.ConvertTimeout < 0 || c.Fetch.Timeout < 0 || c.Ruleset.CacheTTL < 0 {
		return fmt.Errorf("timeouts and ttl must not be negative")
	}
	if c.Fetch.MaxBytes < 0 {
		return fmt.Errorf("fetch.max_bytes must not be negative")
	}
	return nil
}
