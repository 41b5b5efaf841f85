package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Search     Search     `yaml:"search"`
	Processing Processing `yaml:"processing"`
	Limits     Limits     `yaml:"limits"`
	Oracle     Oracle     `yaml:"oracle"`
	Source     Source     `yaml:"source"`
	Store      Store      `yaml:"store"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

type Search struct {
	Topic           string   `yaml:"topic"`
	Languages       []string `yaml:"languages"`
	MaxResults      int      `yaml:"max_results"`
	ExcludeRetweets bool     `yaml:"exclude_retweets"`
}

type Processing struct {
	SampleSize         int     `yaml:"sample_size"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	IntervalMinutes    int     `yaml:"interval_minutes"`
	Live               bool    `yaml:"live"`
	MinDelaySeconds    float64 `yaml:"min_delay_seconds"`
	MaxDelaySeconds    float64 `yaml:"max_delay_seconds"`
	Sentiment          bool    `yaml:"sentiment"`
}

type Limits struct {
	MaxRetries         int `yaml:"max_retries"`
	DefaultWaitSeconds int `yaml:"default_wait_seconds"`
}

type Oracle struct {
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	APIKeyEnv     string `yaml:"api_key_env"`
	MaxTokens     int    `yaml:"max_tokens"`
	MaxPostLength int    `yaml:"max_post_length"`
}

type Source struct {
	BaseURL        string `yaml:"base_url"`
	BearerTokenEnv string `yaml:"bearer_token_env"`
	WriteTokenEnv  string `yaml:"write_token_env"`
}

type Store struct {
	Path string `yaml:"path"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for cryptobot.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "cryptobot")
}

// DataDir returns the XDG data directory for cryptobot.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "cryptobot")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/cryptobot/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'cryptobot init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Search: Search{
			Topic:           "crypto",
			Languages:       []string{"en"},
			MaxResults:      10,
			ExcludeRetweets: true,
		},
		Processing: Processing{
			SampleSize:         5,
			RelevanceThreshold: 0.7,
			IntervalMinutes:    15,
			MinDelaySeconds:    2,
			MaxDelaySeconds:    5,
		},
		Limits: Limits{
			MaxRetries:         3,
			DefaultWaitSeconds: 60,
		},
		Oracle: Oracle{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o-mini",
			APIKeyEnv:     "OPENAI_API_KEY",
			MaxTokens:     256,
			MaxPostLength: 280,
		},
		Source: Source{
			BaseURL:        "https://api.twitter.com/2",
			BearerTokenEnv: "X_API_BEARER",
			WriteTokenEnv:  "X_API_WRITE_TOKEN",
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Search.Topic == "" {
		return fmt.Errorf("search.topic must not be empty")
	}
	// The search API rejects batches smaller than 10.
	if c.Search.MaxResults < 10 {
		return fmt.Errorf("search.max_results must be at least 10, got %d", c.Search.MaxResults)
	}
	if c.Processing.SampleSize < 1 {
		return fmt.Errorf("processing.sample_size must be positive, got %d", c.Processing.SampleSize)
	}
	if c.Processing.RelevanceThreshold < 0 || c.Processing.RelevanceThreshold > 1 {
		return fmt.Errorf("processing.relevance_threshold must be in [0,1], got %g", c.Processing.RelevanceThreshold)
	}
	if c.Processing.IntervalMinutes < 1 {
		return fmt.Errorf("processing.interval_minutes must be positive, got %d", c.Processing.IntervalMinutes)
	}
	if c.Processing.MaxDelaySeconds < c.Processing.MinDelaySeconds {
		return fmt.Errorf("processing.max_delay_seconds must be >= min_delay_seconds")
	}
	if c.Limits.MaxRetries < 0 {
		return fmt.Errorf("limits.max_retries must not be negative, got %d", c.Limits.MaxRetries)
	}
	return nil
}

// Interval returns the polling interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Processing.IntervalMinutes) * time.Minute
}

// StorePath returns the effective store file path from config or XDG default.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(DataDir(), "processed_tweets.json")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
