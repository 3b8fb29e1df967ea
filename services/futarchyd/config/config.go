package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the futarchy governance service:
// the HTTP crank/admin API and the background stage-advancer.
type Config struct {
	ListenAddress string      `yaml:"listen"`
	Env           string      `yaml:"env"`
	Auth          AuthConfig  `yaml:"auth"`
	Crank         CrankConfig `yaml:"crank"`
}

// AuthConfig describes the bearer-JWT admin authentication guarding
// privileged endpoints (fee collection), mirroring
// gateway/middleware's AuthConfig shape.
type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// CrankConfig tunes the background poller that calls AdvanceStage across
// known proposals, plus the rate limit guarding externally-triggered crank
// requests.
type CrankConfig struct {
	PollInterval        time.Duration `yaml:"poll_interval"`
	RateLimitPerSecond   float64      `yaml:"rate_limit_per_second"`
	RateLimitBurst       int          `yaml:"rate_limit_burst"`
}

// Load reads the YAML configuration from disk, applying the same
// defaults-then-override discipline services/governd/config.Load uses.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8088",
		Env:           "localnet",
		Crank: CrankConfig{
			PollInterval:       30 * time.Second,
			RateLimitPerSecond: 5,
			RateLimitBurst:     10,
		},
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8088"
	}
	if cfg.Crank.PollInterval <= 0 {
		cfg.Crank.PollInterval = 30 * time.Second
	}
	if cfg.Crank.RateLimitPerSecond <= 0 {
		cfg.Crank.RateLimitPerSecond = 5
	}
	if cfg.Crank.RateLimitBurst <= 0 {
		cfg.Crank.RateLimitBurst = 10
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return cfg, fmt.Errorf("auth.hmac_secret is required when auth.enabled is true")
	}
	return cfg, nil
}
