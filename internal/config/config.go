// Package config loads the dealroom binary's settings.
//
// Values come from an optional YAML file, then DEALROOM_* environment
// variables, then defaults for whatever is still unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Versioning modes.
const (
	VersioningAuto = "auto"
	VersioningOn   = "on"
	VersioningOff  = "off"
)

// Config is the binary configuration.
type Config struct {
	StorePath      string        `yaml:"storePath" env:"DEALROOM_STORE_PATH"`
	Adapter        string        `yaml:"adapter" env:"DEALROOM_ADAPTER"`
	Versioning     string        `yaml:"versioning" env:"DEALROOM_VERSIONING"`
	Listen         string        `yaml:"listen" env:"DEALROOM_LISTEN"`
	ScoringURL     string        `yaml:"scoringUrl" env:"DEALROOM_SCORING_URL"`
	ScoringTimeout time.Duration `yaml:"scoringTimeout" env:"DEALROOM_SCORING_TIMEOUT"`
	MatchCache     string        `yaml:"matchCache" env:"DEALROOM_MATCH_CACHE"`
	MatchTTL       time.Duration `yaml:"matchTTL" env:"DEALROOM_MATCH_TTL"`
	JWTSecret      string        `yaml:"jwtSecret" env:"DEALROOM_JWT_SECRET"`
	AllowedOrigins []string      `yaml:"allowedOrigins" env:"DEALROOM_ALLOWED_ORIGINS" envSeparator:","`
	IgnoreStale    bool          `yaml:"ignoreStale" env:"DEALROOM_IGNORE_STALE"`
}

// Defaults.
const (
	DefaultAdapter        = "fs"
	DefaultListen         = ":8080"
	DefaultScoringTimeout = 30 * time.Second
	DefaultMatchTTL       = 24 * time.Hour
)

// Load reads path (if non-empty), applies the environment and fills defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StorePath == "" {
		c.StorePath = "."
	}
	if c.Adapter == "" {
		c.Adapter = DefaultAdapter
	}
	if c.Versioning == "" {
		c.Versioning = VersioningAuto
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ScoringTimeout == 0 {
		c.ScoringTimeout = DefaultScoringTimeout
	}
	if c.MatchTTL == 0 {
		c.MatchTTL = DefaultMatchTTL
	}
}

// MatchCacheDSN returns the configured match cache, or a default derived
// from the store: a JSON file under the store's system directory, or an
// in-memory cache for the memory adapter.
func (c Config) MatchCacheDSN() string {
	switch {
	case c.MatchCache != "":
		return c.MatchCache
	case c.Adapter == "memory":
		return "memory"
	default:
		return "file:" + filepath.Join(c.StorePath, ".dealroom", "matches.json")
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Adapter {
	case "fs", "memory":
	default:
		errs = append(errs, fmt.Errorf("adapter must be fs or memory, got %q", c.Adapter))
	}
	switch c.Versioning {
	case VersioningAuto, VersioningOn, VersioningOff:
	default:
		errs = append(errs, fmt.Errorf("versioning must be auto, on or off, got %q", c.Versioning))
	}
	if c.ScoringTimeout < 0 {
		errs = append(errs, errors.New("scoring timeout must be positive"))
	}
	if c.MatchTTL < 0 {
		errs = append(errs, errors.New("match TTL must be positive"))
	}
	if c.ScoringURL != "" && !strings.HasPrefix(c.ScoringURL, "http://") && !strings.HasPrefix(c.ScoringURL, "https://") {
		errs = append(errs, fmt.Errorf("scoring URL must be http(s), got %q", c.ScoringURL))
	}
	return errors.Join(errs...)
}

// VersioningEnabled returns the explicit versioning choice, or nil for auto.
func (c Config) VersioningEnabled() *bool {
	switch c.Versioning {
	case VersioningOn:
		v := true
		return &v
	case VersioningOff:
		v := false
		return &v
	default:
		return nil
	}
}
