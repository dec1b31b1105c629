// Package config loads the power rules file and watches it for changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/eliteGoblin/focusd/power_mon/internal/domain"
)

// DefaultRelPath is the config location relative to the user's home directory.
const DefaultRelPath = ".config/power-rules/config.toml"

// Upper bounds for [config] durations. Larger values would also overflow
// time.Duration.
const (
	MaxPollingIntervalSeconds = 24 * 60 * 60 // one day
	MaxPauseMinutes           = 30 * 24 * 60 // thirty days
)

// fileConfig mirrors the on-disk TOML layout.
type fileConfig struct {
	Config *sectionConfig `toml:"config"`
	Rule   []ruleConfig   `toml:"rule"`
}

type sectionConfig struct {
	PollingInterval     *int64  `toml:"polling_interval"`       // seconds
	PauseOnManualChange *int64  `toml:"pause_on_manual_change"` // minutes
	DefaultProfile      *string `toml:"default_profile"`
}

type ruleConfig struct {
	Name    string `toml:"name"`
	Profile string `toml:"profile"`
}

// DefaultPath returns the config path under home.
func DefaultPath(home string) string {
	return filepath.Join(home, DefaultRelPath)
}

// TOMLStore implements domain.ConfigStore for TOML rule files.
type TOMLStore struct{}

// NewTOMLStore creates a config store.
func NewTOMLStore() *TOMLStore {
	return &TOMLStore{}
}

// Load reads and validates the rule file at path.
func (s *TOMLStore) Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &domain.Config{
				Settings: domain.DefaultSettings(),
				Rules:    domain.NewRuleSet(nil),
			}, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates TOML config text.
func Parse(data string) (*domain.Config, error) {
	var fc fileConfig
	md, err := toml.Decode(data, &fc)
	if err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	settings, err := fc.settings()
	if err != nil {
		return nil, err
	}

	rules := make([]domain.Rule, 0, len(fc.Rule))
	for i, r := range fc.Rule {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i+1)
		}
		profile, err := domain.ParseProfile(r.Profile)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		rules = append(rules, domain.Rule{Process: r.Name, Profile: profile})
	}

	var unknown []string
	for _, key := range md.Undecoded() {
		unknown = append(unknown, key.String())
	}

	return &domain.Config{
		Settings: settings,
		Rules:    domain.NewRuleSet(rules),
		Unknown:  unknown,
	}, nil
}

// settings applies the [config] section over defaults.
func (fc fileConfig) settings() (domain.Settings, error) {
	s := domain.DefaultSettings()
	if fc.Config == nil {
		return s, nil
	}

	if v := fc.Config.PollingInterval; v != nil {
		if *v < 1 || *v > MaxPollingIntervalSeconds {
			return s, fmt.Errorf("polling_interval must be between 1 and %d seconds, got %d", MaxPollingIntervalSeconds, *v)
		}
		s.PollingInterval = time.Duration(*v) * time.Second
	}

	if v := fc.Config.PauseOnManualChange; v != nil {
		if *v < 1 || *v > MaxPauseMinutes {
			return s, fmt.Errorf("pause_on_manual_change must be between 1 and %d minutes, got %d", MaxPauseMinutes, *v)
		}
		s.PauseDuration = time.Duration(*v) * time.Minute
	}

	if v := fc.Config.DefaultProfile; v != nil {
		profile, err := domain.ParseProfile(*v)
		if err != nil {
			return s, fmt.Errorf("default_profile: %w", err)
		}
		s.DefaultProfile = profile
	}

	return s, nil
}

// Ensure TOMLStore implements domain.ConfigStore.
var _ domain.ConfigStore = (*TOMLStore)(nil)
