// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Profile is a power profile name as understood by the profile tool.
type Profile string

const (
	ProfilePerformance Profile = "performance"
	ProfileBalanced    Profile = "balanced"
	ProfilePowerSaver  Profile = "power-saver"
)

// ErrInvalidProfile is returned when a profile name is outside the supported set.
var ErrInvalidProfile = errors.New("invalid profile")

// ParseProfile validates a profile name case-insensitively and returns its
// canonical form. "power_saver" is accepted as a legacy spelling of "power-saver".
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "performance":
		return ProfilePerformance, nil
	case "balanced":
		return ProfileBalanced, nil
	case "power-saver", "power_saver":
		return ProfilePowerSaver, nil
	}
	return "", fmt.Errorf("%w %q: must be one of: performance, balanced, power-saver", ErrInvalidProfile, s)
}

// String returns the profile name.
func (p Profile) String() string {
	return string(p)
}

// Rule binds a process identifier to the profile that should be active while
// that process runs.
type Rule struct {
	Process string
	Profile Profile
}

// RuleSet is an ordered collection of rules with unique process identifiers.
// Order is declaration order and decides which rule wins when several
// processes run at once.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet builds a rule set from rules in declaration order.
// A repeated process keeps its first position and takes the last profile.
func NewRuleSet(rules []Rule) RuleSet {
	index := make(map[string]int, len(rules))
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if i, ok := index[r.Process]; ok {
			out[i].Profile = r.Profile
			continue
		}
		index[r.Process] = len(out)
		out = append(out, r)
	}
	return RuleSet{rules: out}
}

// Len returns the number of rules.
func (rs RuleSet) Len() int {
	return len(rs.rules)
}

// Rules returns a copy of the rules in evaluation order.
func (rs RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Default settings used when the config file omits a value.
const (
	DefaultPollingInterval = 5 * time.Second
	DefaultPauseDuration   = 60 * time.Minute
	DefaultProfile         = ProfileBalanced
)

// Settings holds the scalar daemon settings derived from the config file.
type Settings struct {
	PollingInterval time.Duration
	PauseDuration   time.Duration
	DefaultProfile  Profile
}

// DefaultSettings returns settings used when no config file exists.
func DefaultSettings() Settings {
	return Settings{
		PollingInterval: DefaultPollingInterval,
		PauseDuration:   DefaultPauseDuration,
		DefaultProfile:  DefaultProfile,
	}
}

// Config is a fully validated configuration generation.
type Config struct {
	Settings Settings
	Rules    RuleSet
	// Unknown lists keys present in the file that were not recognised.
	Unknown []string
}

// PauseState is the durable cooldown record. A nil PausedUntil means active.
type PauseState struct {
	PausedUntil *int64 `toml:"paused_until,omitempty"`
}

// IsPaused reports whether a deadline is set.
func (s PauseState) IsPaused() bool {
	return s.PausedUntil != nil
}

// Expired reports whether the deadline has been reached at now.
func (s PauseState) Expired(now time.Time) bool {
	return s.PausedUntil != nil && now.Unix() >= *s.PausedUntil
}

// Deadline returns the deadline as a time, or the zero time when active.
func (s PauseState) Deadline() time.Time {
	if s.PausedUntil == nil {
		return time.Time{}
	}
	return time.Unix(*s.PausedUntil, 0)
}

// PausedUntil returns a paused state ending at t.
func PausedUntil(t time.Time) PauseState {
	until := t.Unix()
	return PauseState{PausedUntil: &until}
}
