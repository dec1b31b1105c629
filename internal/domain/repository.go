package domain

import (
	"context"
	"errors"
)

// ErrToolUnavailable is returned when the power profile tool cannot be used on this host.
var ErrToolUnavailable = errors.New("power profile tool unavailable")

// ProfileController reads and changes the active power profile.
// Implementation: shells out to powerprofilesctl.
type ProfileController interface {
	// CheckAvailable returns ErrToolUnavailable (wrapped) when the tool is missing.
	CheckAvailable(ctx context.Context) error

	// Current returns the active profile. ok is false when the tool reports none.
	Current(ctx context.Context) (profile Profile, ok bool, err error)

	// Set activates the given profile.
	Set(ctx context.Context, profile Profile) error
}

// ProcessProbe answers whether a process is running.
// Implementation: uses gopsutil for cross-platform support.
type ProcessProbe interface {
	// IsRunning reports whether any process name or command line contains identifier.
	IsRunning(ctx context.Context, identifier string) (bool, error)
}

// ConfigStore loads and validates the rule file.
type ConfigStore interface {
	// Load returns a fully validated configuration or an error; never a partial result.
	// A missing file yields defaults and zero rules.
	Load(path string) (*Config, error)
}

// StateStore persists the pause state across restarts.
type StateStore interface {
	// Load returns the stored state. A missing store yields the zero (active) state.
	Load() (PauseState, error)

	// Save durably writes the state.
	Save(state PauseState) error

	// Path returns where the state lives (for logs and tests).
	Path() string
}

// KeyProvider abstracts the source of encryption keys for the encrypted state store.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
