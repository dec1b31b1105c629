// Package infra implements infrastructure concerns (profile tool, processes, state files).
package infra

import (
	"os"
	"os/user"
	"path/filepath"

	"github.com/eliteGoblin/focusd/power_mon/internal/config"
)

const (
	stateRelDir   = ".local/state/power-rules"
	stateFileName = "state.toml"
)

// Paths holds the file locations the daemon reads and writes.
type Paths struct {
	Home       string
	ConfigPath string // TOML rule file
	StatePath  string // TOML pause state
	DataDir    string // encrypted state database and key
	IsRoot     bool
}

// DetectPaths resolves default locations for the invoking user.
func DetectPaths() *Paths {
	return PathsForHome(GetRealUserHome())
}

// PathsForHome returns default locations under a specific home directory.
func PathsForHome(home string) *Paths {
	dataDir := filepath.Join(home, stateRelDir)
	return &Paths{
		Home:       home,
		ConfigPath: config.DefaultPath(home),
		StatePath:  filepath.Join(dataDir, stateFileName),
		DataDir:    dataDir,
		IsRoot:     os.Geteuid() == 0,
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns root's home, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
