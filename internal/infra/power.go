package infra

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/eliteGoblin/focusd/power_mon/internal/domain"
)

// PowerProfilesCtlBinary is the power-profiles-daemon command line client.
const PowerProfilesCtlBinary = "powerprofilesctl"

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner executes real system commands
type ExecRunner struct{}

// Output executes a command and returns its stdout. The process is killed
// when ctx is done.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
	}
	return out, err
}

// PowerProfilesCtl implements domain.ProfileController by shelling out to powerprofilesctl.
type PowerProfilesCtl struct {
	binary string
	runner CommandRunner
}

// NewPowerProfilesCtl creates a controller that runs the real powerprofilesctl.
func NewPowerProfilesCtl() *PowerProfilesCtl {
	return NewPowerProfilesCtlWithRunner(PowerProfilesCtlBinary, ExecRunner{})
}

// NewPowerProfilesCtlWithRunner creates a controller with injectable dependencies (for testing)
func NewPowerProfilesCtlWithRunner(binary string, runner CommandRunner) *PowerProfilesCtl {
	return &PowerProfilesCtl{binary: binary, runner: runner}
}

// CheckAvailable verifies the tool can be executed.
func (c *PowerProfilesCtl) CheckAvailable(ctx context.Context) error {
	if _, err := c.runner.Output(ctx, c.binary, "--version"); err != nil {
		return fmt.Errorf("%w: %s --version: %v", domain.ErrToolUnavailable, c.binary, err)
	}
	return nil
}

// Current returns the active profile as reported by "powerprofilesctl get".
func (c *PowerProfilesCtl) Current(ctx context.Context) (domain.Profile, bool, error) {
	out, err := c.runner.Output(ctx, c.binary, "get")
	if err != nil {
		return "", false, fmt.Errorf("failed to get power profile: %w", err)
	}

	profile := strings.TrimSpace(string(out))
	if profile == "" {
		return "", false, nil
	}
	return domain.Profile(profile), true, nil
}

// Set activates profile via "powerprofilesctl set".
func (c *PowerProfilesCtl) Set(ctx context.Context, profile domain.Profile) error {
	if _, err := c.runner.Output(ctx, c.binary, "set", profile.String()); err != nil {
		return fmt.Errorf("failed to set power profile %s: %w", profile, err)
	}
	return nil
}

// Ensure PowerProfilesCtl implements domain.ProfileController.
var _ domain.ProfileController = (*PowerProfilesCtl)(nil)
