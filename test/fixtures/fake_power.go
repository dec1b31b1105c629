// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fakeCtlScript = `#!/bin/sh
state="$(dirname "$0")/profile"
case "$1" in
  --version) echo "0.21" ;;
  get) cat "$state" ;;
  set) printf '%s\n' "$2" > "$state" ;;
  *) echo "unknown command $1" >&2; exit 1 ;;
esac
`

// FakeProfilesCtl installs a shell script that behaves like powerprofilesctl,
// keeping the active profile in a file next to it.
type FakeProfilesCtl struct {
	Dir string
}

// NewFakeProfilesCtl creates a fake tool rooted at dir.
func NewFakeProfilesCtl(dir string) *FakeProfilesCtl {
	return &FakeProfilesCtl{Dir: dir}
}

// Install writes the script and sets the initial profile.
func (f *FakeProfilesCtl) Install(initial string) error {
	if err := os.MkdirAll(f.Dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(f.Binary(), []byte(fakeCtlScript), 0755); err != nil {
		return err
	}
	return f.SetExternally(initial)
}

// Binary returns the script path.
func (f *FakeProfilesCtl) Binary() string {
	return filepath.Join(f.Dir, "powerprofilesctl")
}

// Profile returns the profile the fake tool currently reports.
func (f *FakeProfilesCtl) Profile() (string, error) {
	data, err := os.ReadFile(filepath.Join(f.Dir, "profile"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// SetExternally changes the profile behind the daemon's back, as a user would.
func (f *FakeProfilesCtl) SetExternally(profile string) error {
	return os.WriteFile(filepath.Join(f.Dir, "profile"), []byte(profile+"\n"), 0644)
}

// StaticProbe reports a fixed, mutable set of running process names.
type StaticProbe struct {
	mu      sync.Mutex
	running map[string]bool
}

// NewStaticProbe creates a probe with the given processes running.
func NewStaticProbe(names ...string) *StaticProbe {
	p := &StaticProbe{running: make(map[string]bool)}
	for _, n := range names {
		p.running[n] = true
	}
	return p
}

// Start marks a process as running.
func (p *StaticProbe) Start(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running[name] = true
}

// Stop marks a process as exited.
func (p *StaticProbe) Stop(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.running, name)
}

// IsRunning implements domain.ProcessProbe.
func (p *StaticProbe) IsRunning(ctx context.Context, identifier string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[identifier], nil
}

// WriteConfig writes a rule file with the given [config] values and rules
// (process, profile pairs).
func WriteConfig(path string, settings map[string]string, rules ...[2]string) error {
	var b strings.Builder
	if len(settings) > 0 {
		b.WriteString("[config]\n")
		for _, key := range []string{"polling_interval", "pause_on_manual_change", "default_profile"} {
			if v, ok := settings[key]; ok {
				fmt.Fprintf(&b, "%s = %s\n", key, v)
			}
		}
	}
	for _, r := range rules {
		fmt.Fprintf(&b, "\n[[rule]]\nname = %q\nprofile = %q\n", r[0], r[1])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
