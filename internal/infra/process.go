package infra

import (
	"context"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/power_mon/internal/domain"
)

// ProcessProbe implements domain.ProcessProbe using gopsutil.
type ProcessProbe struct {
	selfPID int32
}

// NewProcessProbe creates a probe that ignores the daemon's own process.
func NewProcessProbe() *ProcessProbe {
	return &ProcessProbe{selfPID: int32(os.Getpid())}
}

// IsRunning reports whether any process name or command line contains
// identifier (case-insensitive). Processes we cannot inspect are skipped.
func (p *ProcessProbe) IsRunning(ctx context.Context, identifier string) (bool, error) {
	if identifier == "" {
		return false, nil
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, err
	}

	needle := strings.ToLower(identifier)
	for _, proc := range procs {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if proc.Pid == p.selfPID {
			continue
		}

		if name, err := proc.NameWithContext(ctx); err == nil {
			if strings.Contains(strings.ToLower(name), needle) {
				return true, nil
			}
		}

		// Process may have exited or belong to another user
		cmdline, err := proc.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(cmdline), needle) {
			return true, nil
		}
	}

	return false, nil
}

// Ensure ProcessProbe implements domain.ProcessProbe.
var _ domain.ProcessProbe = (*ProcessProbe)(nil)
