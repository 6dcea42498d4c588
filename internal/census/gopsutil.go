package census

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// GopsutilProvider reads the process table through gopsutil, which covers
// Linux, the BSDs, macOS and Windows without parsing ps output.
type GopsutilProvider struct{}

// NewGopsutilProvider creates a gopsutil backed census provider
func NewGopsutilProvider() *GopsutilProvider {
	return &GopsutilProvider{}
}

// Snapshot implements Provider
func (g *GopsutilProvider) Snapshot(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue // exited between listing and reading
		}
		if cmdline == "" {
			// Kernel threads have no command line; fall back to the name
			// the way ps shows them.
			name, err := p.NameWithContext(ctx)
			if err != nil {
				continue
			}
			cmdline = "[" + name + "]"
		}

		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			ppid = 0
		}

		out = append(out, Process{
			PID:     int(p.Pid),
			PPID:    int(ppid),
			Command: cmdline,
		})
	}
	return out, nil
}
