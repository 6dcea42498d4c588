package census

import (
	"context"
	"fmt"
	"os"
)

// Process is one entry of a process census
type Process struct {
	PID     int    `json:"pid"`
	PPID    int    `json:"ppid"`
	Command string `json:"command"` // full command line, space joined
}

// Provider takes a snapshot of the processes visible on the host
type Provider interface {
	Snapshot(ctx context.Context) ([]Process, error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context) ([]Process, error)

// Snapshot implements Provider
func (f ProviderFunc) Snapshot(ctx context.Context) ([]Process, error) {
	return f(ctx)
}

// New returns the provider registered under name
func New(name string) (Provider, error) {
	switch name {
	case "", "gopsutil":
		return NewGopsutilProvider(), nil
	case "proc":
		return NewProcScanner("/proc"), nil
	default:
		return nil, fmt.Errorf("unknown census provider %q", name)
	}
}

// Filter drops processes that belong to the watcher itself: its own pid
// and its parent (often a cron shell whose command line repeats the
// patterns). Children are kept: a daemon is still the parent of the
// recovery commands it launched, and those must be counted.
type Filter struct {
	excludePIDs map[int]bool
}

// NewFilter creates a filter for the current process
func NewFilter() *Filter {
	f := &Filter{}
	f.ExcludePID(os.Getpid())
	f.ExcludePID(os.Getppid())
	return f
}

// ExcludePID drops the process with this pid
func (f *Filter) ExcludePID(pid int) {
	if f.excludePIDs == nil {
		f.excludePIDs = make(map[int]bool)
	}
	f.excludePIDs[pid] = true
}

// Apply returns the processes that survive the filter
func (f *Filter) Apply(procs []Process) []Process {
	kept := make([]Process, 0, len(procs))
	for _, p := range procs {
		if f.excludePIDs[p.PID] {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}
