package census

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ProcScanner builds the census straight from a procfs mount. Linux only,
// but avoids gopsutil's per-process overhead on hosts with many processes.
type ProcScanner struct {
	root string
}

// NewProcScanner creates a scanner reading from root (normally /proc)
func NewProcScanner(root string) *ProcScanner {
	return &ProcScanner{root: root}
}

// Snapshot implements Provider
func (s *ProcScanner) Snapshot(ctx context.Context) ([]Process, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.root, err)
	}

	var processes []Process
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Only numeric directories are processes
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		dir := filepath.Join(s.root, entry.Name())
		comm, ppid, err := readStat(filepath.Join(dir, "stat"))
		if err != nil {
			continue // process may have exited
		}

		command := readCmdline(filepath.Join(dir, "cmdline"))
		if command == "" {
			command = "[" + comm + "]"
		}

		processes = append(processes, Process{
			PID:     pid,
			PPID:    ppid,
			Command: command,
		})
	}

	return processes, nil
}

// readCmdline returns the NUL separated argv joined by spaces
func readCmdline(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
	return strings.TrimSpace(strings.Join(parts, " "))
}

// readStat extracts comm and ppid from /proc/[pid]/stat.
// Format: pid (comm) state ppid ...; comm may itself contain spaces and
// parentheses, so split on the last ')'.
func readStat(path string) (string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, err
	}
	stat := string(data)

	open := strings.IndexByte(stat, '(')
	end := strings.LastIndexByte(stat, ')')
	if open < 0 || end < open {
		return "", 0, fmt.Errorf("invalid stat format in %s", path)
	}
	comm := stat[open+1 : end]

	fields := strings.Fields(stat[end+1:])
	if len(fields) < 2 {
		return "", 0, fmt.Errorf("invalid stat format in %s", path)
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid ppid in %s: %w", path, err)
	}
	return comm, ppid, nil
}
