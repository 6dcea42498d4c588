package launcher

// The recovery command must outlive the watcher: it gets its own process
// group, no stdin, and nothing ties its lifetime to ours.

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
)

// Request describes one recovery launch
type Request struct {
	Job     string
	Command string // split on whitespace, no shell
	Dir     string
	LogPath string // stderr is appended here
}

// Launcher starts recovery commands
type Launcher interface {
	Launch(ctx context.Context, req Request) (pid int, err error)
}

// LaunchError wraps an OS-level failure to start a recovery command
type LaunchError struct {
	Job     string
	Command string
	Err     error
}

// Error implements error interface
func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch of %q for job %s failed: %v", e.Command, e.Job, e.Err)
}

// Unwrap implements error unwrapping
func (e *LaunchError) Unwrap() error {
	return e.Err
}

// LogPath returns the stderr log for a job's recovery command
func LogPath(dir, job string) string {
	return filepath.Join(dir, job+"-recovery.log")
}

// Detached spawns commands in their own process group and does not wait
// for them. The zero value is ready to use.
type Detached struct{}

// NewDetached creates a detached launcher
func NewDetached() *Detached {
	return &Detached{}
}

// Launch implements Launcher
func (d *Detached) Launch(ctx context.Context, req Request) (int, error) {
	args := strings.Fields(req.Command)
	if len(args) == 0 {
		return 0, &LaunchError{Job: req.Job, Command: req.Command, Err: fmt.Errorf("empty command")}
	}

	stdout, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return 0, &LaunchError{Job: req.Job, Command: req.Command, Err: err}
	}
	defer stdout.Close()

	var stderr *os.File
	if req.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(req.LogPath), 0755); err != nil {
			return 0, &LaunchError{Job: req.Job, Command: req.Command, Err: err}
		}
		stderr, err = os.OpenFile(req.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, &LaunchError{Job: req.Job, Command: req.Command, Err: err}
		}
		defer stderr.Close()
	}

	// Not CommandContext: cancelling our context must not kill the workload.
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = req.Dir
	cmd.Stdin = nil
	cmd.Stdout = stdout
	if stderr != nil {
		cmd.Stderr = stderr
	} else {
		cmd.Stderr = stdout
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // New process group
		Pgid:    0,    // Process becomes its own group leader
	}

	if err := cmd.Start(); err != nil {
		return 0, &LaunchError{Job: req.Job, Command: req.Command, Err: err}
	}
	pid := cmd.Process.Pid

	// Reap the child if it exits while we are still alive (daemon mode).
	// In one-shot mode we exit first and init inherits it.
	go cmd.Wait()

	return pid, nil
}
