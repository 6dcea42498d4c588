package census

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeProc(t *testing.T, root string, pid string, stat, cmdline string) {
	t.Helper()
	dir := filepath.Join(root, pid)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0644); err != nil {
		t.Fatalf("Failed to write stat: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0644); err != nil {
		t.Fatalf("Failed to write cmdline: %v", err)
	}
}

func TestProcScannerSnapshot(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, "100", "100 (nginx) S 1 100 100 0 -1", "nginx: master process /usr/sbin/nginx\x00")
	writeProc(t, root, "200", "200 (queue worker) S 100 200 200 0 -1", "/opt/bin/worker\x00--queue=high\x00")
	writeProc(t, root, "2", "2 (kthreadd) S 0 0 0 0 -1", "")
	// not a pid directory
	if err := os.MkdirAll(filepath.Join(root, "sys"), 0755); err != nil {
		t.Fatal(err)
	}
	// a pid whose stat is unreadable is skipped
	if err := os.MkdirAll(filepath.Join(root, "300"), 0755); err != nil {
		t.Fatal(err)
	}

	procs, err := NewProcScanner(root).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	byPID := make(map[int]Process)
	for _, p := range procs {
		byPID[p.PID] = p
	}
	if len(byPID) != 3 {
		t.Fatalf("Expected 3 processes, got %d: %+v", len(byPID), procs)
	}

	if got := byPID[100].Command; got != "nginx: master process /usr/sbin/nginx" {
		t.Errorf("Unexpected nginx command %q", got)
	}
	if got := byPID[200]; got.PPID != 100 || got.Command != "/opt/bin/worker --queue=high" {
		t.Errorf("Unexpected worker entry %+v", got)
	}
	if got := byPID[2].Command; got != "[kthreadd]" {
		t.Errorf("Expected kernel thread name, got %q", got)
	}
}

func TestProcScannerMissingRoot(t *testing.T) {
	_, err := NewProcScanner(filepath.Join(t.TempDir(), "nope")).Snapshot(context.Background())
	if err == nil {
		t.Fatal("Expected error for missing procfs root")
	}
}

func TestReadStatWithParensInComm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	if err := os.WriteFile(path, []byte("42 (weird) name)) R 7 42 42"), 0644); err != nil {
		t.Fatal(err)
	}
	comm, ppid, err := readStat(path)
	if err != nil {
		t.Fatalf("readStat failed: %v", err)
	}
	if comm != "weird) name)" || ppid != 7 {
		t.Errorf("Got comm=%q ppid=%d", comm, ppid)
	}
}

func TestFilterDropsWatcherProcesses(t *testing.T) {
	f := &Filter{}
	f.ExcludePID(10)
	f.ExcludePID(9)

	in := []Process{
		{PID: 10, PPID: 9, Command: "watch-and-recover daemon"},
		{PID: 9, PPID: 1, Command: "/bin/sh -c watch-and-recover daemon nginx"},
		{PID: 11, PPID: 10, Command: "nginx: master process"},
		{PID: 12, PPID: 1, Command: "php-fpm: master process"},
	}
	out := f.Apply(in)
	if len(out) != 2 || out[0].PID != 11 || out[1].PID != 12 {
		t.Errorf("Expected pids 11 and 12 to survive, got %+v", out)
	}
}

func TestNewFilterExcludesSelf(t *testing.T) {
	f := NewFilter()
	out := f.Apply([]Process{
		{PID: os.Getpid(), PPID: os.Getppid()},
		{PID: os.Getppid(), PPID: 1},
		{PID: 1 << 22, PPID: os.Getpid(), Command: "relaunched by this process"},
	})
	if len(out) != 1 || out[0].PPID != os.Getpid() {
		t.Errorf("Expected only the child to survive, got %+v", out)
	}
}

func TestGopsutilProviderSeesSelf(t *testing.T) {
	procs, err := NewGopsutilProvider().Snapshot(context.Background())
	if err != nil {
		t.Skipf("process table not readable here: %v", err)
	}
	for _, p := range procs {
		if p.PID == os.Getpid() {
			if p.Command == "" {
				t.Error("Expected a command line for the test binary")
			}
			return
		}
	}
	t.Error("Expected the test process in the census")
}

func TestNewProvider(t *testing.T) {
	if _, err := New("gopsutil"); err != nil {
		t.Errorf("gopsutil: %v", err)
	}
	if _, err := New("proc"); err != nil {
		t.Errorf("proc: %v", err)
	}
	if _, err := New("ps"); err == nil {
		t.Error("Expected error for unknown provider")
	}
}
