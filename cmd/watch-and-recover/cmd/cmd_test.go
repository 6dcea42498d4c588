package cmd

import (
	"bytes"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/state"
)

func exampleCatalogue(t *testing.T) *catalogue.Catalogue {
	t.Helper()
	c, err := catalogue.Parse([]byte(catalogue.ExampleConfig))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	return c
}

func TestResetEntities(t *testing.T) {
	st := state.New()
	st.Put(state.ScopeJob, "worker", state.EntityState{Tries: 10, LastExecution: 100})
	st.Put(state.ScopeGroup, "web", state.EntityState{Tries: 5, LastExecution: 100})
	st.Put(state.ScopeJob, "other", state.EntityState{Tries: 1, LastExecution: 100})

	cleared := resetEntities(st, []string{"worker", "missing"}, false)
	if len(cleared) != 1 || cleared[0] != "job:worker" {
		t.Errorf("Expected [job:worker], got %v", cleared)
	}
	if _, ok := st.Get(state.ScopeGroup, "web"); !ok {
		t.Error("Group state must survive a named reset")
	}

	cleared = resetEntities(st, nil, true)
	sort.Strings(cleared)
	if strings.Join(cleared, ",") != "group:web,job:other" {
		t.Errorf("Unexpected cleared set %v", cleared)
	}
	if len(st.Jobs) != 0 || len(st.Groups) != 0 {
		t.Errorf("Expected empty state, got %+v", st)
	}
}

func TestPrintStatus(t *testing.T) {
	c := exampleCatalogue(t)
	now := time.Unix(10000, 0)

	var buf bytes.Buffer
	if err := printStatus(&buf, c, state.New(), now); err != nil {
		t.Fatalf("printStatus failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Last run:       never") {
		t.Errorf("Expected never-run header, got:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "no retry state") {
		t.Errorf("Expected healthy notice, got:\n%s", buf.String())
	}

	st := state.New()
	st.LastRun = 9990
	st.ConfigHash = "old"
	st.Put(state.ScopeJob, "worker", state.EntityState{Tries: 10, LastExecution: 9940})
	st.Put(state.ScopeGroup, "web", state.EntityState{Tries: 2, LastExecution: 9900})

	buf.Reset()
	if err := printStatus(&buf, c, st, now); err != nil {
		t.Fatalf("printStatus failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Config changed", "worker", "10/10", "web", "2/5", "1m0s ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestPrintJobsAndGroups(t *testing.T) {
	c := exampleCatalogue(t)

	var buf bytes.Buffer
	if err := printJobs(&buf, c); err != nil {
		t.Fatalf("printJobs failed: %v", err)
	}
	for _, want := range []string{"nginx", "php-fpm", "worker", "/opt/app"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Expected %q in jobs table:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := printGroups(&buf, c); err != nil {
		t.Fatalf("printGroups failed: %v", err)
	}
	if !strings.Contains(buf.String(), "web") || !strings.Contains(buf.String(), "120s") {
		t.Errorf("Unexpected groups table:\n%s", buf.String())
	}
}

func TestFormatUnix(t *testing.T) {
	if got := formatUnix(0, time.Now()); got != "never" {
		t.Errorf("Expected never, got %q", got)
	}
	got := formatUnix(100, time.Unix(130, 0))
	if !strings.HasSuffix(got, "(30s ago)") {
		t.Errorf("Unexpected %q", got)
	}
}
