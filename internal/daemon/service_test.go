package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/watch-and-recover/internal/logging"
	"github.com/psantana5/watch-and-recover/internal/report"
	"github.com/psantana5/watch-and-recover/internal/state"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	err   error
	ran   chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context) (*report.RunReport, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()

	rep := report.NewRunReport("run", time.Unix(1000, 0))
	rep.Add(&report.Result{Job: "worker", Key: "worker", Scope: state.ScopeJob, Outcome: report.OutcomeExhausted, Tries: 3, MaxTries: 3})
	st := state.New()
	st.LastRun = 1000
	st.Put(state.ScopeJob, "worker", state.EntityState{Tries: 3, LastExecution: 900})
	rep.State = st
	rep.Complete(time.Unix(1001, 0))

	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func newService(t *testing.T, cfg *Config, r Runner) *Service {
	t.Helper()
	cfg.Logger = logging.Discard()
	s, err := New(cfg, r)
	require.NoError(t, err)
	return s
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(&Config{Schedule: "every so often", Logger: logging.Discard()}, &fakeRunner{})
	assert.Error(t, err)

	s, err := New(&Config{Logger: logging.Discard()}, &fakeRunner{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, s.config.Schedule)

	_, err = New(&Config{Schedule: "@every 30s", Logger: logging.Discard()}, &fakeRunner{})
	assert.NoError(t, err)
}

func TestEndpointsBeforeFirstRun(t *testing.T) {
	s := newService(t, &Config{}, &fakeRunner{})
	router := s.Router()

	code, _ := get(t, router, "/state")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = get(t, router, "/runs/last")
	assert.Equal(t, http.StatusNotFound, code)
	code, body := get(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"healthy"`)
}

func TestRunOnceFeedsEndpoints(t *testing.T) {
	textfile := filepath.Join(t.TempDir(), "war.prom")
	var seen *report.RunReport
	s := newService(t, &Config{
		MetricsTextfile: textfile,
		OnRun:           func(r *report.RunReport) { seen = r },
	}, &fakeRunner{})

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, seen)

	router := s.Router()

	code, body := get(t, router, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "watch_and_recover_runs_total 1")
	assert.Contains(t, body, `watch_and_recover_entity_tries{name="worker",scope="job"} 3`)

	code, body = get(t, router, "/state")
	assert.Equal(t, http.StatusOK, code)
	var st state.RunState
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, 3, st.Jobs["worker"].Tries)

	code, body = get(t, router, "/failures?limit=1")
	assert.Equal(t, http.StatusOK, code)
	var failures []report.FailureSample
	require.NoError(t, json.Unmarshal([]byte(body), &failures))
	require.Len(t, failures, 1)
	assert.Equal(t, report.OutcomeExhausted, failures[0].Outcome)

	code, _ = get(t, router, "/failures?limit=x")
	assert.Equal(t, http.StatusBadRequest, code)

	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "watch_and_recover_runs_total 1")
}

func TestFailedRunMakesHealthUnavailable(t *testing.T) {
	r := &fakeRunner{err: errors.New("failed to take process census")}
	s := newService(t, &Config{}, r)

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)

	total, failed := s.Stats()
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), failed)

	code, body := get(t, s.Router(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "process census")
}

func TestStartRunsUntilCancelled(t *testing.T) {
	r := &fakeRunner{ran: make(chan struct{}, 1)}
	s := newService(t, &Config{Schedule: "@every 1h", RunOnStart: true}, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-r.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("run on start did not happen")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
