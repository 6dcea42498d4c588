package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/census"
	"github.com/psantana5/watch-and-recover/internal/launcher"
	"github.com/psantana5/watch-and-recover/internal/logging"
	"github.com/psantana5/watch-and-recover/internal/report"
	"github.com/psantana5/watch-and-recover/internal/state"
)

type item struct {
	key   string
	value string
}

type recordingSink struct {
	items []item
	fail  bool
}

func (r *recordingSink) Send(ctx context.Context, key, value string) error {
	r.items = append(r.items, item{key, value})
	if r.fail {
		return errors.New("zabbix unreachable")
	}
	return nil
}

func (r *recordingSink) Close() error { return nil }

// values returns every value sent under key, in order
func (r *recordingSink) values(key string) []string {
	var out []string
	for _, it := range r.items {
		if it.key == key {
			out = append(out, it.value)
		}
	}
	return out
}

func (r *recordingSink) keysWithPrefix(prefix string) []string {
	var out []string
	for _, it := range r.items {
		if strings.HasPrefix(it.key, prefix) {
			out = append(out, it.key)
		}
	}
	return out
}

type fakeLauncher struct {
	requests []launcher.Request
	err      error
	nextPID  int
}

func (f *fakeLauncher) Launch(ctx context.Context, req launcher.Request) (int, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return 0, &launcher.LaunchError{Job: req.Job, Command: req.Command, Err: f.err}
	}
	f.nextPID++
	return 1000 + f.nextPID, nil
}

type memStore struct {
	st      *state.RunState
	loadErr error
	saves   int
}

func (m *memStore) Load(ctx context.Context) (*state.RunState, error) {
	if m.loadErr != nil {
		return state.New(), m.loadErr
	}
	if m.st == nil {
		return state.New(), nil
	}
	return m.st.Clone(), nil
}

func (m *memStore) Save(ctx context.Context, s *state.RunState) error {
	m.st = s.Clone()
	m.saves++
	return nil
}

func (m *memStore) Close() error { return nil }

// harness bundles an engine with fakes for every collaborator
type harness struct {
	engine   *Engine
	sink     *recordingSink
	launcher *fakeLauncher
	store    *memStore
	procs    []census.Process
	clock    int64
}

func newHarness(t *testing.T, c *catalogue.Catalogue) *harness {
	t.Helper()
	h := &harness{
		sink:     &recordingSink{},
		launcher: &fakeLauncher{},
		store:    &memStore{},
	}
	h.engine = &Engine{
		Catalogue: c,
		Census: census.ProviderFunc(func(ctx context.Context) ([]census.Process, error) {
			return h.procs, nil
		}),
		Launcher: h.launcher,
		Sink:     h.sink,
		Store:    h.store,
		Logger:   logging.Discard(),
		Now:      func() time.Time { return time.Unix(h.clock, 0) },
	}
	return h
}

// runAt performs one run at unix time ts with the given command lines alive
func (h *harness) runAt(t *testing.T, ts int64, commands ...string) *report.RunReport {
	t.Helper()
	h.clock = ts
	h.procs = h.procs[:0]
	for i, cmd := range commands {
		h.procs = append(h.procs, census.Process{PID: 100 + i, PPID: 1, Command: cmd})
	}
	rep, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	return rep
}

func mustCatalogue(t *testing.T, groups []*catalogue.Group, jobs []*catalogue.Job) *catalogue.Catalogue {
	t.Helper()
	c, err := catalogue.New(groups, jobs)
	require.NoError(t, err)
	return c
}
