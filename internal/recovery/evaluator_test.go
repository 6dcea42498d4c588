package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/census"
	"github.com/psantana5/watch-and-recover/internal/logging"
	"github.com/psantana5/watch-and-recover/internal/state"
	"github.com/psantana5/watch-and-recover/internal/telemetry"
)

func TestEvaluateCountsAndGroupTotals(t *testing.T) {
	groups, jobs := webGroup(3, 60)
	jobs = append(jobs, &catalogue.Job{Name: "worker", WatchFor: `^python3 .*worker\.py`, RecoverWith: "run-worker", Tries: 1})
	c := mustCatalogue(t, groups, jobs)

	procs := []census.Process{
		{PID: 1, Command: "nginx: master process /usr/sbin/nginx"},
		{PID: 2, Command: "nginx: worker process"},
		{PID: 3, Command: "redis-server *:6379"},
		{PID: 4, Command: "python3 /opt/app/worker.py --queue high"},
		{PID: 5, Command: "/usr/bin/python3 /opt/app/worker.py"},
		{PID: 6, Command: "vim worker.py"},
	}

	l := Evaluate(c, procs)

	assert.Equal(t, 1, l.Running("nginx"))
	assert.Equal(t, 0, l.Running("php"))
	assert.Equal(t, 1, l.Running("redis"))
	assert.Equal(t, 1, l.Running("worker"))
	assert.Equal(t, 2, l.GroupTotal("web"))
	assert.Equal(t, 0, l.GroupTotal("nope"))
}

func TestEvaluateEmptyCensus(t *testing.T) {
	groups, jobs := webGroup(3, 60)
	l := Evaluate(mustCatalogue(t, groups, jobs), nil)

	for _, j := range jobs {
		assert.Zero(t, l.Running(j.Name))
	}
	total, ok := l.GroupTotals["web"]
	assert.True(t, ok, "groups without live members still get a total")
	assert.Zero(t, total)
}

func TestEmitterFlushSendsWholeBuffer(t *testing.T) {
	sink := &recordingSink{}
	em := NewEmitter(sink, logging.Discard())
	ctx := context.Background()

	em.Append(ctx, "A", "one", false)
	em.Append(ctx, "A", "two", true)
	em.Append(ctx, "A", "three", true)
	em.Append(ctx, "B", "quiet", false)

	assert.Equal(t, []string{"one\ntwo", "one\ntwo\nthree"}, sink.values(telemetry.MessageKey("A")))
	assert.Empty(t, sink.values(telemetry.MessageKey("B")))
	assert.Equal(t, []string{"quiet"}, em.Messages("B"))

	all := em.All()
	all["A"][0] = "changed"
	assert.Equal(t, "one", em.Messages("A")[0])
	assert.Zero(t, em.Failures())
}

func TestEmitterCountsFailures(t *testing.T) {
	sink := &recordingSink{fail: true}
	em := NewEmitter(sink, logging.Discard())

	ok := em.Publish(context.Background(), telemetry.CountKey("A"), "0")
	em.Append(context.Background(), "A", "msg", true)

	assert.False(t, ok)
	assert.Equal(t, 2, em.Failures())
}

func TestDiscoveryDue(t *testing.T) {
	st := state.New()
	st.ConfigHash = "abc"
	st.LastDiscovery = 1000

	tests := []struct {
		name        string
		fingerprint string
		now         int64
		force       bool
		want        bool
	}{
		{"unchanged and recent", "abc", 1000 + DiscoveryInterval - 1, false, false},
		{"interval passed", "abc", 1000 + DiscoveryInterval, true, true},
		{"interval passed unforced", "abc", 1000 + DiscoveryInterval, false, true},
		{"config changed", "def", 1001, false, true},
		{"forced", "abc", 1001, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DiscoveryDue(st, tt.fingerprint, tt.now, tt.force))
		})
	}
}

func TestBuildDiscoveryKeepsCatalogueOrder(t *testing.T) {
	groups, jobs := webGroup(3, 60)
	d := BuildDiscovery(mustCatalogue(t, groups, jobs))

	data, err := d.JSON()
	assert.NoError(t, err)
	assert.Len(t, d.Data, 3)
	assert.Equal(t, "nginx", d.Data[0].JobName)
	assert.Contains(t, string(data), `"{#RECOVER_WITH}":"systemctl start redis"`)
}

func TestPruneDropsUnknownEntries(t *testing.T) {
	groups, jobs := webGroup(3, 60)
	jobs = append(jobs, jobA())
	c := mustCatalogue(t, groups, jobs)

	st := state.New()
	st.Put(state.ScopeJob, "A", state.EntityState{Tries: 1, LastExecution: 1000})
	st.Put(state.ScopeJob, "gone", state.EntityState{Tries: 2, LastExecution: 1000})
	st.Put(state.ScopeJob, "nginx", state.EntityState{Tries: 1, LastExecution: 900})
	st.Put(state.ScopeGroup, "web", state.EntityState{Tries: 1, LastExecution: 1000})
	st.Put(state.ScopeGroup, "db", state.EntityState{Tries: 3, LastExecution: 800})

	dropped := Prune(c, st)

	assert.Equal(t, []string{"group:db", "job:gone", "job:nginx"}, dropped)
	_, ok := st.Get(state.ScopeJob, "A")
	assert.True(t, ok)
	_, ok = st.Get(state.ScopeGroup, "web")
	assert.True(t, ok)
	assert.Empty(t, Prune(c, st))
}
