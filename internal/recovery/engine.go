package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/census"
	"github.com/psantana5/watch-and-recover/internal/launcher"
	"github.com/psantana5/watch-and-recover/internal/logging"
	"github.com/psantana5/watch-and-recover/internal/report"
	"github.com/psantana5/watch-and-recover/internal/state"
	"github.com/psantana5/watch-and-recover/internal/telemetry"
	"github.com/psantana5/watch-and-recover/internal/tracing"
)

// Version is reported as the service version on spans
var Version = "dev"

// DefaultLockTimeout bounds how long a run waits for another one to finish
const DefaultLockTimeout = 30 * time.Second

// Engine runs one read-evaluate-write cycle per call to Run
type Engine struct {
	Catalogue *catalogue.Catalogue
	Census    census.Provider
	Filter    *census.Filter
	Launcher  launcher.Launcher
	Sink      telemetry.Sink
	Store     state.Store
	Logger    *logging.Logger

	// LockPath enables the exclusive run lock when set
	LockPath    string
	LockTimeout time.Duration

	// ForceDiscovery publishes the catalogue even when nothing changed
	ForceDiscovery bool

	// Now is the clock; time.Now when nil
	Now func() time.Time

	// Tracer receives one span per run; the global tracer when nil
	Tracer trace.Tracer

	tracing *tracing.Provider
	mu      sync.RWMutex
}

// Open wires an engine from the catalogue's settings: census provider,
// state backend, launcher and telemetry sinks. Close releases them.
func Open(c *catalogue.Catalogue, logger *logging.Logger) (*Engine, error) {
	snapshotter, err := census.New(c.Settings.Census)
	if err != nil {
		return nil, err
	}

	store, err := state.Open(c.Settings.StateBackend, c.Settings.StateLocation())
	if err != nil {
		return nil, fmt.Errorf("failed to open state: %w", err)
	}

	sink, err := telemetry.Open(c.Settings.Telemetry, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open telemetry: %w", err)
	}

	provider, err := tracing.Init(tracing.Config{
		ServiceName:    c.Settings.Tracing.ServiceName,
		ServiceVersion: Version,
		Endpoint:       c.Settings.Tracing.Endpoint,
	}, logger)
	if err != nil {
		sink.Close()
		store.Close()
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	return &Engine{
		Catalogue: c,
		Census:    snapshotter,
		Filter:    census.NewFilter(),
		Launcher:  launcher.NewDetached(),
		Sink:      sink,
		Store:     store,
		Logger:    logger,
		LockPath:  c.Settings.LockBase(),
		Tracer:    provider.Tracer(),
		tracing:   provider,
	}, nil
}

// Close releases the state store, the telemetry sinks and flushes spans
func (e *Engine) Close() error {
	err := errors.Join(e.Sink.Close(), e.Store.Close())
	if e.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, e.tracing.Shutdown(ctx))
	}
	return err
}

// SetCatalogue swaps the jobs and groups used from the next run on. The
// state backend, telemetry and census stay as opened.
func (e *Engine) SetCatalogue(c *catalogue.Catalogue) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Catalogue = c
}

func (e *Engine) catalogue() *catalogue.Catalogue {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Catalogue
}

func (e *Engine) tracer() trace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return otel.Tracer(tracing.DefaultServiceName)
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Run takes one census, decides recoveries for every job, reconciles groups
// and persists the state. Per-job problems end up in the report and the
// message buffers; only census, lock and state write failures are returned.
func (e *Engine) Run(ctx context.Context) (*report.RunReport, error) {
	start := e.now()
	ts := start.Unix()
	runID := uuid.NewString()
	log := e.Logger.WithField("run_id", runID)
	rep := report.NewRunReport(runID, start)
	c := e.catalogue()

	ctx, span := e.tracer().Start(ctx, "watch.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("jobs", len(c.Jobs)),
	))
	defer span.End()

	if e.LockPath != "" {
		timeout := e.LockTimeout
		if timeout <= 0 {
			timeout = DefaultLockTimeout
		}
		lockCtx, cancel := context.WithTimeout(ctx, timeout)
		lock, err := state.AcquireLock(lockCtx, e.LockPath)
		cancel()
		if err != nil {
			err = fmt.Errorf("failed to lock state: %w", err)
			tracing.SetError(ctx, err)
			return nil, err
		}
		defer lock.Release()
	}

	st, err := e.Store.Load(ctx)
	if err != nil {
		log.Warn("Stored state is unusable, starting from defaults", logging.Fields{"error": err.Error()})
		st = state.New()
		rep.StateCorrupt = true
	}

	censusCtx, censusSpan := e.tracer().Start(ctx, "watch.census")
	procs, err := e.Census.Snapshot(censusCtx)
	if err != nil {
		err = fmt.Errorf("failed to take process census: %w", err)
		tracing.SetError(censusCtx, err)
		censusSpan.End()
		tracing.SetError(ctx, err)
		return nil, err
	}
	if e.Filter != nil {
		procs = e.Filter.Apply(procs)
	}
	censusSpan.SetAttributes(attribute.Int("processes", len(procs)))
	censusSpan.End()
	log.Debug("Process census taken", logging.Fields{"processes": len(procs)})

	em := NewEmitter(e.Sink, log)

	if DiscoveryDue(st, c.Fingerprint, ts, e.ForceDiscovery) {
		st.LastDiscovery = ts
		payload, err := BuildDiscovery(c).JSON()
		if err != nil {
			log.Error("Failed to encode discovery", logging.Fields{"error": err.Error()})
		} else {
			rep.Discovery = payload
			if em.Publish(ctx, telemetry.KeyDiscovery, string(payload)) {
				rep.DiscoveryPublished = true
				tracing.AddEvent(ctx, "discovery.published", attribute.Int("jobs", len(c.Jobs)))
				log.Info("Discovery published", logging.Fields{"jobs": len(c.Jobs)})
			} else {
				// stamped anyway; the next send waits for a config change or the interval
				tracing.AddEvent(ctx, "discovery.failed", attribute.Int("jobs", len(c.Jobs)))
				log.Warn("Discovery could not be sent", logging.Fields{"jobs": len(c.Jobs)})
			}
		}
	} else {
		log.Debug("Config has not changed. Skipping discovery.")
	}

	live := Evaluate(c, procs)
	rep.CountsPublished = st.LastRun != 0
	if !rep.CountsPublished {
		log.Debug("Skipped sending item values on first run.")
	}

	evalCtx, evalSpan := e.tracer().Start(ctx, "watch.evaluate")
	sched := NewScheduler(st, e.Launcher, em, log, c.Settings.LogDir, ts)
	for _, job := range c.Jobs {
		running := live.Running(job.Name)
		if rep.CountsPublished {
			em.Publish(evalCtx, telemetry.CountKey(job.Name), fmt.Sprint(running))
		}
		res := sched.Evaluate(evalCtx, job, running)
		if res.Outcome == report.OutcomeLaunched || res.Outcome == report.OutcomeLaunchFailed {
			tracing.AddEvent(evalCtx, "recovery."+string(res.Outcome),
				attribute.String("job", job.Name),
				attribute.Int("try", res.Tries),
			)
		}
		rep.Add(res)
	}

	rep.RestoredGroups = Reconcile(evalCtx, c, live, st, em)
	evalSpan.End()
	for _, name := range rep.RestoredGroups {
		log.Info("Group recovered", logging.Fields{"group": name})
	}

	for _, key := range Prune(c, st) {
		log.Info("Dropping state of removed entry", logging.Fields{"key": key})
	}

	st.ConfigHash = c.Fingerprint
	st.LastRun = ts
	rep.State = st
	rep.Messages = em.All()
	rep.SendFailures = em.Failures()

	saveErr := e.Store.Save(ctx, st)
	rep.Complete(e.now())
	rep.LogSummary(log)
	span.SetAttributes(attribute.Int("send_failures", rep.SendFailures))
	if saveErr != nil {
		err := fmt.Errorf("failed to save state: %w", saveErr)
		tracing.SetError(ctx, err)
		return rep, err
	}
	return rep, nil
}
