package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/launcher"
	"github.com/psantana5/watch-and-recover/internal/logging"
	"github.com/psantana5/watch-and-recover/internal/report"
	"github.com/psantana5/watch-and-recover/internal/state"
)

// Scheduler decides, job by job, whether a recovery command runs. It works
// on an in-memory RunState that the caller persists once the run is over.
type Scheduler struct {
	state    *state.RunState
	launcher launcher.Launcher
	emitter  *Emitter
	logger   *logging.Logger
	logDir   string
	now      int64

	// group keys whose tries were already booked in this run
	attempted map[string]bool
}

// NewScheduler creates a scheduler for one run at now (unix seconds)
func NewScheduler(st *state.RunState, l launcher.Launcher, em *Emitter, logger *logging.Logger, logDir string, now int64) *Scheduler {
	if logDir == "" {
		logDir = catalogue.DefaultLogDir
	}
	return &Scheduler{
		state:     st,
		launcher:  l,
		emitter:   em,
		logger:    logger,
		logDir:    logDir,
		now:       now,
		attempted: make(map[string]bool),
	}
}

func scopeOf(job *catalogue.Job) state.Scope {
	if job.Grouped() {
		return state.ScopeGroup
	}
	return state.ScopeJob
}

// Evaluate handles one job given its running process count
func (s *Scheduler) Evaluate(ctx context.Context, job *catalogue.Job, running int) *report.Result {
	res := &report.Result{
		Job:      job.Name,
		Key:      job.Key(),
		Scope:    scopeOf(job),
		Running:  running,
		MaxTries: job.Tries,
	}

	if running > 0 {
		if job.Grouped() {
			// the group reconciler decides once every member is counted
			res.Outcome = report.OutcomeGroupPending
			res.Tries = s.tries(job)
			return res
		}
		res.Outcome = report.OutcomeHealthy
		if s.state.Delete(state.ScopeJob, job.Name) {
			s.emitter.Append(ctx, job.Name, fmt.Sprintf("Process \"%s\" has come back.", job.WatchFor), true)
			s.logger.Info("Job recovered", logging.Fields{"job": job.Name})
			res.Outcome = report.OutcomeRecovered
		}
		return res
	}

	s.emitter.Append(ctx, job.Name, fmt.Sprintf("Process \"%s\" encountered dead.", job.WatchFor), false)
	s.attemptRecovery(ctx, job, res)
	return res
}

func (s *Scheduler) tries(job *catalogue.Job) int {
	e, _ := s.state.Get(scopeOf(job), job.Key())
	return e.Tries
}

// entityState fetches the shared state of the job's entity, defaulting to
// the zero state
func (s *Scheduler) entityState(ctx context.Context, job *catalogue.Job) state.EntityState {
	e, ok := s.state.Get(scopeOf(job), job.Key())
	if ok && job.Grouped() {
		s.emitter.Append(ctx, job.Name, fmt.Sprintf("Job \"%s\" belongs to group \"%s\" so group settings have precedence", job.Name, job.Group), false)
	}
	return e
}

func (s *Scheduler) attemptRecovery(ctx context.Context, job *catalogue.Job, res *report.Result) {
	log := s.logger.WithFields(logging.Fields{"job": job.Name, "key": job.Key()})

	e := s.entityState(ctx, job)
	elapsed := s.now - e.LastExecution
	res.Tries = e.Tries

	if job.Grouped() && s.attempted[job.Key()] {
		s.emitter.Append(ctx, job.Name, fmt.Sprintf("Recovery of group \"%s\" has already been attempted in this run.", job.Group), false)
		log.Debug("Group already attempted in this run")
		res.Outcome = report.OutcomeDeferred
		return
	}

	if e.Tries >= job.Tries {
		s.emitter.Append(ctx, job.Name, fmt.Sprintf("Recovery Job executed %d times.", e.Tries), false)
		s.emitter.Append(ctx, job.Name, fmt.Sprintf("Maximum of %d reached.", job.Tries), true)
		log.Warn("Recovery budget exhausted", logging.Fields{"tries": e.Tries})
		res.Outcome = report.OutcomeExhausted
		return
	}

	if elapsed < int64(job.Delay) {
		s.emitter.Append(ctx, job.Name, fmt.Sprintf("Recovery executed %d second(s) ago but should wait %d seconds.", elapsed, job.Delay), true)
		log.Info("Waiting for delay", logging.Fields{"elapsed": elapsed, "delay": job.Delay})
		res.Outcome = report.OutcomeWaiting
		return
	}

	tries := e.Tries + 1
	s.emitter.Append(ctx, job.Name, fmt.Sprintf("This is try number %d of %d", tries, job.Tries), false)

	// Booked before the spawn: a launch that fails still costs a try
	s.state.Put(scopeOf(job), job.Key(), state.EntityState{Tries: tries, LastExecution: s.now})
	if job.Grouped() {
		s.attempted[job.Key()] = true
	}
	res.Tries = tries

	dir := catalogue.ExpandHome(job.Cwd)
	logPath := launcher.LogPath(s.logDir, job.Name)
	s.emitter.Append(ctx, job.Name, fmt.Sprintf("Executing \"%s\" in \"%s\" now.", job.RecoverWith, dir), false)
	s.emitter.Append(ctx, job.Name, fmt.Sprintf("An error log can be found at \"%s\".", logPath), false)

	pid, err := s.launcher.Launch(ctx, launcher.Request{
		Job:     job.Name,
		Command: job.RecoverWith,
		Dir:     dir,
		LogPath: logPath,
	})
	if err != nil {
		reason := err
		var launchErr *launcher.LaunchError
		if errors.As(err, &launchErr) {
			reason = launchErr.Err
		}
		s.emitter.Append(ctx, job.Name, fmt.Sprintf("Recovery failed with error \"%v\".", reason), true)
		log.Error("Recovery launch failed", logging.Fields{"error": err.Error(), "try": tries})
		res.Outcome = report.OutcomeLaunchFailed
		res.Error = reason.Error()
		return
	}

	s.emitter.Append(ctx, job.Name, fmt.Sprintf("Recovery has been executed with PID \"%d\".", pid), true)
	log.Info("Recovery launched", logging.Fields{"pid": pid, "try": tries})
	res.Outcome = report.OutcomeLaunched
	res.PID = pid
}
