package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/psantana5/watch-and-recover/internal/logging"
	"github.com/psantana5/watch-and-recover/internal/state"
)

// Outcome is what happened to one job during a run
type Outcome string

const (
	OutcomeHealthy      Outcome = "healthy"       // processes found, nothing to do
	OutcomeRecovered    Outcome = "recovered"     // processes found, retry state cleared
	OutcomeGroupPending Outcome = "group_pending" // processes found, group decides later
	OutcomeLaunched     Outcome = "launched"
	OutcomeLaunchFailed Outcome = "launch_failed"
	OutcomeWaiting      Outcome = "waiting"
	OutcomeExhausted    Outcome = "exhausted"
	OutcomeDeferred     Outcome = "deferred" // group already attempted in this run
)

// Outcomes lists every outcome in display order
var Outcomes = []Outcome{
	OutcomeHealthy,
	OutcomeRecovered,
	OutcomeGroupPending,
	OutcomeLaunched,
	OutcomeLaunchFailed,
	OutcomeWaiting,
	OutcomeExhausted,
	OutcomeDeferred,
}

// Result is the decision taken for one job. Set once per run, never changed.
type Result struct {
	Job     string      `json:"job"`
	Key     string      `json:"key"`
	Scope   state.Scope `json:"scope"`
	Running int         `json:"running"`
	Outcome Outcome     `json:"outcome"`

	// Retry bookkeeping after the decision
	Tries    int `json:"tries"`
	MaxTries int `json:"max_tries"`

	PID   int    `json:"pid,omitempty"`
	Error string `json:"error,omitempty"`
}

// Failed reports whether the result needs an operator's attention
func (r *Result) Failed() bool {
	return r.Outcome == OutcomeLaunchFailed || r.Outcome == OutcomeExhausted
}

// RunReport summarizes one read-evaluate-write cycle
type RunReport struct {
	RunID     string        `json:"run_id"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ns"`

	Results        []*Result `json:"results"`
	RestoredGroups []string  `json:"restored_groups,omitempty"`

	DiscoveryPublished bool `json:"discovery_published"`
	CountsPublished    bool `json:"counts_published"`
	SendFailures       int  `json:"send_failures"`
	StateCorrupt       bool `json:"state_corrupt"`

	// Discovery is the payload built this run, set only when published
	Discovery []byte `json:"-"`

	// Messages are the per-entity message buffers at the end of the run
	Messages map[string][]string `json:"messages,omitempty"`

	// State is the run state as it was saved
	State *state.RunState `json:"-"`
}

// NewRunReport starts a report for runID at start
func NewRunReport(runID string, start time.Time) *RunReport {
	return &RunReport{
		RunID:     runID,
		StartTime: start,
	}
}

// Add appends a job result
func (r *RunReport) Add(res *Result) {
	r.Results = append(r.Results, res)
}

// Complete stamps the end of the run
func (r *RunReport) Complete(end time.Time) {
	r.EndTime = end
	r.Duration = end.Sub(r.StartTime)
}

// Count returns how many jobs ended with outcome
func (r *RunReport) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Jobs returns the names of jobs that ended with outcome
func (r *RunReport) Jobs(outcome Outcome) []string {
	var names []string
	for _, res := range r.Results {
		if res.Outcome == outcome {
			names = append(names, res.Job)
		}
	}
	return names
}

// Result returns the result for job, if it was evaluated
func (r *RunReport) Result(job string) (*Result, bool) {
	for _, res := range r.Results {
		if res.Job == job {
			return res, true
		}
	}
	return nil, false
}

// LogSummary writes the one-line run summary and every message buffer.
// The summary line is what gets grepped for when a service flaps at night.
func (r *RunReport) LogSummary(logger *logging.Logger) {
	var parts []string
	for _, o := range Outcomes {
		if n := r.Count(o); n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", o, n))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "no jobs")
	}

	fields := logging.Fields{
		"run_id":   r.RunID,
		"duration": r.Duration.String(),
	}
	if len(r.RestoredGroups) > 0 {
		fields["restored_groups"] = strings.Join(r.RestoredGroups, ",")
	}
	if r.SendFailures > 0 {
		fields["send_failures"] = r.SendFailures
	}

	level := logger.Info
	if r.Count(OutcomeLaunchFailed) > 0 || r.Count(OutcomeExhausted) > 0 {
		level = logger.Warn
	}
	level("RUN "+strings.Join(parts, " "), fields)

	entities := make([]string, 0, len(r.Messages))
	for entity := range r.Messages {
		entities = append(entities, entity)
	}
	sort.Strings(entities)
	for _, entity := range entities {
		logger.Info(strings.Join(r.Messages[entity], "\n"), logging.Fields{"run_id": r.RunID, "entity": entity})
	}
}
