package recovery

import (
	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/census"
)

// Liveness is the result of matching the catalogue against one census
type Liveness struct {
	// Counts holds the running process count per job name
	Counts map[string]int
	// GroupTotals holds the summed counts of every group's members
	GroupTotals map[string]int
}

// Running returns the process count for job
func (l *Liveness) Running(job string) int {
	return l.Counts[job]
}

// GroupTotal returns the summed member count for group
func (l *Liveness) GroupTotal(group string) int {
	return l.GroupTotals[group]
}

// Evaluate counts, for every job, the processes whose command line matches
// its pattern. procs must already exclude the watcher itself.
func Evaluate(c *catalogue.Catalogue, procs []census.Process) *Liveness {
	l := &Liveness{
		Counts:      make(map[string]int, len(c.Jobs)),
		GroupTotals: make(map[string]int, len(c.Groups)),
	}
	for _, g := range c.Groups {
		l.GroupTotals[g.Name] = 0
	}

	for _, job := range c.Jobs {
		n := 0
		for _, p := range procs {
			if job.Matches(p.Command) {
				n++
			}
		}
		l.Counts[job.Name] = n
		if job.Grouped() {
			l.GroupTotals[job.Group] += n
		}
	}
	return l
}
