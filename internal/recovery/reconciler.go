package recovery

import (
	"context"
	"fmt"
	"sort"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/state"
	"github.com/psantana5/watch-and-recover/internal/telemetry"
)

// Reconcile clears the shared state of every group whose members together
// run at least as many processes as the group has members. Extra instances
// of one member make up for a missing one. It returns the groups whose
// state was cleared.
func Reconcile(ctx context.Context, c *catalogue.Catalogue, l *Liveness, st *state.RunState, em *Emitter) []string {
	var restored []string
	for _, g := range c.Groups {
		if l.GroupTotal(g.Name) < g.Members {
			continue
		}
		if st.Delete(state.ScopeGroup, g.Name) {
			em.Append(ctx, telemetry.GlobalScope, fmt.Sprintf("All processes of group '%s' are back", g.Name), true)
			restored = append(restored, g.Name)
		}
	}
	return restored
}

// Prune drops retry state that no longer belongs to the catalogue: jobs
// that were removed or moved into a group, and groups that were removed.
// It returns the dropped keys prefixed with their scope.
func Prune(c *catalogue.Catalogue, st *state.RunState) []string {
	var dropped []string
	for name := range st.Jobs {
		if job, ok := c.Job(name); ok && !job.Grouped() {
			continue
		}
		delete(st.Jobs, name)
		dropped = append(dropped, string(state.ScopeJob)+":"+name)
	}
	for name := range st.Groups {
		if _, ok := c.Group(name); ok {
			continue
		}
		delete(st.Groups, name)
		dropped = append(dropped, string(state.ScopeGroup)+":"+name)
	}
	sort.Strings(dropped)
	return dropped
}
