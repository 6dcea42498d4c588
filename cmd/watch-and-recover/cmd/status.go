package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the retry state of jobs and groups",
	Long: `Shows every job and group that currently carries retry state, how many
tries were spent and when the last recovery ran. Entities at their
ceiling stay there until they are seen healthy or reset with
"watch-and-recover state reset".`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// openState opens the configured state store and returns the path the run
// lock is derived from
func openState(c *catalogue.Catalogue) (state.Store, string, error) {
	store, err := state.Open(c.Settings.StateBackend, c.Settings.StateLocation())
	if err != nil {
		return nil, "", fmt.Errorf("failed to open state: %w", err)
	}
	return store, c.Settings.LockBase(), nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := loadCatalogue()
	if err != nil {
		return err
	}

	store, _, err := openState(c)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Load(context.Background())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if IsJSONOutput() {
		return printJSON(os.Stdout, st)
	}
	return printStatus(os.Stdout, c, st, time.Now())
}

type statusRow struct {
	scope   state.Scope
	name    string
	ceiling string
	e       state.EntityState
}

func printStatus(w io.Writer, c *catalogue.Catalogue, st *state.RunState, now time.Time) error {
	fmt.Fprintf(w, "Last run:       %s\n", formatUnix(st.LastRun, now))
	fmt.Fprintf(w, "Last discovery: %s\n", formatUnix(st.LastDiscovery, now))
	if st.ConfigHash != "" && st.ConfigHash != c.Fingerprint {
		fmt.Fprintln(w, "Config changed since the last run")
	}

	var rows []statusRow
	for name, e := range st.Jobs {
		ceiling := "?"
		if j, ok := c.Job(name); ok {
			ceiling = fmt.Sprintf("%d", j.Tries)
		}
		rows = append(rows, statusRow{state.ScopeJob, name, ceiling, e})
	}
	for name, e := range st.Groups {
		ceiling := "?"
		if g, ok := c.Group(name); ok {
			ceiling = fmt.Sprintf("%d", g.Tries)
		}
		rows = append(rows, statusRow{state.ScopeGroup, name, ceiling, e})
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "All jobs healthy, no retry state")
		return nil
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].scope != rows[j].scope {
			return rows[i].scope > rows[j].scope
		}
		return rows[i].name < rows[j].name
	})

	table := tablewriter.NewWriter(w)
	table.Header("Scope", "Name", "Tries", "Last Execution")
	for _, r := range rows {
		table.Append(
			string(r.scope),
			r.name,
			fmt.Sprintf("%d/%s", r.e.Tries, r.ceiling),
			formatUnix(r.e.LastExecution, now),
		)
	}
	return table.Render()
}

func formatUnix(ts int64, now time.Time) string {
	if ts == 0 {
		return "never"
	}
	t := time.Unix(ts, 0)
	return fmt.Sprintf("%s (%s ago)", t.Format(time.RFC3339), now.Sub(t).Truncate(time.Second))
}
