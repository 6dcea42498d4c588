package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/watch-and-recover/internal/recovery"
	"github.com/psantana5/watch-and-recover/internal/state"
)

var resetAll bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage the persisted retry state",
}

var stateResetCmd = &cobra.Command{
	Use:   "reset [job-or-group...]",
	Short: "Clear retry state so recovery is attempted again",
	Long: `Removes the retry bookkeeping of the named jobs or groups. A job or
group that used up all its tries is not recovered again until it is seen
healthy; resetting it starts the count from zero on the next run.

Example:
  watch-and-recover state reset worker
  watch-and-recover state reset --all`,
	RunE: runStateReset,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateResetCmd)

	stateResetCmd.Flags().BoolVar(&resetAll, "all", false, "clear the state of every job and group")
}

func runStateReset(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !resetAll {
		return fmt.Errorf("name at least one job or group, or pass --all")
	}

	c, err := loadCatalogue()
	if err != nil {
		return err
	}

	store, path, err := openState(c)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), recovery.DefaultLockTimeout)
	defer cancel()
	lock, err := state.AcquireLock(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to lock state: %w", err)
	}
	defer lock.Release()

	st, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	cleared := resetEntities(st, args, resetAll)
	if err := store.Save(ctx, st); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	if len(cleared) == 0 {
		fmt.Println("Nothing to reset")
		return nil
	}
	for _, name := range cleared {
		fmt.Printf("Reset %s\n", name)
	}
	return nil
}

// resetEntities clears the named entities in both scopes and returns what
// was removed as scope:name
func resetEntities(st *state.RunState, names []string, all bool) []string {
	if all {
		for name := range st.Jobs {
			names = append(names, name)
		}
		for name := range st.Groups {
			names = append(names, name)
		}
	}

	var cleared []string
	for _, name := range names {
		for _, scope := range []state.Scope{state.ScopeJob, state.ScopeGroup} {
			if st.Delete(scope, name) {
				cleared = append(cleared, fmt.Sprintf("%s:%s", scope, name))
			}
		}
	}
	return cleared
}
