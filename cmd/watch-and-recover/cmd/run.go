package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/recovery"
	"github.com/psantana5/watch-and-recover/internal/report"
)

var (
	printDiscovery  bool
	printJobsFlag   bool
	printGroupsFlag bool
	printState      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check all jobs once and recover the dead ones",
	Long: `Takes one snapshot of the running processes, starts recovery commands
for jobs whose process is missing and saves the retry state. Meant to be
called from cron every minute.

Example:
  watch-and-recover run
  watch-and-recover run -vv --print-state
  watch-and-recover run --config /etc/watch-and-recover.yaml --print-discovery`,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&printDiscovery, "print-discovery", false, "print the discovery JSON; forces sending it too")
	runCmd.Flags().BoolVar(&printJobsFlag, "print-jobs", false, "print the list of jobs")
	runCmd.Flags().BoolVar(&printGroupsFlag, "print-groups", false, "print the list of groups")
	runCmd.Flags().BoolVar(&printState, "print-state", false, "print the state written at the end of the run")
}

func runOnce(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Close()

	c, err := loadCatalogue()
	if err != nil {
		return err
	}

	if printJobsFlag {
		fmt.Println("Jobs:")
		if err := printJobs(os.Stdout, c); err != nil {
			return err
		}
	}
	if printGroupsFlag {
		fmt.Println("Groups:")
		if err := printGroups(os.Stdout, c); err != nil {
			return err
		}
	}

	engine, err := recovery.Open(c, logger)
	if err != nil {
		return err
	}
	defer engine.Close()
	engine.ForceDiscovery = printDiscovery

	rep, err := engine.Run(cmd.Context())
	if rep != nil {
		if printDiscovery && rep.Discovery != nil {
			var out bytes.Buffer
			if err := json.Indent(&out, rep.Discovery, "", "    "); err == nil {
				fmt.Println(out.String())
			}
		}
		if printState && rep.State != nil {
			fmt.Println("State:")
			if err := printJSON(os.Stdout, rep.State); err != nil {
				return err
			}
		}
		if path := c.Settings.MetricsTextfile; path != "" {
			m := report.NewMetrics()
			m.Record(rep)
			if err := report.WriteTextfile(catalogue.ExpandHome(path), m.Registry()); err != nil {
				logger.Warn("Failed to write metrics textfile: " + err.Error())
			}
		}
	}
	return err
}
