package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the configured jobs",
	Long:  `Lists every job with its pattern, recovery command and effective retry settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCatalogue()
		if err != nil {
			return err
		}
		return printJobs(os.Stdout, c)
	},
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List the configured groups",
	Long:  `Lists every group with its member count and shared retry settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCatalogue()
		if err != nil {
			return err
		}
		return printGroups(os.Stdout, c)
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(groupsCmd)
}

func printJobs(w io.Writer, c *catalogue.Catalogue) error {
	if IsJSONOutput() {
		return printJSON(w, c.Jobs)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Watch For", "Recover With", "Group", "Cwd", "Tries", "Delay")
	for _, j := range c.Jobs {
		group := j.Group
		if group == "" {
			group = "-"
		}
		table.Append(
			j.Name,
			j.WatchFor,
			j.RecoverWith,
			group,
			j.Cwd,
			fmt.Sprintf("%d", j.Tries),
			fmt.Sprintf("%ds", j.Delay),
		)
	}
	return table.Render()
}

func printGroups(w io.Writer, c *catalogue.Catalogue) error {
	if IsJSONOutput() {
		return printJSON(w, c.Groups)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Members", "Tries", "Delay", "Cwd")
	for _, g := range c.Groups {
		table.Append(
			g.Name,
			fmt.Sprintf("%d", g.Members),
			fmt.Sprintf("%d", g.Tries),
			fmt.Sprintf("%ds", g.Delay),
			g.Cwd,
		)
	}
	return table.Render()
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to format JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
