package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/daemon"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print an example configuration",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(catalogue.ExampleConfig)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Long: `Loads the configuration and runs every consistency check: unknown group
references, tries or delay on grouped jobs, invalid patterns and missing
settings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadCatalogue()
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s is valid\n", ConfigPath())
		fmt.Printf("  Jobs:        %d\n", len(c.Jobs))
		fmt.Printf("  Groups:      %d\n", len(c.Groups))
		fmt.Printf("  State:       %s (%s)\n", c.Settings.StateFile, c.Settings.StateBackend)
		if c.Settings.Tracing.Enabled() {
			fmt.Printf("  Tracing:     %s\n", c.Settings.Tracing.Endpoint)
		}
		fmt.Printf("  Fingerprint: %s\n", c.Fingerprint)
		return nil
	},
}

var configTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a bearer token for the daemon's HTTP endpoints",
	Long: `Prints a new random token and its bcrypt hash. Put the hash under
daemon.token_hash and hand the token to whoever scrapes the daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, hash, err := daemon.GenerateToken()
		if err != nil {
			return err
		}
		fmt.Printf("Token:      %s\n", token)
		fmt.Printf("token_hash: %q\n", hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configExampleCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configTokenCmd)
}
