package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/logging"
	"github.com/psantana5/watch-and-recover/internal/recovery"
)

// DefaultConfigPath is read when neither --config nor WAR_CONFIG is given
const DefaultConfigPath = "~/.watch-and-recover.yaml"

var (
	cfgFile      string
	verbosity    int
	logFormat    string
	logFile      string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "watch-and-recover",
	Short: "Watch processes and run bounded recovery commands when they die",
	Long: `watch-and-recover checks the running processes against a catalogue of
jobs. When a job's process is gone it runs the job's recovery command,
at most "tries" times and never more often than every "delay" seconds.
Jobs can be grouped to share one retry budget and one health threshold.

Messages, process counts and the job list are forwarded to Zabbix
(zabbix_sender) and/or NATS.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.Version = recovery.Version

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is "+DefaultConfigPath+")")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity for each occurrence")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")

	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
}

// initConfig resolves the config file and reads ENV variables if set
func initConfig() {
	viper.SetEnvPrefix("WAR")
	viper.AutomaticEnv()
	viper.BindEnv("config", "WAR_CONFIG")
	viper.BindEnv("log_level", "WAR_LOG_LEVEL")
	viper.BindEnv("log_format", "WAR_LOG_FORMAT")

	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
	if cfgFile == "" {
		cfgFile = DefaultConfigPath
	}

	// The catalogue loader reports a missing or broken file; viper only
	// picks up the daemon section from it.
	viper.SetConfigFile(catalogue.ExpandHome(cfgFile))
	viper.SetConfigType("yaml")
	viper.ReadInConfig()
}

// ConfigPath returns the resolved configuration file
func ConfigPath() string {
	return catalogue.ExpandHome(cfgFile)
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// newLogger builds the logger from -v, WAR_LOG_LEVEL and the format flags
func newLogger() (*logging.Logger, error) {
	level := logging.FromVerbosity(verbosity)
	if lvl := viper.GetString("log_level"); lvl != "" && verbosity == 0 {
		level = logging.ParseLevel(lvl)
	}
	jsonFormat := viper.GetString("log_format") == "json"

	if path := viper.GetString("log_file"); path != "" {
		logger, err := logging.NewFileLogger(catalogue.ExpandHome(path), level, jsonFormat)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return logger, nil
	}
	return logging.NewLogger(level, jsonFormat), nil
}

// loadCatalogue reads and validates the configuration
func loadCatalogue() (*catalogue.Catalogue, error) {
	c, err := catalogue.LoadConfig(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigPath(), err)
	}
	return c, nil
}
