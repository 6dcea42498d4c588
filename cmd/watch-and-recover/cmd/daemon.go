package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/watch-and-recover/internal/catalogue"
	"github.com/psantana5/watch-and-recover/internal/daemon"
	"github.com/psantana5/watch-and-recover/internal/logging"
	"github.com/psantana5/watch-and-recover/internal/recovery"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the watcher on a schedule and serve metrics",
	Long: `Daemon mode keeps the watcher resident instead of relying on cron. Runs
happen on a cron schedule; a run still in progress when the next tick
arrives is skipped. With --listen the daemon serves:

  GET /metrics    Prometheus metrics
  GET /healthz    result of the last run
  GET /state      retry state saved by the last run
  GET /runs/last  report of the last run
  GET /failures   recent launch failures and exhausted budgets

Edits to jobs and groups are picked up without a restart unless
--watch-config=false. Settings can also come from the daemon section of
the config file. Set
daemon.token_hash (see "watch-and-recover config token") to require a
bearer token on every endpoint except /healthz.

Example:
  watch-and-recover daemon
  watch-and-recover daemon --schedule "@every 30s" --listen :9817`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().String("schedule", daemon.DefaultSchedule, "cron schedule or descriptor such as @every 30s")
	daemonCmd.Flags().String("listen", "", "address for the HTTP endpoints, e.g. :9817 (disabled when empty)")
	daemonCmd.Flags().Bool("run-on-start", true, "run once immediately instead of waiting for the first tick")
	daemonCmd.Flags().Bool("watch-config", true, "reload jobs and groups when the config file changes")

	viper.BindPFlag("daemon.schedule", daemonCmd.Flags().Lookup("schedule"))
	viper.BindPFlag("daemon.listen", daemonCmd.Flags().Lookup("listen"))
	viper.BindPFlag("daemon.run_on_start", daemonCmd.Flags().Lookup("run-on-start"))
	viper.BindPFlag("daemon.watch_config", daemonCmd.Flags().Lookup("watch-config"))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Close()

	c, err := loadCatalogue()
	if err != nil {
		return err
	}

	engine, err := recovery.Open(c, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	textfile := c.Settings.MetricsTextfile
	if textfile != "" {
		textfile = catalogue.ExpandHome(textfile)
	}

	service, err := daemon.New(&daemon.Config{
		Schedule:        viper.GetString("daemon.schedule"),
		ListenAddr:      viper.GetString("daemon.listen"),
		MetricsTextfile: textfile,
		RunOnStart:      viper.GetBool("daemon.run_on_start"),
		TokenHash:       viper.GetString("daemon.token_hash"),
		Tracer:          engine.Tracer,
		Logger:          logger,
	}, engine)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", logging.Fields{"signal": sig.String()})
		cancel()
	}()

	if viper.GetBool("daemon.watch_config") {
		path := catalogue.ExpandHome(ConfigPath())
		go func() {
			err := daemon.WatchConfig(ctx, path, logger, func() error {
				next, err := catalogue.LoadConfig(path)
				if err != nil {
					return err
				}
				if !reflect.DeepEqual(next.Settings, c.Settings) {
					logger.Warn("Changes outside jobs and groups take effect after a restart")
				}
				engine.SetCatalogue(next)
				logger.Info("Catalogue updated", logging.Fields{"jobs": len(next.Jobs), "groups": len(next.Groups)})
				return nil
			})
			if err != nil {
				logger.Warn("Config watching stopped", logging.Fields{"error": err.Error()})
			}
		}()
	}

	logger.Info("Watching jobs", logging.Fields{
		"config": ConfigPath(),
		"jobs":   len(c.Jobs),
		"groups": len(c.Groups),
	})

	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}
	return nil
}
