package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/watch-and-recover/internal/logging"
	"github.com/psantana5/watch-and-recover/internal/report"
)

// DefaultSchedule runs the watcher once a minute, like a crontab entry would
const DefaultSchedule = "* * * * *"

// Runner performs one watch run
type Runner interface {
	Run(ctx context.Context) (*report.RunReport, error)
}

// Config configures the daemon
type Config struct {
	// Schedule is a five field cron spec or a descriptor such as "@every 30s"
	Schedule string

	// ListenAddr serves /metrics, /state, /failures and /healthz when set
	ListenAddr string

	// MetricsTextfile is rewritten after every run when set
	MetricsTextfile string

	// RunOnStart triggers a run immediately instead of waiting for the
	// first tick
	RunOnStart bool

	// TokenHash is the bcrypt hash of the bearer token required on every
	// endpoint but /healthz. Endpoints are open when empty.
	TokenHash string

	// Tracer traces HTTP requests when set
	Tracer trace.Tracer

	// OnRun is called after each successful run (optional)
	OnRun func(r *report.RunReport)

	Logger *logging.Logger
}

// Service runs the watcher on a cron schedule and exposes its results
type Service struct {
	config  *Config
	runner  Runner
	metrics *report.Metrics
	history *report.History
	cron    *cron.Cron
	auth    *TokenAuth
	logger  *logging.Logger

	mu      sync.RWMutex
	last    *report.RunReport
	lastErr error
	stats   struct {
		TotalRuns  int64
		FailedRuns int64
	}
}

func parser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// New validates the schedule and creates a service around runner
func New(config *Config, runner Runner) (*Service, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if _, err := parser().Parse(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", config.Schedule, err)
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.INFO, false)
	}
	logger = logger.WithField("component", "daemon")

	var auth *TokenAuth
	if config.TokenHash != "" {
		a, err := NewTokenAuth(config.TokenHash)
		if err != nil {
			return nil, err
		}
		auth = a
	}

	s := &Service{
		config:  config,
		runner:  runner,
		metrics: report.NewMetrics(),
		history: report.NewHistory(50),
		auth:    auth,
		logger:  logger,
	}
	s.cron = cron.New(
		cron.WithParser(parser()),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)
	return s, nil
}

// Metrics returns the collectors fed by every run
func (s *Service) Metrics() *report.Metrics {
	return s.metrics
}

// RunOnce performs a single run and records its outcome
func (s *Service) RunOnce(ctx context.Context) (*report.RunReport, error) {
	rep, err := s.runner.Run(ctx)

	s.mu.Lock()
	s.stats.TotalRuns++
	s.lastErr = err
	if err != nil {
		s.stats.FailedRuns++
	}
	if rep != nil {
		s.last = rep
	}
	s.mu.Unlock()

	if rep != nil {
		s.metrics.Record(rep)
		s.history.Record(rep)
	}
	if err != nil {
		s.logger.Error("Run failed", logging.Fields{"error": err.Error()})
		return rep, err
	}

	if s.config.MetricsTextfile != "" {
		if err := report.WriteTextfile(s.config.MetricsTextfile, s.metrics.Registry()); err != nil {
			s.logger.Warn("Failed to write metrics textfile", logging.Fields{"error": err.Error()})
		}
	}
	if s.config.OnRun != nil {
		s.config.OnRun(rep)
	}
	return rep, nil
}

// Start schedules runs and blocks until ctx is cancelled. A run in
// progress is allowed to finish before Start returns.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule runs: %w", err)
	}

	var srv *http.Server
	serveErr := make(chan error, 1)
	if s.config.ListenAddr != "" {
		srv = &http.Server{
			Addr:         s.config.ListenAddr,
			Handler:      s.Router(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			s.logger.Info("HTTP listening", logging.Fields{"addr": s.config.ListenAddr, "auth": s.auth != nil})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	s.logger.Info("Daemon started", logging.Fields{"schedule": s.config.Schedule})
	if s.config.RunOnStart {
		go s.RunOnce(ctx)
	}
	s.cron.Start()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		err = fmt.Errorf("http server: %w", err)
	}

	<-s.cron.Stop().Done()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Warn("HTTP shutdown failed", logging.Fields{"error": shutdownErr.Error()})
		}
	}

	s.logger.Info("Daemon stopped")
	return err
}

// Stats returns run counters
func (s *Service) Stats() (total, failed int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.TotalRuns, s.stats.FailedRuns
}

// Last returns the most recent report and run error
func (s *Service) Last() (*report.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastErr
}
