package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/psantana5/watch-and-recover/internal/logging"
)

// Item keys understood by the monitoring side
const (
	KeyDiscovery = "proc.recovery.jobs"

	// GlobalScope collects messages that belong to no single job, such as
	// a whole group coming back.
	GlobalScope = "global"
)

// MessageKey is the item carrying a job's human-readable messages
func MessageKey(job string) string {
	return fmt.Sprintf("proc.recovery.job_message[%s]", job)
}

// CountKey is the item carrying a job's running process count
func CountKey(job string) string {
	return fmt.Sprintf("trapper.proc.num[%s]", job)
}

// Sink accepts key/value items for the monitoring system
type Sink interface {
	Send(ctx context.Context, key, value string) error
	Close() error
}

// SendError reports a failed delivery with whatever diagnostic the
// transport produced
type SendError struct {
	Key        string
	Diagnostic string
	Err        error
}

// Error implements error interface
func (e *SendError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("send %s failed: %v: %s", e.Key, e.Err, e.Diagnostic)
	}
	return fmt.Sprintf("send %s failed: %v", e.Key, e.Err)
}

// Unwrap implements error unwrapping
func (e *SendError) Unwrap() error {
	return e.Err
}

// LogSink writes items to the log instead of a monitoring system. It is
// what the watcher uses when no transport is configured.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink that logs every item at DEBUG
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send implements Sink
func (s *LogSink) Send(ctx context.Context, key, value string) error {
	s.logger.Debug("telemetry item", logging.Fields{"key": key, "value": value})
	return nil
}

// Close implements Sink
func (s *LogSink) Close() error {
	return nil
}

// Multi fans items out to several sinks. Every sink is tried; the errors
// are joined.
type Multi []Sink

// Send implements Sink
func (m Multi) Send(ctx context.Context, key, value string) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, key, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
