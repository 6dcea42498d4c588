package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/psantana5/watch-and-recover/internal/logging"
	"github.com/psantana5/watch-and-recover/internal/telemetry"
)

// Emitter buffers human-readable messages per entity for one run and
// forwards them to the telemetry sink. Send failures are logged and
// counted, never returned, so one unreachable monitoring server cannot
// stop recovery of the remaining jobs.
type Emitter struct {
	sink   telemetry.Sink
	logger *logging.Logger

	buffers  map[string][]string
	failures int
}

// NewEmitter creates an emitter for a single run
func NewEmitter(sink telemetry.Sink, logger *logging.Logger) *Emitter {
	return &Emitter{
		sink:    sink,
		logger:  logger,
		buffers: make(map[string][]string),
	}
}

// Append adds msg to the entity's buffer. With send set the whole buffer
// collected so far is flushed to the entity's message key.
func (e *Emitter) Append(ctx context.Context, entity, msg string, send bool) {
	e.buffers[entity] = append(e.buffers[entity], msg)
	e.logger.Debug(msg, logging.Fields{"entity": entity})
	if send {
		e.Flush(ctx, entity)
	}
}

// Flush sends the entity's joined buffer
func (e *Emitter) Flush(ctx context.Context, entity string) {
	msgs, ok := e.buffers[entity]
	if !ok {
		return
	}
	e.Publish(ctx, telemetry.MessageKey(entity), strings.Join(msgs, "\n"))
}

// Publish sends a single item and records a failure
func (e *Emitter) Publish(ctx context.Context, key, value string) bool {
	err := e.sink.Send(ctx, key, value)
	if err == nil {
		return true
	}

	e.failures++
	fields := logging.Fields{"key": key, "error": err.Error()}
	var sendErr *telemetry.SendError
	if errors.As(err, &sendErr) && sendErr.Diagnostic != "" {
		fields["diagnostic"] = sendErr.Diagnostic
	}
	e.logger.Warn("Telemetry send failed", fields)
	return false
}

// Messages returns the buffered messages of entity
func (e *Emitter) Messages(entity string) []string {
	return e.buffers[entity]
}

// All returns a copy of every buffer
func (e *Emitter) All() map[string][]string {
	out := make(map[string][]string, len(e.buffers))
	for k, v := range e.buffers {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Failures returns how many items the sink rejected
func (e *Emitter) Failures() int {
	return e.failures
}
