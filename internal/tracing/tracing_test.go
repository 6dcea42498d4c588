package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/psantana5/watch-and-recover/internal/logging"
)

func TestInitWithoutEndpointIsUsable(t *testing.T) {
	p, err := Init(Config{}, logging.Discard())
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	SetError(ctx, errors.New("boom"))
	AddEvent(ctx, "retry", attribute.Int("try", 2))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 2) // exception + retry
}

func TestHTTPMiddleware(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	handler := HTTPMiddleware(tp.Tracer("test"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "GET /healthz", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	var status int64
	for _, kv := range ended[0].Attributes() {
		if kv.Key == "http.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(http.StatusServiceUnavailable), status)
}
