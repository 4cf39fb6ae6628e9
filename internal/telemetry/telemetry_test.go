package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return recorder
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpanRecordsAttributesAndErrors(t *testing.T) {
	recorder := recordSpans(t)

	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())
	ctx, span := StartSpan(ctx, "dispatcher.send")
	zerolog.Ctx(ctx).Info().Msg("inside span")
	assert.Contains(t, buf.String(), span.SpanContext().TraceID().String())

	AddSpanAttributes(ctx, attribute.String("notification.recipient", "bob"))
	AddSpanEvent(ctx, "delivery_failure")
	MarkSpanError(ctx, errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "dispatcher.send", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Contains(t, ended[0].Attributes(), attribute.String("notification.recipient", "bob"))
	require.NotEmpty(t, ended[0].Events())
	assert.Equal(t, "delivery_failure", ended[0].Events()[0].Name)
}

func TestHTTPMiddlewareMarksErrors(t *testing.T) {
	recorder := recordSpans(t)

	handler := HTTPMiddleware("notifyd")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "/readyz", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)

	// httptest requests come from 192.0.2.1:1234 to example.com
	attrs := ended[0].Attributes()
	assert.Contains(t, attrs, semconv.NetSockPeerAddrKey.String("192.0.2.1"))
	assert.Contains(t, attrs, semconv.NetHostNameKey.String("example.com"))
	assert.Contains(t, attrs, semconv.HTTPStatusCodeKey.Int(http.StatusServiceUnavailable))
}

func TestNewResourceDescribesInstance(t *testing.T) {
	res, err := newResource(context.Background(), Config{
		ServiceName:    "notifyd",
		ServiceVersion: "v1.4.0",
		Environment:    "staging",
		Attributes: map[string]string{
			AttrStorageType:     "badger",
			AttrServerFramework: "chi",
		},
	})
	require.NoError(t, err)

	set := res.Set()
	for key, want := range map[attribute.Key]string{
		semconv.ServiceNameKey:           "notifyd",
		semconv.ServiceVersionKey:        "v1.4.0",
		semconv.DeploymentEnvironmentKey: "staging",
		AttrStorageType:                  "badger",
		AttrServerFramework:              "chi",
	} {
		got, ok := set.Value(key)
		require.True(t, ok, "missing %s", key)
		assert.Equal(t, want, got.AsString())
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		root  string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		description := newSampler(tt.ratio).Description()
		assert.Contains(t, description, "ParentBased{root:"+tt.root)
	}
}
