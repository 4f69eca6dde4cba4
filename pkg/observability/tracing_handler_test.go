package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/fieldagg/pkg/observability"
)

func newTestTracer(t *testing.T) (trace.Tracer, *tracetest.InMemoryExporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	return tp.Tracer("test"), exporter
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return rec
}

func TestTraceRoute_NamesSpanByRoute(t *testing.T) {
	t.Parallel()

	tracer, exporter := newTestTracer(t)

	var sawSpan bool

	handler := observability.TraceRoute(tracer, "/healthz", http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		sawSpan = trace.SpanContextFromContext(hr.Context()).IsValid()

		_, _ = rw.Write([]byte("ok"))
	}))

	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sawSpan)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /healthz", spans[0].Name)
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind)
	assert.Equal(t, int64(http.StatusOK), spanAttrMap(spans[0])["http.response.status_code"])
	assert.Equal(t, "/healthz", spanAttrMap(spans[0])["http.route"])
}

func TestTraceRoute_ExtractsTraceParent(t *testing.T) {
	t.Parallel()

	tracer, exporter := newTestTracer(t)

	parentTraceID := "0af7651916cd43dd8448eb211c80319c"
	parentSpanID := "00f067aa0ba902b7"

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	req.Header.Set("Traceparent", "00-"+parentTraceID+"-"+parentSpanID+"-01")

	// Context extraction goes through the global propagator, which Init installs.
	observability.InstallPropagator()

	serve(observability.TraceRoute(tracer, "/metrics", http.NotFoundHandler()), req)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, parentTraceID, spans[0].SpanContext.TraceID().String())
	assert.Equal(t, parentSpanID, spans[0].Parent.SpanID().String())
}

func TestTraceRoute_NotReadyIsNotAnError(t *testing.T) {
	t.Parallel()

	tracer, exporter := newTestTracer(t)

	handler := observability.TraceRoute(tracer, "/readyz", http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := serve(handler, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "fieldagg.not_ready", spans[0].Events[0].Name)
}

func TestTraceRoute_ServerErrorMarksSpan(t *testing.T) {
	t.Parallel()

	tracer, exporter := newTestTracer(t)

	handler := observability.TraceRoute(tracer, "/metrics", http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
	}))

	serve(handler, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}
