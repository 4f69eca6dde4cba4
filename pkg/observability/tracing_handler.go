package observability

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// codeRecorder remembers the first status code written through it.
type codeRecorder struct {
	http.ResponseWriter

	code int
}

func (cr *codeRecorder) WriteHeader(code int) {
	if cr.code == 0 {
		cr.code = code
	}

	cr.ResponseWriter.WriteHeader(code)
}

func (cr *codeRecorder) Write(buf []byte) (int, error) {
	if cr.code == 0 {
		cr.code = http.StatusOK
	}

	return cr.ResponseWriter.Write(buf)
}

// TraceRoute wraps the handler registered for route with a server span named
// "METHOD route". Incoming W3C trace context becomes the parent. A 503 is a
// normal "not ready" answer and is recorded as an event; other 5xx mark the
// span as failed.
func TraceRoute(tracer trace.Tracer, route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		parent := otel.GetTextMapPropagator().Extract(hr.Context(), propagation.HeaderCarrier(hr.Header))

		ctx, span := tracer.Start(parent, hr.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(hr.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		rec := &codeRecorder{ResponseWriter: rw}
		next.ServeHTTP(rec, hr.WithContext(ctx))

		if rec.code == 0 {
			rec.code = http.StatusOK
		}

		span.SetAttributes(semconv.HTTPResponseStatusCode(rec.code))

		switch {
		case rec.code == http.StatusServiceUnavailable:
			span.AddEvent("fieldagg.not_ready")
		case rec.code >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, http.StatusText(rec.code))
		}
	})
}
