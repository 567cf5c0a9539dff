package middleware

import (
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/zatekoja/scribesync/internal/infrastructure/observability"
)

// ObservabilityMiddleware wraps each request in a span named after its route
// pattern and records the request metric. Lifecycle and flush requests carry
// their trigger as a span attribute.
func ObservabilityMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			ctx, span := observability.StartSpan(r.Context(), "http.request")
			defer span.End()

			req := r.WithContext(ctx)
			next.ServeHTTP(rw, req)

			// Pattern is only set once the mux has matched the request.
			route := req.Pattern
			if route == "" {
				route = "unmatched"
			}
			span.SetName(route)

			attrs := []attribute.KeyValue{
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", rw.statusCode),
			}
			if trigger := syncTrigger(req); trigger != "" {
				attrs = append(attrs, attribute.String("sync.trigger", trigger))
			}
			observability.SetSpanAttributes(span, attrs...)
			if rw.statusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, fmt.Sprintf("status %d", rw.statusCode))
			}

			observability.RecordRequestMetric(ctx, metrics, r.Method, route, rw.statusCode, time.Since(start))
		})
	}
}

func syncTrigger(r *http.Request) string {
	if event := r.PathValue("event"); event != "" {
		return event
	}
	if r.URL.Path == "/api/sync/flush" {
		if reason := r.URL.Query().Get("reason"); reason != "" {
			return reason
		}
		return "manual"
	}
	return ""
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}
