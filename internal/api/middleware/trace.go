package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	TraceHeader       = "X-Trace-ID"
	traceparentHeader = "traceparent"
	maxTraceIDLength  = 128
)

// TraceMiddleware assigns each request a trace id. It honours an inbound X-Trace-ID,
// then the trace-id field of a W3C traceparent, and otherwise generates one.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := inboundTraceID(r)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		r.Header.Set(TraceHeader, traceID)
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(contextWithTraceID(r.Context(), traceID)))
	})
}

func inboundTraceID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(TraceHeader)); validTraceID(id) {
		return id
	}
	// version-traceid-parentid-flags
	parts := strings.Split(strings.TrimSpace(r.Header.Get(traceparentHeader)), "-")
	if len(parts) == 4 && len(parts[1]) == 32 && validTraceID(parts[1]) && parts[1] != strings.Repeat("0", 32) {
		return parts[1]
	}
	return ""
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLength {
		return false
	}
	for _, c := range id {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
