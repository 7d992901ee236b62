package telemetry

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewTracedHTTPClient returns an *http.Client whose RoundTripper propagates the
// active trace context and records a client span per request. Passing a nil
// baseTransport uses http.DefaultTransport as the wrapped transport.
func NewTracedHTTPClient(baseTransport http.RoundTripper) *http.Client {
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(baseTransport),
	}
}

// TracingMiddleware wraps next with otelhttp instrumentation: it extracts
// W3C trace context from incoming requests, starts a server span per
// request, and records request/response metrics against the process-wide
// TracerProvider installed by NewOTelProvider. serviceName identifies this
// process in the resulting spans.
func TracingMiddleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, otelhttp.WithSpanNameFormatter(
			func(operation string, r *http.Request) string {
				return "HTTP " + r.Method + " " + r.URL.Path
			},
		))
	}
}
