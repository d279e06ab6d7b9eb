package otel

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untracedPaths are served without spans: health probes are noise and a
// websocket upgrade would hold its span open for the connection's lifetime.
var untracedPaths = map[string]bool{
	"/health": true,
	"/ws":     true,
}

// HTTPMiddleware returns a chi-compatible middleware that creates one span
// per ingress API request, named "<METHOD> <path>". Extra options are
// appended to the defaults.
func HTTPMiddleware(serviceName string, opts ...otelhttp.Option) func(http.Handler) http.Handler {
	base := []otelhttp.Option{
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !untracedPaths[r.URL.Path]
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	}
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName, append(base, opts...)...)
	}
}
