// Package middleware wraps the retail query API in correlation ids, panic
// recovery, per-client rate limiting, request logging and CORS.
package middleware

import (
	"log/slog"
	"net/http"
)

type (
	// Middleware wraps a handler.
	Middleware func(http.Handler) http.Handler

	// Stack is the middleware the query API runs behind.
	Stack struct {
		Logger  *slog.Logger
		Limiter RateLimiter // nil disables rate limiting
		CORS    CORSConfig  // nil sends no CORS headers
	}
)

// Apply wraps handler so that the first middleware is the outermost.
func Apply(handler http.Handler, layers ...Middleware) http.Handler {
	for i := len(layers) - 1; i >= 0; i-- {
		handler = layers[i](handler)
	}

	return handler
}

// Layers lists the stack outermost first. The correlation id comes first so
// every later layer can log it; rate limiting runs ahead of the request log so
// a rejected flood is logged once per client, not once per request.
func (s Stack) Layers() []Middleware {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	layers := []Middleware{CorrelationID(), Recovery(logger)}

	if s.Limiter != nil {
		layers = append(layers, RateLimit(s.Limiter, logger))
	}

	layers = append(layers, RequestLogger(logger))

	if s.CORS != nil {
		layers = append(layers, CORS(s.CORS))
	}

	return layers
}

// Wrap applies the stack to h.
func (s Stack) Wrap(h http.Handler) http.Handler {
	return Apply(h, s.Layers()...)
}
