package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

const panicDetail = "An unexpected error occurred while processing the request"

// Recovery turns a handler panic into a logged 500 problem response.
// http.ErrAbortHandler is re-raised so net/http can drop the connection quietly.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}

				if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(recovered)
				}

				correlationID := GetCorrelationID(r.Context())

				logger.Error("HTTP request panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", correlationID),
					slog.Any("panic", recovered),
					slog.String("stack_trace", string(debug.Stack())),
				)

				err := writeRFC7807Error(w, r, http.StatusInternalServerError, panicDetail, correlationID)
				if err != nil {
					logger.Error("Failed to write panic response",
						slog.String("correlation_id", correlationID),
						slog.String("error", err.Error()),
					)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
