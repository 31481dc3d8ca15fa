package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/correlator-io/retail-analytics/internal/api/middleware"
)

const (
	healthCheckTimeout     = 2 * time.Second
	expectedURLParts       = 2
	contentTypeProblemJSON = "application/problem+json"
	versionHeader          = "X-Retail-Analytics-Version"
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route pairs a ServeMux pattern with its handler.
	Route struct {
		Path    string
		Handler http.HandlerFunc
	}
)

func (s *Server) setupRoutes(mux *http.ServeMux) {
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},     // liveness probe
		Route{"GET /ready", s.handleReady},   // readiness probe, checks the store
		Route{"GET /health", s.handleHealth}, // status, uptime, version
		Route{"/", s.handleNotFound},
	)

	mux.HandleFunc("GET /api/v1/metrics/monthly-revenue", s.handleMonthlyRevenue)
	mux.HandleFunc("GET /api/v1/metrics/aov", s.handleAverageOrderValue)
	mux.HandleFunc("GET /api/v1/metrics/clv", s.handleCustomerValues)
	mux.HandleFunc("GET /api/v1/metrics/top-products", s.handleTopProducts)
	mux.HandleFunc("GET /api/v1/metrics/revenue-by-country", s.handleRevenueByCountry)
	mux.HandleFunc("GET /api/v1/metrics/retention", s.handleRetention)
	mux.HandleFunc("GET /api/v1/metrics/dashboard", s.handleDashboard)

	mux.HandleFunc("GET /api/v1/dimensions/months", s.handleMonthBounds)
	mux.HandleFunc("GET /api/v1/dimensions/countries", s.handleCountries)

	if s.runs != nil {
		mux.HandleFunc("GET /api/v1/pipeline/runs", s.handlePipelineRuns)
	}
}

// registerPublicRoutes registers routes that bypass rate limiting. Method
// prefixes ("GET /ping") are stripped before registering the bare path.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		path := route.Path
		if parts := strings.Fields(path); len(parts) == expectedURLParts {
			path = parts[1]
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", route.Path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(versionHeader, s.config.Version)
	s.writeText(w, r, http.StatusOK, "pong")
}

// handleReady answers 503 while the store fails its health check, so the
// orchestrator stops routing queries to this instance.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeText(w, r, http.StatusOK, "ready")

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.health.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		s.writeText(w, r, http.StatusServiceUnavailable, "storage unavailable")

		return
	}

	s.writeText(w, r, http.StatusOK, "ready")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	w.Header().Set(versionHeader, s.config.Version)
	s.writeJSON(w, r, HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     s.config.Version,
		Uptime:      uptime,
	})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals before writing any header so an encoding failure can still
// produce a problem response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to marshal response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) writeText(w http.ResponseWriter, r *http.Request, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}
