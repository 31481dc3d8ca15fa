package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/correlator-io/retail-analytics/internal/api/middleware"
	"github.com/correlator-io/retail-analytics/internal/filter"
)

type (
	// MetricResponse wraps every metric payload with the filter it was computed over.
	MetricResponse struct {
		Metric string `json:"metric"`
		Filter string `json:"filter"`
		Data   any    `json:"data"`
	}

	// metricFunc computes one metric for a parsed query and its predicate.
	metricFunc func(ctx context.Context, p *filter.Predicate, mq *metricQuery) (any, error)
)

// handleMonthlyRevenue handles GET /api/v1/metrics/monthly-revenue.
func (s *Server) handleMonthlyRevenue(w http.ResponseWriter, r *http.Request) {
	s.serveMetric(w, r, "monthly_revenue", func(ctx context.Context, p *filter.Predicate, _ *metricQuery) (any, error) {
		return s.engine.MonthlyRevenue(ctx, p)
	})
}

// handleAverageOrderValue handles GET /api/v1/metrics/aov. Data is null when no order matches.
func (s *Server) handleAverageOrderValue(w http.ResponseWriter, r *http.Request) {
	s.serveMetric(w, r, "average_order_value", func(ctx context.Context, p *filter.Predicate, _ *metricQuery) (any, error) {
		return s.engine.AverageOrderValue(ctx, p)
	})
}

// handleCustomerValues handles GET /api/v1/metrics/clv.
func (s *Server) handleCustomerValues(w http.ResponseWriter, r *http.Request) {
	s.serveMetric(w, r, "customer_lifetime_value", func(ctx context.Context, p *filter.Predicate, _ *metricQuery) (any, error) {
		return s.engine.ClvSummary(ctx, p)
	})
}

// handleTopProducts handles GET /api/v1/metrics/top-products; limit is 1-100, default 10.
func (s *Server) handleTopProducts(w http.ResponseWriter, r *http.Request) {
	s.serveMetric(w, r, "top_products", func(ctx context.Context, p *filter.Predicate, mq *metricQuery) (any, error) {
		return s.engine.TopProducts(ctx, p, mq.limit)
	})
}

// handleRevenueByCountry handles GET /api/v1/metrics/revenue-by-country.
func (s *Server) handleRevenueByCountry(w http.ResponseWriter, r *http.Request) {
	s.serveMetric(w, r, "revenue_by_country", func(ctx context.Context, p *filter.Predicate, _ *metricQuery) (any, error) {
		return s.engine.RevenueByCountry(ctx, p)
	})
}

// handleRetention handles GET /api/v1/metrics/retention. Filters are accepted but
// retention is always computed over the whole table.
func (s *Server) handleRetention(w http.ResponseWriter, r *http.Request) {
	s.serveMetric(w, r, "retention", func(ctx context.Context, p *filter.Predicate, _ *metricQuery) (any, error) {
		return s.engine.Retention(ctx, p)
	})
}

// handleDashboard handles GET /api/v1/metrics/dashboard: every metric and the KPIs in one response.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.serveMetric(w, r, "dashboard", func(ctx context.Context, p *filter.Predicate, mq *metricQuery) (any, error) {
		return s.engine.Dashboard(ctx, p, mq.limit)
	})
}

func (s *Server) serveMetric(w http.ResponseWriter, r *http.Request, metric string, compute metricFunc) {
	mq, err := parseMetricQuery(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.QueryTimeout)
	defer cancel()

	p, err := s.predicate(ctx, mq)
	if err != nil {
		s.writeQueryError(w, r, metric, err)

		return
	}

	data, err := compute(ctx, p, mq)
	if err != nil {
		s.writeQueryError(w, r, metric, err)

		return
	}

	s.writeJSON(w, r, MetricResponse{Metric: metric, Filter: p.String(), Data: data})
}

// writeQueryError maps query failures to problem responses. Store errors are
// logged in full and reported generically.
func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, metric string, err error) {
	var pe *paramError
	if errors.As(err, &pe) {
		WriteErrorResponse(w, r, s.logger, BadRequest(pe.Error()))

		return
	}

	s.logger.ErrorContext(r.Context(), "Failed to compute metric",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("metric", metric),
		slog.String("error", err.Error()),
	)

	if errors.Is(err, context.DeadlineExceeded) {
		WriteErrorResponse(w, r, s.logger, GatewayTimeout("Metric query timed out"))

		return
	}

	WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to compute "+metric))
}
