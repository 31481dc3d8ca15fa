package api

import (
	"context"
	"net/http"

	"github.com/correlator-io/retail-analytics/internal/pipeline"
)

type (
	// CountriesResponse lists the distinct countries in the fact table.
	CountriesResponse struct {
		Countries []string `json:"countries"`
	}

	// RunsResponse lists recent pipeline runs, newest first.
	RunsResponse struct {
		Runs  []pipeline.Run `json:"runs"`
		Limit int            `json:"limit"`
	}
)

// handleMonthBounds handles GET /api/v1/dimensions/months. The body is the
// first and last invoice month, or null when the fact table is empty.
func (s *Server) handleMonthBounds(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.QueryTimeout)
	defer cancel()

	bounds, err := s.engine.MonthBounds(ctx)
	if err != nil {
		s.writeQueryError(w, r, "month_bounds", err)

		return
	}

	s.writeJSON(w, r, bounds)
}

// handleCountries handles GET /api/v1/dimensions/countries.
func (s *Server) handleCountries(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.QueryTimeout)
	defer cancel()

	countries, err := s.engine.Countries(ctx)
	if err != nil {
		s.writeQueryError(w, r, "countries", err)

		return
	}

	s.writeJSON(w, r, CountriesResponse{Countries: countries})
}

// handlePipelineRuns handles GET /api/v1/pipeline/runs?limit=N (1-200, default 20).
func (s *Server) handlePipelineRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query(), defaultRuns, maxRuns)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.QueryTimeout)
	defer cancel()

	runs, err := s.runs.RecentRuns(ctx, limit)
	if err != nil {
		s.writeQueryError(w, r, "pipeline_runs", err)

		return
	}

	s.writeJSON(w, r, RunsResponse{Runs: runs, Limit: limit})
}
