package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/correlator-io/retail-analytics/internal/config"
	"github.com/correlator-io/retail-analytics/internal/filter"
	"github.com/correlator-io/retail-analytics/internal/metrics"
	"github.com/correlator-io/retail-analytics/internal/retail"
)

const (
	maxTopProducts = 100
	defaultRuns    = 20
	maxRuns        = 200
)

// dateLayouts are accepted for start and end, most specific first.
var dateLayouts = []string{"2006-01-02", "2006-01"}

type (
	// metricQuery holds parsed query parameters shared by the metric endpoints.
	metricQuery struct {
		start     time.Time
		end       time.Time
		countries []string
		limit     int
	}

	// paramError represents a parameter validation error.
	paramError struct {
		param string
		msg   string
	}
)

func (e *paramError) Error() string {
	return "Invalid parameter '" + e.param + "': " + e.msg
}

// parseMetricQuery reads start, end, country and limit.
//
//	?start=2011-01&end=2011-03-15&country=France,Germany&country=Spain&limit=5
func parseMetricQuery(r *http.Request) (*metricQuery, error) {
	q := r.URL.Query()
	mq := &metricQuery{limit: metrics.DefaultTopProductsLimit}

	var err error

	if mq.start, err = parseDate(q, "start"); err != nil {
		return nil, err
	}

	if mq.end, err = parseDate(q, "end"); err != nil {
		return nil, err
	}

	for _, value := range q["country"] {
		mq.countries = append(mq.countries, config.ParseCommaSeparatedList(value)...)
	}

	if mq.limit, err = parseLimit(q, metrics.DefaultTopProductsLimit, maxTopProducts); err != nil {
		return nil, err
	}

	return mq, nil
}

func parseDate(q url.Values, param string) (time.Time, error) {
	value := strings.TrimSpace(q.Get(param))
	if value == "" {
		return time.Time{}, nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &paramError{param: param, msg: "must be YYYY-MM or YYYY-MM-DD"}
}

func parseLimit(q url.Values, defaultLimit, maxLimit int) (int, error) {
	value := q.Get("limit")
	if value == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(value)
	if err != nil {
		return 0, &paramError{param: "limit", msg: "must be a valid integer"}
	}

	if limit < 1 || limit > maxLimit {
		return 0, &paramError{param: "limit", msg: "must be between 1 and " + strconv.Itoa(maxLimit)}
	}

	return limit, nil
}

// predicate turns the query into a filter. With no parameters at all the result
// is nil, the full table. A missing start or end defaults to the first or last
// month in the fact table, which is also how the dashboard seeds its date picker.
// A defaulted bound never crosses the one the client sent: a start past the last
// month yields the start month alone, which matches nothing.
func (s *Server) predicate(ctx context.Context, mq *metricQuery) (*filter.Predicate, error) {
	if mq.start.IsZero() && mq.end.IsZero() && len(mq.countries) == 0 {
		return nil, nil //nolint:nilnil // nil predicate means unfiltered
	}

	start, end := mq.start, mq.end

	if start.IsZero() || end.IsZero() {
		bounds, err := s.engine.MonthBounds(ctx)
		if err != nil {
			return nil, err
		}

		if bounds == nil {
			// Empty fact table: any filter yields empty results.
			return nil, nil //nolint:nilnil
		}

		switch {
		case start.IsZero():
			start = monthStart(bounds.First)
			if start.After(end) {
				start = monthStart(end)
			}
		case end.IsZero():
			end = bounds.Last
			if end.Before(start) {
				end = retail.MonthEnd(start)
			}
		}
	}

	p, err := filter.Build(start, end, mq.countries)
	if err != nil {
		if errors.Is(err, filter.ErrInvalidRange) {
			return nil, &paramError{param: "end", msg: err.Error()}
		}

		return nil, err
	}

	return p, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
