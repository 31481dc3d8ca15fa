package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/correlator-io/retail-analytics/internal/api/middleware"
	"github.com/correlator-io/retail-analytics/internal/filter"
	"github.com/correlator-io/retail-analytics/internal/metrics"
	"github.com/correlator-io/retail-analytics/internal/pipeline"
	"github.com/correlator-io/retail-analytics/internal/retail"
	"github.com/correlator-io/retail-analytics/internal/storage"
)

type (
	healthFunc func(ctx context.Context) error

	// failingStore fails MonthlyRevenue; other methods are not reached by the tests using it.
	failingStore struct {
		metrics.Store

		err error
	}
)

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func (f failingStore) MonthlyRevenue(context.Context, *filter.Predicate) ([]metrics.MonthRevenue, error) {
	return nil, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *ServerConfig {
	return &ServerConfig{
		Port:               8080,
		Host:               "127.0.0.1",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		QueryTimeout:       5 * time.Second,
		Version:            "v0.0.0-test",
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "OPTIONS"},
	}
}

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

// loadedWarehouse holds Dec 2010, Jan 2011 and Mar 2011 orders; February is empty.
func loadedWarehouse(t *testing.T) *storage.MemoryWarehouse {
	t.Helper()

	facts := []retail.Transaction{
		retail.NewTransaction("536365", "85123A", "WHITE HANGING HEART", 6, at(2010, 12, 1, 8, 26), 2.55, 17850, "United Kingdom"),
		retail.NewTransaction("536365", "71053", "WHITE METAL LANTERN", 6, at(2010, 12, 1, 8, 26), 3.39, 17850, "United Kingdom"),
		retail.NewTransaction("536370", "22728", "ALARM CLOCK BAKELIKE PINK", 24, at(2010, 12, 1, 8, 45), 3.75, 12583, "France"),
		retail.NewTransaction("536371", "22086", "PAPER CHAIN KIT", 80, at(2010, 12, 31, 23, 59), 2.55, 13748, "United Kingdom"),
		retail.NewTransaction("539993", "22386", "JUMBO BAG PINK POLKADOT", 10, at(2011, 1, 4, 10, 0), 1.95, 13313, "United Kingdom"),
		retail.NewTransaction("540001", "22728", "ALARM CLOCK BAKELIKE PINK", 4, at(2011, 1, 4, 11, 0), 3.75, 12583, "France"),
		retail.NewTransaction("540002", "85123A", "WHITE HANGING HEART", 2, at(2011, 1, 31, 23, 0), 2.55, 17850, "United Kingdom"),
		retail.NewTransaction("548000", "21731", "RED TOADSTOOL LED NIGHT LIGHT", 12, at(2011, 3, 1, 9, 0), 1.65, 12662, "Germany"),
		retail.NewTransaction("548001", "22086", "PAPER CHAIN KIT", 1, at(2011, 3, 2, 9, 0), 2.95, 17850, "United Kingdom"),
	}

	w := storage.NewMemoryWarehouse()
	require.NoError(t, w.ReplaceFacts(context.Background(), facts, nil))

	return w
}

func newTestServer(t *testing.T, store metrics.Store, deps Dependencies) *Server {
	t.Helper()

	engine, err := metrics.NewEngine(store, metrics.WithLogger(quietLogger()))
	require.NoError(t, err)

	deps.Engine = engine
	deps.Logger = quietLogger()

	s, err := NewServer(testConfig(), deps, nil)
	require.NoError(t, err)

	return s
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var body T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())

	return body
}

type metricBody[T any] struct {
	Metric string `json:"metric"`
	Filter string `json:"filter"`
	Data   T      `json:"data"`
}

func TestNewServerRequiresEngine(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := NewServer(testConfig(), Dependencies{Logger: quietLogger()}, nil)
	require.ErrorIs(t, err, ErrNoEngine)
}

func TestProbes(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	healthy := newTestServer(t, storage.NewMemoryWarehouse(), Dependencies{})

	rec := get(t, healthy, "/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
	assert.Equal(t, "v0.0.0-test", rec.Header().Get(versionHeader))
	assert.NotEmpty(t, rec.Header().Get(middleware.CorrelationIDHeader))

	rec = get(t, healthy, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	health := decode[HealthStatus](t, get(t, healthy, "/health"))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "retail-analytics", health.ServiceName)

	down := newTestServer(t, storage.NewMemoryWarehouse(), Dependencies{
		Health: healthFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rec = get(t, down, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "storage unavailable", rec.Body.String())
}

func TestNotFound(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newTestServer(t, storage.NewMemoryWarehouse(), Dependencies{})

	for _, target := range []string{"/api/v1/metrics/unknown", "/api/v1/pipeline/runs"} {
		rec := get(t, s, target)
		require.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.Equal(t, contentTypeProblemJSON, rec.Header().Get("Content-Type"))

		problem := decode[ProblemDetail](t, rec)
		assert.Equal(t, "Not Found", problem.Title)
		assert.Equal(t, target, problem.Instance)
		assert.Equal(t, rec.Header().Get(middleware.CorrelationIDHeader), problem.CorrelationID)
	}
}

func TestMonthlyRevenue(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newTestServer(t, loadedWarehouse(t), Dependencies{})

	t.Run("unfiltered", func(t *testing.T) {
		body := decode[metricBody[[]metrics.MonthRevenue]](t, get(t, s, "/api/v1/metrics/monthly-revenue"))

		assert.Equal(t, "monthly_revenue", body.Metric)
		assert.Equal(t, "all", body.Filter)
		require.Len(t, body.Data, 3)
		assert.Equal(t, at(2010, 12, 31, 0, 0), body.Data[0].Month)
		assert.InDelta(t, 329.64, body.Data[0].Revenue, 1e-9)
		assert.InDelta(t, 39.60, body.Data[1].Revenue, 1e-9)
		assert.InDelta(t, 22.75, body.Data[2].Revenue, 1e-9)
	})

	t.Run("month range", func(t *testing.T) {
		body := decode[metricBody[[]metrics.MonthRevenue]](t,
			get(t, s, "/api/v1/metrics/monthly-revenue?start=2011-01&end=2011-01"))

		require.Len(t, body.Data, 1)
		assert.Equal(t, at(2011, 1, 31, 0, 0), body.Data[0].Month)
		assert.Contains(t, body.Filter, "'2011-01-01'")
		assert.Contains(t, body.Filter, "'2011-01-31'")
	})

	t.Run("countries only defaults the range to the table", func(t *testing.T) {
		body := decode[metricBody[[]metrics.MonthRevenue]](t,
			get(t, s, "/api/v1/metrics/monthly-revenue?country=France"))

		require.Len(t, body.Data, 2)
		assert.InDelta(t, 90.0, body.Data[0].Revenue, 1e-9)
		assert.InDelta(t, 15.0, body.Data[1].Revenue, 1e-9)
		assert.Contains(t, body.Filter, "'2010-12-01'")
		assert.Contains(t, body.Filter, "'2011-03-31'")
	})

	t.Run("start after the last month matches nothing", func(t *testing.T) {
		rec := get(t, s, "/api/v1/metrics/monthly-revenue?start=2012-06")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decode[metricBody[[]metrics.MonthRevenue]](t, rec)
		assert.Empty(t, body.Data)
		assert.Contains(t, body.Filter, "'2012-06-01'")
		assert.Contains(t, body.Filter, "'2012-06-30'")
	})

	t.Run("end before the first month matches nothing", func(t *testing.T) {
		rec := get(t, s, "/api/v1/metrics/monthly-revenue?end=2009-02")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decode[metricBody[[]metrics.MonthRevenue]](t, rec)
		assert.Empty(t, body.Data)
		assert.Contains(t, body.Filter, "'2009-02-01'")
		assert.Contains(t, body.Filter, "'2009-02-28'")
	})

	t.Run("repeated and comma separated countries", func(t *testing.T) {
		body := decode[metricBody[[]metrics.MonthRevenue]](t,
			get(t, s, "/api/v1/metrics/monthly-revenue?start=2011-03-01&end=2011-03&country=Germany,France&country=Spain"))

		require.Len(t, body.Data, 1)
		assert.InDelta(t, 19.80, body.Data[0].Revenue, 1e-9)
		assert.Contains(t, body.Filter, "country IN ('France', 'Germany', 'Spain')")
	})
}

func TestMetricEndpoints(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newTestServer(t, loadedWarehouse(t), Dependencies{})

	t.Run("aov", func(t *testing.T) {
		body := decode[metricBody[*float64]](t, get(t, s, "/api/v1/metrics/aov?start=2011-01&end=2011-01"))
		require.NotNil(t, body.Data)
		assert.InDelta(t, 39.60/3, *body.Data, 1e-9)

		body = decode[metricBody[*float64]](t, get(t, s, "/api/v1/metrics/aov?start=2015-01&end=2015-12"))
		assert.Nil(t, body.Data, "no orders in range")
	})

	t.Run("clv", func(t *testing.T) {
		body := decode[metricBody[[]metrics.CustomerValue]](t, get(t, s, "/api/v1/metrics/clv"))
		assert.Len(t, body.Data, 5)
	})

	t.Run("top products", func(t *testing.T) {
		body := decode[metricBody[[]metrics.ProductRevenue]](t, get(t, s, "/api/v1/metrics/top-products?limit=2"))

		require.Len(t, body.Data, 2)
		assert.Equal(t, "22086", body.Data[0].StockCode)
		assert.InDelta(t, 206.95, body.Data[0].Revenue, 1e-9)
		assert.Equal(t, "22728", body.Data[1].StockCode)
	})

	t.Run("revenue by country", func(t *testing.T) {
		body := decode[metricBody[[]metrics.CountryRevenue]](t, get(t, s, "/api/v1/metrics/revenue-by-country"))

		require.Len(t, body.Data, 3)
		assert.Equal(t, "United Kingdom", body.Data[0].Country)
		assert.Equal(t, "France", body.Data[1].Country)
		assert.Equal(t, "Germany", body.Data[2].Country)
	})

	t.Run("retention ignores filters", func(t *testing.T) {
		body := decode[metricBody[[]metrics.RetentionPoint]](t,
			get(t, s, "/api/v1/metrics/retention?country=Germany"))

		require.Len(t, body.Data, 3)
		assert.Nil(t, body.Data[0].Rate)
		require.NotNil(t, body.Data[1].Rate)
		assert.InDelta(t, 2.0/3.0, *body.Data[1].Rate, 1e-9)
		assert.Equal(t, 2, body.Data[1].Retained)
		assert.Nil(t, body.Data[2].Rate, "February had no customers")
	})

	t.Run("dashboard", func(t *testing.T) {
		body := decode[metricBody[metrics.Dashboard]](t, get(t, s, "/api/v1/metrics/dashboard?limit=1"))

		assert.Len(t, body.Data.MonthlyRevenue, 3)
		assert.Len(t, body.Data.TopProducts, 1)
		require.NotNil(t, body.Data.KPIs.CurrentMonthRevenue)
		assert.InDelta(t, 22.75, *body.Data.KPIs.CurrentMonthRevenue, 1e-9)
		assert.Nil(t, body.Data.KPIs.LatestRetention)
	})
}

func TestMetricQueryValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newTestServer(t, loadedWarehouse(t), Dependencies{})

	tests := []struct {
		target string
		param  string
	}{
		{"/api/v1/metrics/monthly-revenue?start=2011-13", "start"},
		{"/api/v1/metrics/monthly-revenue?end=yesterday", "end"},
		{"/api/v1/metrics/monthly-revenue?start=2011-03&end=2011-01", "end"},
		{"/api/v1/metrics/top-products?limit=0", "limit"},
		{"/api/v1/metrics/top-products?limit=101", "limit"},
		{"/api/v1/metrics/top-products?limit=ten", "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(t, s, tt.target)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			problem := decode[ProblemDetail](t, rec)
			assert.Contains(t, problem.Detail, "'"+tt.param+"'")
			assert.Equal(t, middleware.ProblemTypeBase+"400", problem.Type)
		})
	}
}

func TestEmptyWarehouse(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newTestServer(t, storage.NewMemoryWarehouse(), Dependencies{})

	rec := get(t, s, "/api/v1/dimensions/months")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "null", rec.Body.String())

	rec = get(t, s, "/api/v1/metrics/monthly-revenue?country=France")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"metric":"monthly_revenue","filter":"all","data":[]}`, rec.Body.String())

	rec = get(t, s, "/api/v1/metrics/aov")
	assert.JSONEq(t, `{"metric":"average_order_value","filter":"all","data":null}`, rec.Body.String())

	rec = get(t, s, "/api/v1/dimensions/countries")
	assert.JSONEq(t, `{"countries":[]}`, rec.Body.String())
}

func TestDimensions(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := newTestServer(t, loadedWarehouse(t), Dependencies{})

	rec := get(t, s, "/api/v1/dimensions/months")
	assert.JSONEq(t, `{"first_month":"2010-12-31T00:00:00Z","last_month":"2011-03-31T00:00:00Z"}`, rec.Body.String())

	countries := decode[CountriesResponse](t, get(t, s, "/api/v1/dimensions/countries"))
	assert.Equal(t, []string{"France", "Germany", "United Kingdom"}, countries.Countries)
}

func TestPipelineRuns(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	w := storage.NewMemoryWarehouse()
	ctx := context.Background()

	older := pipeline.Run{ID: uuid.New(), Status: pipeline.StatusFailed, StartedAt: at(2026, 10, 18, 6, 0), Error: "source returned no rows"}
	newer := pipeline.Run{ID: uuid.New(), Status: pipeline.StatusSucceeded, StartedAt: at(2026, 10, 19, 6, 0), CleanRows: 9}

	require.NoError(t, w.RecordRun(ctx, older))
	require.NoError(t, w.RecordRun(ctx, newer))

	s := newTestServer(t, w, Dependencies{Runs: w})

	body := decode[RunsResponse](t, get(t, s, "/api/v1/pipeline/runs"))
	assert.Equal(t, defaultRuns, body.Limit)
	require.Len(t, body.Runs, 2)
	assert.Equal(t, newer.ID, body.Runs[0].ID)
	assert.Equal(t, "source returned no rows", body.Runs[1].Error)

	body = decode[RunsResponse](t, get(t, s, "/api/v1/pipeline/runs?limit=1"))
	assert.Len(t, body.Runs, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, s, "/api/v1/pipeline/runs?limit=201").Code)
}

func TestStoreFailures(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	broken := newTestServer(t, failingStore{err: errors.New("relation \"fct_transactions\" does not exist")}, Dependencies{})

	rec := get(t, broken, "/api/v1/metrics/monthly-revenue")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	problem := decode[ProblemDetail](t, rec)
	assert.Equal(t, "Failed to compute monthly_revenue", problem.Detail)
	assert.NotContains(t, rec.Body.String(), "fct_transactions", "store errors are not leaked")

	slow := newTestServer(t, failingStore{err: context.DeadlineExceeded}, Dependencies{})
	assert.Equal(t, http.StatusGatewayTimeout, get(t, slow, "/api/v1/metrics/monthly-revenue").Code)
}

func TestRateLimitedServer(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	engine, err := metrics.NewEngine(loadedWarehouse(t), metrics.WithLogger(quietLogger()))
	require.NoError(t, err)

	limiter := middleware.NewInMemoryRateLimiter(&middleware.Config{GlobalRPS: 100, ClientRPS: 1, ClientBurst: 1})
	t.Cleanup(func() { _ = limiter.Close() })

	s, err := NewServer(testConfig(), Dependencies{Engine: engine, Logger: quietLogger()}, limiter)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(t, s, "/api/v1/dimensions/countries").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, s, "/api/v1/dimensions/countries").Code)
	assert.Equal(t, http.StatusOK, get(t, s, "/ping").Code)
}
