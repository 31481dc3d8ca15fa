package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/correlator-io/retail-analytics/internal/filter"
)

var (
	// ErrNoStore is returned when an Engine is created without a Store.
	ErrNoStore = errors.New("metrics store is required")
	// ErrQueryFailed wraps store failures. Empty results are never reported through it.
	ErrQueryFailed = errors.New("metrics query failed")
)

type (
	// Engine runs metric queries against a Store. It holds no mutable state and
	// is safe for concurrent use.
	Engine struct {
		store  Store
		logger *slog.Logger
	}

	// EngineOption configures an Engine.
	EngineOption func(*Engine)
)

// WithLogger sets the Engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine over store.
func NewEngine(store Store, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, ErrNoStore
	}

	e := &Engine{
		store:  store,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// MonthlyRevenue returns revenue per invoice month, ascending.
func (e *Engine) MonthlyRevenue(ctx context.Context, p *filter.Predicate) ([]MonthRevenue, error) {
	rows, err := e.store.MonthlyRevenue(ctx, p)
	if err != nil {
		return nil, e.fail("monthly_revenue", p, err)
	}

	return nonNil(rows), nil
}

// AverageOrderValue returns the mean invoice total, or nil when no orders match.
func (e *Engine) AverageOrderValue(ctx context.Context, p *filter.Predicate) (*float64, error) {
	aov, err := e.store.AverageOrderValue(ctx, p)
	if err != nil {
		return nil, e.fail("average_order_value", p, err)
	}

	return aov, nil
}

// ClvSummary returns one lifetime row per customer, ascending by customer id.
func (e *Engine) ClvSummary(ctx context.Context, p *filter.Predicate) ([]CustomerValue, error) {
	rows, err := e.store.CustomerValues(ctx, p)
	if err != nil {
		return nil, e.fail("clv_summary", p, err)
	}

	return nonNil(rows), nil
}

// TopProducts returns at most limit products by revenue, descending. A non-positive
// limit selects DefaultTopProductsLimit.
func (e *Engine) TopProducts(ctx context.Context, p *filter.Predicate, limit int) ([]ProductRevenue, error) {
	if limit <= 0 {
		limit = DefaultTopProductsLimit
	}

	rows, err := e.store.TopProducts(ctx, p, limit)
	if err != nil {
		return nil, e.fail("top_products", p, err)
	}

	if len(rows) > limit {
		rows = rows[:limit]
	}

	return nonNil(rows), nil
}

// RevenueByCountry returns revenue per country, descending.
func (e *Engine) RevenueByCountry(ctx context.Context, p *filter.Predicate) ([]CountryRevenue, error) {
	rows, err := e.store.RevenueByCountry(ctx, p)
	if err != nil {
		return nil, e.fail("revenue_by_country", p, err)
	}

	return nonNil(rows), nil
}

// Retention returns month-over-month retention over the full fact table.
// The predicate is accepted for call-site symmetry and deliberately ignored so
// the trend line stays stable across dashboard selections.
func (e *Engine) Retention(ctx context.Context, p *filter.Predicate) ([]RetentionPoint, error) {
	if p != nil {
		e.logger.DebugContext(ctx, "Retention ignores the active filter", slog.String("filter", p.String()))
	}

	rows, err := e.store.Retention(ctx)
	if err != nil {
		return nil, e.fail("retention", nil, err)
	}

	return nonNil(rows), nil
}

// MonthBounds returns the first and last invoice month, nil for an empty fact table.
func (e *Engine) MonthBounds(ctx context.Context) (*MonthBounds, error) {
	bounds, err := e.store.MonthBounds(ctx)
	if err != nil {
		return nil, e.fail("month_bounds", nil, err)
	}

	return bounds, nil
}

// Countries lists the distinct countries in the fact table.
func (e *Engine) Countries(ctx context.Context) ([]string, error) {
	countries, err := e.store.Countries(ctx)
	if err != nil {
		return nil, e.fail("countries", nil, err)
	}

	return nonNil(countries), nil
}

// Dashboard computes every metric over the same predicate, so all figures in one
// view describe an identical population. Retention is the documented exception.
func (e *Engine) Dashboard(ctx context.Context, p *filter.Predicate, topN int) (*Dashboard, error) {
	var (
		d   = &Dashboard{Filter: p.String()}
		err error
	)

	if d.MonthlyRevenue, err = e.MonthlyRevenue(ctx, p); err != nil {
		return nil, err
	}

	if d.AverageOrder, err = e.AverageOrderValue(ctx, p); err != nil {
		return nil, err
	}

	if d.Customers, err = e.ClvSummary(ctx, p); err != nil {
		return nil, err
	}

	if d.TopProducts, err = e.TopProducts(ctx, p, topN); err != nil {
		return nil, err
	}

	if d.RevenueByCountry, err = e.RevenueByCountry(ctx, p); err != nil {
		return nil, err
	}

	if d.Retention, err = e.Retention(ctx, p); err != nil {
		return nil, err
	}

	d.KPIs = ComputeKPIs(d.MonthlyRevenue, d.Retention, d.Customers, d.TopProducts)

	return d, nil
}

// ComputeKPIs derives the headline figures: revenue of the last month in range,
// the most recent retention rate, the median customer total revenue and the
// revenue of the best-selling product.
func ComputeKPIs(
	monthly []MonthRevenue,
	retention []RetentionPoint,
	customers []CustomerValue,
	products []ProductRevenue,
) KPIs {
	var k KPIs

	if n := len(monthly); n > 0 {
		k.CurrentMonthRevenue = ptr(monthly[n-1].Revenue)
	}

	if n := len(retention); n > 0 && retention[n-1].Rate != nil {
		k.LatestRetention = ptr(*retention[n-1].Rate)
	}

	if len(customers) > 0 {
		totals := make([]float64, len(customers))
		for i, c := range customers {
			totals[i] = c.TotalRevenue
		}

		k.MedianCustomerValue = ptr(median(totals))
	}

	if len(products) > 0 {
		k.TopProductRevenue = ptr(products[0].Revenue)
	}

	return k
}

func (e *Engine) fail(metric string, p *filter.Predicate, err error) error {
	e.logger.Error("Metric query failed",
		slog.String("metric", metric),
		slog.String("filter", p.String()),
		slog.String("error", err.Error()),
	)

	return fmt.Errorf("%w: %s: %w", ErrQueryFailed, metric, err)
}

// median of a non-empty slice; the input is sorted in place.
func median(values []float64) float64 {
	sort.Float64s(values)

	mid := len(values) / 2 //nolint:mnd
	if len(values)%2 == 1 {
		return values[mid]
	}

	return (values[mid-1] + values[mid]) / 2 //nolint:mnd
}

func ptr(v float64) *float64 {
	return &v
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}

	return rows
}
