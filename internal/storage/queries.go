package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/correlator-io/retail-analytics/internal/filter"
	"github.com/correlator-io/retail-analytics/internal/metrics"
)

// ErrQueryFailed is returned when a metric query cannot be executed or scanned.
var ErrQueryFailed = errors.New("warehouse query failed")

// MonthlyRevenue implements metrics.Store.
func (w *Warehouse) MonthlyRevenue(ctx context.Context, p *filter.Predicate) ([]metrics.MonthRevenue, error) {
	b := &filter.DollarBinder{}
	query := `SELECT invoice_month, SUM(line_revenue)
		FROM fct_transactions` + p.Where(b) + `
		GROUP BY invoice_month
		ORDER BY invoice_month`

	return queryRows(ctx, w, "monthly_revenue", query, b.Args, func(rows *sql.Rows) (metrics.MonthRevenue, error) {
		var r metrics.MonthRevenue

		err := rows.Scan(&r.Month, &r.Revenue)
		r.Month = dateOnly(r.Month)

		return r, err
	})
}

// AverageOrderValue implements metrics.Store. The result is nil when no invoice matches.
func (w *Warehouse) AverageOrderValue(ctx context.Context, p *filter.Predicate) (*float64, error) {
	b := &filter.DollarBinder{}
	query := `SELECT AVG(order_revenue)
		FROM (
			SELECT SUM(line_revenue) AS order_revenue
			FROM fct_transactions` + p.Where(b) + `
			GROUP BY invoice_no
		) orders`

	var avg sql.NullFloat64

	if err := w.conn.QueryRowContext(ctx, query, b.Args...).Scan(&avg); err != nil {
		return nil, w.queryError("average_order_value", b.Args, err)
	}

	if !avg.Valid {
		return nil, nil
	}

	return &avg.Float64, nil
}

// CustomerValues implements metrics.Store. An order is one invoice within a
// customer and month.
func (w *Warehouse) CustomerValues(ctx context.Context, p *filter.Predicate) ([]metrics.CustomerValue, error) {
	b := &filter.DollarBinder{}
	query := `WITH orders AS (
			SELECT customer_id, invoice_month, invoice_no, SUM(line_revenue) AS order_revenue
			FROM fct_transactions` + p.Where(b) + `
			GROUP BY customer_id, invoice_month, invoice_no
		)
		SELECT customer_id,
		       MIN(invoice_month),
		       MAX(invoice_month),
		       COUNT(DISTINCT invoice_no),
		       SUM(order_revenue),
		       AVG(order_revenue)
		FROM orders
		GROUP BY customer_id
		ORDER BY customer_id`

	return queryRows(ctx, w, "customer_values", query, b.Args, func(rows *sql.Rows) (metrics.CustomerValue, error) {
		var c metrics.CustomerValue

		err := rows.Scan(&c.CustomerID, &c.FirstOrderMonth, &c.LastOrderMonth,
			&c.OrderCount, &c.TotalRevenue, &c.AvgOrderValue)
		c.FirstOrderMonth = dateOnly(c.FirstOrderMonth)
		c.LastOrderMonth = dateOnly(c.LastOrderMonth)

		return c, err
	})
}

// TopProducts implements metrics.Store. Equal revenues are ordered by the earliest
// sale of the product, which matches first appearance in a time-ordered load.
func (w *Warehouse) TopProducts(
	ctx context.Context,
	p *filter.Predicate,
	limit int,
) ([]metrics.ProductRevenue, error) {
	if limit <= 0 {
		limit = metrics.DefaultTopProductsLimit
	}

	b := &filter.DollarBinder{}
	where := p.Where(b)
	query := `SELECT stock_code, description, SUM(line_revenue) AS revenue
		FROM fct_transactions` + where + `
		GROUP BY stock_code, description
		ORDER BY revenue DESC, MIN(invoice_timestamp), stock_code, description
		LIMIT ` + b.Bind(limit)

	return queryRows(ctx, w, "top_products", query, b.Args, func(rows *sql.Rows) (metrics.ProductRevenue, error) {
		var r metrics.ProductRevenue

		return r, rows.Scan(&r.StockCode, &r.Description, &r.Revenue)
	})
}

// RevenueByCountry implements metrics.Store.
func (w *Warehouse) RevenueByCountry(ctx context.Context, p *filter.Predicate) ([]metrics.CountryRevenue, error) {
	b := &filter.DollarBinder{}
	query := `SELECT country, SUM(line_revenue) AS revenue
		FROM fct_transactions` + p.Where(b) + `
		GROUP BY country
		ORDER BY revenue DESC, country`

	return queryRows(ctx, w, "revenue_by_country", query, b.Args, func(rows *sql.Rows) (metrics.CountryRevenue, error) {
		var r metrics.CountryRevenue

		return r, rows.Scan(&r.Country, &r.Revenue)
	})
}

// Retention implements metrics.Store by reading the customer_retention_monthly view.
func (w *Warehouse) Retention(ctx context.Context) ([]metrics.RetentionPoint, error) {
	query := `SELECT invoice_month, active_customers, previous_customers, retained_customers, retention_rate
		FROM customer_retention_monthly
		ORDER BY invoice_month`

	return queryRows(ctx, w, "retention", query, nil, func(rows *sql.Rows) (metrics.RetentionPoint, error) {
		var (
			r    metrics.RetentionPoint
			rate sql.NullFloat64
		)

		err := rows.Scan(&r.Month, &r.Active, &r.Previous, &r.Retained, &rate)
		r.Month = dateOnly(r.Month)

		if rate.Valid {
			r.Rate = &rate.Float64
		}

		return r, err
	})
}

// MonthBounds implements metrics.Store. The result is nil for an empty table.
func (w *Warehouse) MonthBounds(ctx context.Context) (*metrics.MonthBounds, error) {
	var first, last sql.NullTime

	err := w.conn.QueryRowContext(ctx,
		`SELECT MIN(invoice_month), MAX(invoice_month) FROM fct_transactions`,
	).Scan(&first, &last)
	if err != nil {
		return nil, w.queryError("month_bounds", nil, err)
	}

	if !first.Valid || !last.Valid {
		return nil, nil
	}

	return &metrics.MonthBounds{First: dateOnly(first.Time), Last: dateOnly(last.Time)}, nil
}

// Countries implements metrics.Store.
func (w *Warehouse) Countries(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT country FROM fct_transactions ORDER BY country`

	return queryRows(ctx, w, "countries", query, nil, func(rows *sql.Rows) (string, error) {
		var country string

		return country, rows.Scan(&country)
	})
}

// queryRows runs query and scans every row. It always returns a non-nil slice on success.
func queryRows[T any](
	ctx context.Context,
	w *Warehouse,
	metric string,
	query string,
	args []any,
	scan func(*sql.Rows) (T, error),
) ([]T, error) {
	start := time.Now()

	rows, err := w.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, w.queryError(metric, args, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	results := make([]T, 0)

	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, w.queryError(metric, args, fmt.Errorf("failed to scan row: %w", err))
		}

		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, w.queryError(metric, args, fmt.Errorf("row iteration error: %w", err))
	}

	w.logger.Debug("Queried metric",
		slog.String("metric", metric),
		slog.Int("result_count", len(results)),
		slog.Duration("duration", time.Since(start)),
	)

	return results, nil
}

func (w *Warehouse) queryError(metric string, args []any, err error) error {
	w.logger.Error("Metric query failed",
		slog.String("metric", metric),
		slog.String("params", fmt.Sprint(args)),
		slog.Bool("connection_error", isDatabaseConnectionError(err)),
		slog.String("error", err.Error()),
	)

	return fmt.Errorf("%w: %s: %w", ErrQueryFailed, metric, err)
}

// dateOnly drops the zone pq attaches to DATE values so months compare equal to
// retail.MonthEnd results.
func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}

	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
