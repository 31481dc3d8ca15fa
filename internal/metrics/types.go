// Package metrics defines the revenue and customer-lifecycle aggregations and the
// read-side store contract that backs them.
package metrics

import (
	"context"
	"time"

	"github.com/correlator-io/retail-analytics/internal/filter"
)

// DefaultTopProductsLimit is used when a caller passes a non-positive limit.
const DefaultTopProductsLimit = 10

type (
	// MonthRevenue is total line revenue for one invoice month.
	MonthRevenue struct {
		Month   time.Time `json:"invoice_month"`
		Revenue float64   `json:"revenue"`
	}

	// CustomerValue is the lifetime summary of one customer over the filtered period.
	CustomerValue struct {
		CustomerID      int64     `json:"customer_id"`
		FirstOrderMonth time.Time `json:"first_order_month"`
		LastOrderMonth  time.Time `json:"last_order_month"`
		OrderCount      int       `json:"order_count"`
		TotalRevenue    float64   `json:"total_revenue"`
		AvgOrderValue   float64   `json:"avg_order_value"`
	}

	// ProductRevenue is total line revenue for one (stock code, description) pair.
	ProductRevenue struct {
		StockCode   string  `json:"stock_code"`
		Description string  `json:"description"`
		Revenue     float64 `json:"revenue"`
	}

	// CountryRevenue is total line revenue for one country.
	CountryRevenue struct {
		Country string  `json:"country"`
		Revenue float64 `json:"revenue"`
	}

	// RetentionPoint is month-over-month retention for one invoice month.
	//
	// Active counts distinct customers with an order in Month, Previous those with an
	// order in the calendar month before, and Retained those present in both. Rate is
	// Retained/Previous and is nil when Previous is zero.
	RetentionPoint struct {
		Month    time.Time `json:"invoice_month"`
		Active   int       `json:"active_customers"`
		Previous int       `json:"previous_customers"`
		Retained int       `json:"retained_customers"`
		Rate     *float64  `json:"retention_rate"`
	}

	// MonthBounds is the first and last invoice month present in the fact table.
	MonthBounds struct {
		First time.Time `json:"first_month"`
		Last  time.Time `json:"last_month"`
	}

	// KPIs are the headline figures of a dashboard view. Each is nil when its input is empty.
	KPIs struct {
		CurrentMonthRevenue *float64 `json:"current_month_revenue"`
		LatestRetention     *float64 `json:"latest_retention"`
		MedianCustomerValue *float64 `json:"median_customer_value"`
		TopProductRevenue   *float64 `json:"top_product_revenue"`
	}

	// Dashboard is every metric computed over one shared predicate, plus global retention.
	Dashboard struct {
		Filter           string           `json:"filter"`
		MonthlyRevenue   []MonthRevenue   `json:"monthly_revenue"`
		AverageOrder     *float64         `json:"average_order_value"`
		Customers        []CustomerValue  `json:"customers"`
		TopProducts      []ProductRevenue `json:"top_products"`
		RevenueByCountry []CountryRevenue `json:"revenue_by_country"`
		Retention        []RetentionPoint `json:"retention"`
		KPIs             KPIs             `json:"kpis"`
	}

	// Store is the read-only view of the fact table used by the Engine.
	//
	// Every filtered method treats a nil predicate as the full table and returns
	// empty results, never an error, when no rows match. Retention takes no predicate.
	Store interface {
		MonthlyRevenue(ctx context.Context, p *filter.Predicate) ([]MonthRevenue, error)
		AverageOrderValue(ctx context.Context, p *filter.Predicate) (*float64, error)
		CustomerValues(ctx context.Context, p *filter.Predicate) ([]CustomerValue, error)
		TopProducts(ctx context.Context, p *filter.Predicate, limit int) ([]ProductRevenue, error)
		RevenueByCountry(ctx context.Context, p *filter.Predicate) ([]CountryRevenue, error)
		Retention(ctx context.Context) ([]RetentionPoint, error)
		MonthBounds(ctx context.Context) (*MonthBounds, error)
		Countries(ctx context.Context) ([]string, error)
	}
)
