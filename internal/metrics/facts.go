package metrics

import (
	"sort"
	"time"

	"github.com/correlator-io/retail-analytics/internal/filter"
	"github.com/correlator-io/retail-analytics/internal/retail"
)

// Facts is an in-memory fact table. Its methods are the reference aggregations:
// sums accumulate in slice order and ties keep first-appearance order.
type Facts []retail.Transaction

type (
	orderKey struct {
		customerID int64
		month      time.Time
		invoiceNo  string
	}

	productKey struct {
		stockCode   string
		description string
	}
)

// Filter returns the rows matching p, in order.
func (f Facts) Filter(p *filter.Predicate) Facts {
	if p == nil {
		return f
	}

	out := make(Facts, 0, len(f))

	for _, t := range f {
		if p.Matches(t) {
			out = append(out, t)
		}
	}

	return out
}

// MonthlyRevenue sums line revenue per invoice month, ascending by month.
func (f Facts) MonthlyRevenue(p *filter.Predicate) []MonthRevenue {
	totals := make(map[time.Time]float64)

	for _, t := range f.Filter(p) {
		totals[t.InvoiceMonth] += t.LineRevenue
	}

	out := make([]MonthRevenue, 0, len(totals))
	for month, revenue := range totals {
		out = append(out, MonthRevenue{Month: month, Revenue: revenue})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })

	return out
}

// AverageOrderValue is the mean of per-invoice revenue totals, nil when there are no orders.
func (f Facts) AverageOrderValue(p *filter.Predicate) *float64 {
	totals := make(map[string]float64)
	order := make([]string, 0)

	for _, t := range f.Filter(p) {
		if _, ok := totals[t.InvoiceNo]; !ok {
			order = append(order, t.InvoiceNo)
		}

		totals[t.InvoiceNo] += t.LineRevenue
	}

	if len(order) == 0 {
		return nil
	}

	var sum float64
	for _, invoiceNo := range order {
		sum += totals[invoiceNo]
	}

	avg := sum / float64(len(order))

	return &avg
}

// CustomerValues builds one order per (customer, month, invoice) and summarises
// orders per customer, ascending by customer id.
func (f Facts) CustomerValues(p *filter.Predicate) []CustomerValue {
	orderTotals := make(map[orderKey]float64)
	orders := make([]orderKey, 0)

	for _, t := range f.Filter(p) {
		key := orderKey{customerID: t.CustomerID, month: t.InvoiceMonth, invoiceNo: t.InvoiceNo}
		if _, ok := orderTotals[key]; !ok {
			orders = append(orders, key)
		}

		orderTotals[key] += t.LineRevenue
	}

	type accumulator struct {
		value    CustomerValue
		orders   int
		invoices map[string]struct{}
	}

	byCustomer := make(map[int64]*accumulator)

	for _, key := range orders {
		acc, ok := byCustomer[key.customerID]
		if !ok {
			acc = &accumulator{
				value: CustomerValue{
					CustomerID:      key.customerID,
					FirstOrderMonth: key.month,
					LastOrderMonth:  key.month,
				},
				invoices: make(map[string]struct{}),
			}
			byCustomer[key.customerID] = acc
		}

		if key.month.Before(acc.value.FirstOrderMonth) {
			acc.value.FirstOrderMonth = key.month
		}

		if key.month.After(acc.value.LastOrderMonth) {
			acc.value.LastOrderMonth = key.month
		}

		acc.invoices[key.invoiceNo] = struct{}{}
		acc.orders++
		acc.value.TotalRevenue += orderTotals[key]
	}

	out := make([]CustomerValue, 0, len(byCustomer))

	for _, acc := range byCustomer {
		acc.value.OrderCount = len(acc.invoices)
		if acc.orders > 0 {
			acc.value.AvgOrderValue = acc.value.TotalRevenue / float64(acc.orders)
		}

		out = append(out, acc.value)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })

	return out
}

// TopProducts ranks (stock code, description) pairs by revenue, descending, keeping at most limit rows.
// Equal revenues keep the order in which the products first appear.
func (f Facts) TopProducts(p *filter.Predicate, limit int) []ProductRevenue {
	if limit <= 0 {
		limit = DefaultTopProductsLimit
	}

	index := make(map[productKey]int)
	out := make([]ProductRevenue, 0)

	for _, t := range f.Filter(p) {
		key := productKey{stockCode: t.StockCode, description: t.Description}

		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, ProductRevenue{StockCode: t.StockCode, Description: t.Description})
		}

		out[i].Revenue += t.LineRevenue
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Revenue > out[j].Revenue })

	if len(out) > limit {
		out = out[:limit]
	}

	return out
}

// RevenueByCountry sums line revenue per country, descending by revenue.
func (f Facts) RevenueByCountry(p *filter.Predicate) []CountryRevenue {
	index := make(map[string]int)
	out := make([]CountryRevenue, 0)

	for _, t := range f.Filter(p) {
		i, ok := index[t.Country]
		if !ok {
			i = len(out)
			index[t.Country] = i
			out = append(out, CountryRevenue{Country: t.Country})
		}

		out[i].Revenue += t.LineRevenue
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Revenue > out[j].Revenue })

	return out
}

// Retention computes month-over-month retention over the whole table. The previous
// month is the strict calendar predecessor; a gap month yields a nil rate.
func (f Facts) Retention() []RetentionPoint {
	active := make(map[time.Time]map[int64]struct{})

	for _, t := range f {
		customers, ok := active[t.InvoiceMonth]
		if !ok {
			customers = make(map[int64]struct{})
			active[t.InvoiceMonth] = customers
		}

		customers[t.CustomerID] = struct{}{}
	}

	out := make([]RetentionPoint, 0, len(active))

	for month, customers := range active {
		point := RetentionPoint{Month: month, Active: len(customers)}

		previous := active[retail.PreviousMonthEnd(month)]
		point.Previous = len(previous)

		for id := range customers {
			if _, ok := previous[id]; ok {
				point.Retained++
			}
		}

		if point.Previous > 0 {
			rate := float64(point.Retained) / float64(point.Previous)
			point.Rate = &rate
		}

		out = append(out, point)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })

	return out
}

// MonthBounds returns the first and last invoice month, nil for an empty table.
func (f Facts) MonthBounds() *MonthBounds {
	if len(f) == 0 {
		return nil
	}

	bounds := &MonthBounds{First: f[0].InvoiceMonth, Last: f[0].InvoiceMonth}

	for _, t := range f[1:] {
		if t.InvoiceMonth.Before(bounds.First) {
			bounds.First = t.InvoiceMonth
		}

		if t.InvoiceMonth.After(bounds.Last) {
			bounds.Last = t.InvoiceMonth
		}
	}

	return bounds
}

// Countries lists distinct countries in ascending order.
func (f Facts) Countries() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)

	for _, t := range f {
		if _, ok := seen[t.Country]; ok {
			continue
		}

		seen[t.Country] = struct{}{}
		out = append(out, t.Country)
	}

	sort.Strings(out)

	return out
}
