// Package cleaning turns raw source rows into validated fact-table transactions.
//
// Each row passes through an ordered list of stages. A stage either narrows the
// row into a more strongly typed form or rejects it with a DropReason; later
// stages rely on the invariants established by earlier ones. Rows are never
// repaired or defaulted.
package cleaning

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/correlator-io/retail-analytics/internal/retail"
)

// DropReason names the stage that rejected a raw row.
type DropReason string

const (
	ReasonMissingInvoice       DropReason = "missing_invoice"
	ReasonInvalidTimestamp     DropReason = "invalid_timestamp"
	ReasonInvalidQuantity      DropReason = "invalid_quantity"
	ReasonInvalidUnitPrice     DropReason = "invalid_unit_price"
	ReasonMissingCustomer      DropReason = "missing_customer"
	ReasonCancelled            DropReason = "cancelled"
	ReasonNonPositiveQuantity  DropReason = "non_positive_quantity"
	ReasonNonPositiveUnitPrice DropReason = "non_positive_unit_price"
)

const (
	// Excel serial day numbers accepted as timestamps: 1900-01-01 through 2099-12-31.
	// Larger numbers are far more likely to be compact dates such as 201012.
	minExcelSerial = 1
	maxExcelSerial = 73050

	// The fact table stores microseconds. Finer input is truncated before the
	// invoice month is derived so the month matches the stored timestamp.
	timestampPrecision = time.Microsecond
)

// DefaultTimestampLayouts are tried in order when parsing invoice dates.
// Timestamps without an offset are read as UTC.
var DefaultTimestampLayouts = []string{
	retail.TimestampLayout,
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04",
	retail.DateLayout,
	"1/2/2006 15:04",
	"1/2/06 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006",
}

type (
	// Report summarises one Clean call. It is an observability signal only.
	Report struct {
		InputRows  int                `json:"input_rows"`
		OutputRows int                `json:"output_rows"`
		Dropped    map[DropReason]int `json:"dropped"`
	}

	// Cleaner validates raw rows. It holds no per-call state and is safe for concurrent use.
	Cleaner struct {
		logger  *slog.Logger
		layouts []string
		stages  []stage
	}

	// Option configures a Cleaner.
	Option func(*Cleaner)

	// candidate carries a row through the stages, gaining typed fields as it goes.
	candidate struct {
		raw retail.RawRecord

		invoiceNo   string
		stockCode   string
		description string
		country     string
		timestamp   time.Time
		quantity    int64
		unitPrice   float64
		customerID  int64
	}

	stage func(c *Cleaner, row *candidate) DropReason
)

// WithLogger sets the logger used for the per-call summary.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cleaner) {
		c.logger = logger
	}
}

// WithTimestampLayouts replaces the accepted invoice date layouts.
func WithTimestampLayouts(layouts ...string) Option {
	return func(c *Cleaner) {
		c.layouts = layouts
	}
}

// New creates a Cleaner with the standard stage order.
func New(opts ...Option) *Cleaner {
	c := &Cleaner{
		logger:  slog.Default(),
		layouts: DefaultTimestampLayouts,
		stages: []stage{
			trimText,
			parseTimestamp,
			parseAmounts,
			parseCustomer,
			rejectReturns,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Clean validates raw rows and returns the surviving transactions in input order,
// together with a report of how many rows each stage dropped.
func (c *Cleaner) Clean(raw []retail.RawRecord) ([]retail.Transaction, Report) {
	report := Report{
		InputRows: len(raw),
		Dropped:   make(map[DropReason]int),
	}

	out := make([]retail.Transaction, 0, len(raw))

	for _, rec := range raw {
		txn, reason := c.cleanRow(rec)
		if reason != "" {
			report.Dropped[reason]++

			continue
		}

		out = append(out, txn)
	}

	report.OutputRows = len(out)

	c.logger.Info("Cleaned raw records",
		slog.Int("raw_rows", report.InputRows),
		slog.Int("clean_rows", report.OutputRows),
		slog.Int("dropped_rows", report.DroppedRows()),
	)

	return out, report
}

func (c *Cleaner) cleanRow(rec retail.RawRecord) (retail.Transaction, DropReason) {
	row := &candidate{raw: rec}

	for _, s := range c.stages {
		if reason := s(c, row); reason != "" {
			return retail.Transaction{}, reason
		}
	}

	return retail.NewTransaction(
		row.invoiceNo,
		row.stockCode,
		row.description,
		row.quantity,
		row.timestamp,
		row.unitPrice,
		row.customerID,
		row.country,
	), ""
}

// DroppedRows is the total number of rejected rows.
func (r Report) DroppedRows() int {
	return r.InputRows - r.OutputRows
}

// DroppedByName returns the drop counts keyed by plain strings, for JSON and SQL sinks.
func (r Report) DroppedByName() map[string]int {
	out := make(map[string]int, len(r.Dropped))
	for reason, n := range r.Dropped {
		out[string(reason)] = n
	}

	return out
}

func trimText(_ *Cleaner, row *candidate) DropReason {
	row.invoiceNo = text(row.raw.InvoiceNo.String)
	row.stockCode = text(row.raw.StockCode.String)
	row.description = text(row.raw.Description.String)
	row.country = text(row.raw.Country.String)

	if row.invoiceNo == "" {
		return ReasonMissingInvoice
	}

	return ""
}

func parseTimestamp(c *Cleaner, row *candidate) DropReason {
	if !row.raw.InvoiceDate.Valid {
		return ReasonInvalidTimestamp
	}

	ts, ok := c.parseTime(row.raw.InvoiceDate.String)
	if !ok {
		return ReasonInvalidTimestamp
	}

	row.timestamp = ts

	return ""
}

func parseAmounts(_ *Cleaner, row *candidate) DropReason {
	qty, ok := integral(row.raw.Quantity.String)
	if !row.raw.Quantity.Valid || !ok {
		return ReasonInvalidQuantity
	}

	price, ok := number(row.raw.UnitPrice.String)
	if !row.raw.UnitPrice.Valid || !ok {
		return ReasonInvalidUnitPrice
	}

	row.quantity = qty
	row.unitPrice = price

	return ""
}

func parseCustomer(_ *Cleaner, row *candidate) DropReason {
	id, ok := integral(row.raw.CustomerID.String)
	if !row.raw.CustomerID.Valid || !ok {
		return ReasonMissingCustomer
	}

	row.customerID = id

	return ""
}

func rejectReturns(_ *Cleaner, row *candidate) DropReason {
	switch {
	case retail.IsCancellation(row.invoiceNo):
		return ReasonCancelled
	case row.quantity <= 0:
		return ReasonNonPositiveQuantity
	case row.unitPrice <= 0:
		return ReasonNonPositiveUnitPrice
	}

	return ""
}

// parseTime tries each layout, then falls back to an Excel serial day number.
func (c *Cleaner) parseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range c.layouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts.UTC().Truncate(timestampPrecision), true
		}
	}

	serial, ok := number(value)
	if !ok || serial < minExcelSerial || serial > maxExcelSerial {
		return time.Time{}, false
	}

	ts, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, false
	}

	return ts.Round(time.Second).UTC(), true
}

// text normalises a text cell: surrounding whitespace removed, internal text untouched.
func text(value string) string {
	return strings.TrimSpace(value)
}

// number parses a finite float. Whitespace around the value is allowed.
func number(value string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}

	return f, true
}

// integral parses a number that must be a whole value within the fact table's INTEGER range.
// "17850.0" is accepted; "2.5" is not.
func integral(value string) (int64, bool) {
	f, ok := number(value)
	if !ok || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}

	return int64(f), true
}
