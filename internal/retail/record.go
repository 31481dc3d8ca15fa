// Package retail defines the raw and canonical transaction records shared by
// the cleaning, storage and metrics layers.
package retail

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Canonical source column names, as published in the UCI Online Retail workbook.
const (
	ColumnInvoiceNo   = "InvoiceNo"
	ColumnStockCode   = "StockCode"
	ColumnDescription = "Description"
	ColumnQuantity    = "Quantity"
	ColumnInvoiceDate = "InvoiceDate"
	ColumnUnitPrice   = "UnitPrice"
	ColumnCustomerID  = "CustomerID"
	ColumnCountry     = "Country"
)

const (
	// CancellationPrefix marks invoices that reverse an earlier sale. Matched case-insensitively.
	CancellationPrefix = "C"

	// TimestampLayout is the canonical rendering of invoice timestamps.
	TimestampLayout = "2006-01-02 15:04:05.999999999"

	// DateLayout is the canonical rendering of invoice months.
	DateLayout = "2006-01-02"
)

var (
	// ErrEmptyInvoice is returned when a transaction has no invoice number.
	ErrEmptyInvoice = errors.New("invoice number is empty")
	// ErrCancelledInvoice is returned when a transaction carries the cancellation prefix.
	ErrCancelledInvoice = errors.New("invoice is a cancellation")
	// ErrNonPositiveQuantity is returned when quantity is zero or negative.
	ErrNonPositiveQuantity = errors.New("quantity must be positive")
	// ErrNonPositiveUnitPrice is returned when unit price is zero or negative.
	ErrNonPositiveUnitPrice = errors.New("unit price must be positive")
	// ErrMissingTimestamp is returned when the invoice timestamp is the zero time.
	ErrMissingTimestamp = errors.New("invoice timestamp is missing")
	// ErrMonthMismatch is returned when invoice_month is not the month end of the timestamp.
	ErrMonthMismatch = errors.New("invoice month does not match timestamp")
	// ErrRevenueMismatch is returned when line revenue is not quantity times unit price.
	ErrRevenueMismatch = errors.New("line revenue does not equal quantity x unit price")
)

// ExpectedColumns lists the columns a raw dataset must provide, in source order.
var ExpectedColumns = []string{
	ColumnInvoiceNo,
	ColumnStockCode,
	ColumnDescription,
	ColumnQuantity,
	ColumnInvoiceDate,
	ColumnUnitPrice,
	ColumnCustomerID,
	ColumnCountry,
}

type (
	// RawRecord is one untyped row from the source dataset. Every cell is nullable;
	// Valid is false when the source cell was absent or blank.
	RawRecord struct {
		SourceRow   int64
		InvoiceNo   sql.NullString
		StockCode   sql.NullString
		Description sql.NullString
		Quantity    sql.NullString
		InvoiceDate sql.NullString
		UnitPrice   sql.NullString
		CustomerID  sql.NullString
		Country     sql.NullString
	}

	// Transaction is a validated line item of the fact table. Values are built once
	// by the cleaner and never mutated afterwards.
	Transaction struct {
		InvoiceNo        string    `json:"invoice_no"`
		StockCode        string    `json:"stock_code"`
		Description      string    `json:"description"`
		Quantity         int64     `json:"quantity"`
		InvoiceTimestamp time.Time `json:"invoice_timestamp"`
		InvoiceMonth     time.Time `json:"invoice_month"`
		UnitPrice        float64   `json:"unit_price"`
		LineRevenue      float64   `json:"line_revenue"`
		CustomerID       int64     `json:"customer_id"`
		Country          string    `json:"country"`
	}
)

// Cell builds a RawRecord cell. Only an empty value is null; anything else,
// whitespace included, is kept verbatim for the lineage copy.
func Cell(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: value, Valid: true}
}

// MonthEnd returns the last calendar day of the month containing t, at midnight UTC.
//
//	MonthEnd(2011-01-31 23:59:00) == 2011-01-31
//	MonthEnd(2011-01-01 00:00:01) == 2011-01-31
func MonthEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC)
}

// PreviousMonthEnd returns the month end of the calendar month before the one containing t.
func PreviousMonthEnd(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 0, 0, 0, 0, 0, time.UTC)
}

// IsCancellation reports whether an invoice number carries the cancellation prefix.
func IsCancellation(invoiceNo string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(invoiceNo)), CancellationPrefix)
}

// NewTransaction derives line revenue and invoice month from validated fields.
func NewTransaction(
	invoiceNo, stockCode, description string,
	quantity int64,
	timestamp time.Time,
	unitPrice float64,
	customerID int64,
	country string,
) Transaction {
	return Transaction{
		InvoiceNo:        invoiceNo,
		StockCode:        stockCode,
		Description:      description,
		Quantity:         quantity,
		InvoiceTimestamp: timestamp,
		InvoiceMonth:     MonthEnd(timestamp),
		UnitPrice:        unitPrice,
		LineRevenue:      float64(quantity) * unitPrice,
		CustomerID:       customerID,
		Country:          country,
	}
}

// Validate checks the fact table invariants. It returns the first violation found.
func (t Transaction) Validate() error {
	switch {
	case t.InvoiceNo == "":
		return ErrEmptyInvoice
	case IsCancellation(t.InvoiceNo):
		return fmt.Errorf("%w: %s", ErrCancelledInvoice, t.InvoiceNo)
	case t.Quantity <= 0:
		return fmt.Errorf("%w: %d", ErrNonPositiveQuantity, t.Quantity)
	case t.UnitPrice <= 0:
		return fmt.Errorf("%w: %g", ErrNonPositiveUnitPrice, t.UnitPrice)
	case t.InvoiceTimestamp.IsZero():
		return ErrMissingTimestamp
	case !t.InvoiceMonth.Equal(MonthEnd(t.InvoiceTimestamp)):
		return fmt.Errorf("%w: %s vs %s", ErrMonthMismatch,
			t.InvoiceMonth.Format(DateLayout), t.InvoiceTimestamp.Format(TimestampLayout))
	case t.LineRevenue != float64(t.Quantity)*t.UnitPrice:
		return fmt.Errorf("%w: %g", ErrRevenueMismatch, t.LineRevenue)
	}

	return nil
}

// Raw renders the transaction back into its untyped source form.
// Cleaning the result yields the same transaction.
func (t Transaction) Raw() RawRecord {
	return RawRecord{
		InvoiceNo:   Cell(t.InvoiceNo),
		StockCode:   Cell(t.StockCode),
		Description: Cell(t.Description),
		Quantity:    Cell(strconv.FormatInt(t.Quantity, 10)),
		InvoiceDate: Cell(t.InvoiceTimestamp.Format(TimestampLayout)),
		UnitPrice:   Cell(strconv.FormatFloat(t.UnitPrice, 'g', -1, 64)),
		CustomerID:  Cell(strconv.FormatInt(t.CustomerID, 10)),
		Country:     Cell(t.Country),
	}
}

// Values returns the raw cells in ExpectedColumns order.
func (r RawRecord) Values() []sql.NullString {
	return []sql.NullString{
		r.InvoiceNo,
		r.StockCode,
		r.Description,
		r.Quantity,
		r.InvoiceDate,
		r.UnitPrice,
		r.CustomerID,
		r.Country,
	}
}

// Set assigns a cell by canonical column name. Unknown columns are ignored and reported false.
func (r *RawRecord) Set(column string, cell sql.NullString) bool {
	switch column {
	case ColumnInvoiceNo:
		r.InvoiceNo = cell
	case ColumnStockCode:
		r.StockCode = cell
	case ColumnDescription:
		r.Description = cell
	case ColumnQuantity:
		r.Quantity = cell
	case ColumnInvoiceDate:
		r.InvoiceDate = cell
	case ColumnUnitPrice:
		r.UnitPrice = cell
	case ColumnCustomerID:
		r.CustomerID = cell
	case ColumnCountry:
		r.Country = cell
	default:
		return false
	}

	return true
}
