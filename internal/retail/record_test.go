package retail

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthEnd(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"last minute of january", time.Date(2011, 1, 31, 23, 59, 0, 0, time.UTC), "2011-01-31"},
		{"first second of january", time.Date(2011, 1, 1, 0, 0, 1, 0, time.UTC), "2011-01-31"},
		{"leap february", time.Date(2012, 2, 10, 12, 0, 0, 0, time.UTC), "2012-02-29"},
		{"december rolls year", time.Date(2010, 12, 1, 8, 26, 0, 0, time.UTC), "2010-12-31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MonthEnd(tt.in)
			assert.Equal(t, tt.want, got.Format(DateLayout))
			assert.Equal(t, time.UTC, got.Location())
			assert.Zero(t, got.Hour())
		})
	}
}

func TestPreviousMonthEnd(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.Equal(t, "2010-12-31", PreviousMonthEnd(time.Date(2011, 1, 31, 0, 0, 0, 0, time.UTC)).Format(DateLayout))
	assert.Equal(t, "2011-02-28", PreviousMonthEnd(time.Date(2011, 3, 31, 0, 0, 0, 0, time.UTC)).Format(DateLayout))
}

func TestIsCancellation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	assert.True(t, IsCancellation("C536366"))
	assert.True(t, IsCancellation("c536366"))
	assert.True(t, IsCancellation("  C1"))
	assert.False(t, IsCancellation("536365"))
	assert.False(t, IsCancellation("A563185"))
	assert.False(t, IsCancellation(""))
}

func TestNewTransaction_DerivesFields(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := time.Date(2010, 12, 1, 8, 26, 0, 0, time.UTC)
	qty, price := int64(6), 2.55
	txn := NewTransaction("536365", "85123A", "WHITE HANGING HEART T-LIGHT HOLDER", qty, ts, price, 17850, "United Kingdom")

	assert.Equal(t, float64(qty)*price, txn.LineRevenue)
	assert.InDelta(t, 15.30, txn.LineRevenue, 1e-9)
	assert.Equal(t, "2010-12-31", txn.InvoiceMonth.Format(DateLayout))
	require.NoError(t, txn.Validate())
}

func TestTransaction_Validate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := time.Date(2011, 3, 4, 10, 0, 0, 0, time.UTC)
	valid := NewTransaction("540001", "22423", "REGENCY CAKESTAND 3 TIER", 2, ts, 12.75, 12347, "Iceland")

	tests := []struct {
		name    string
		mutate  func(*Transaction)
		wantErr error
	}{
		{"empty invoice", func(tx *Transaction) { tx.InvoiceNo = "" }, ErrEmptyInvoice},
		{"cancelled", func(tx *Transaction) { tx.InvoiceNo = "C540001" }, ErrCancelledInvoice},
		{"zero quantity", func(tx *Transaction) { tx.Quantity = 0 }, ErrNonPositiveQuantity},
		{"negative price", func(tx *Transaction) { tx.UnitPrice = -1 }, ErrNonPositiveUnitPrice},
		{"missing timestamp", func(tx *Transaction) { tx.InvoiceTimestamp = time.Time{} }, ErrMissingTimestamp},
		{"wrong month", func(tx *Transaction) { tx.InvoiceMonth = ts }, ErrMonthMismatch},
		{"wrong revenue", func(tx *Transaction) { tx.LineRevenue = 1 }, ErrRevenueMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := valid
			tt.mutate(&txn)
			assert.ErrorIs(t, txn.Validate(), tt.wantErr)
		})
	}
}

func TestTransaction_Raw(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := time.Date(2010, 12, 1, 8, 26, 0, 0, time.UTC)
	raw := NewTransaction("536365", "71053", "", 6, ts, 3.39, 17850, "United Kingdom").Raw()

	assert.Equal(t, "536365", raw.InvoiceNo.String)
	assert.False(t, raw.Description.Valid)
	assert.Equal(t, "6", raw.Quantity.String)
	assert.Equal(t, "2010-12-01 08:26:00", raw.InvoiceDate.String)
	assert.Equal(t, "3.39", raw.UnitPrice.String)
	assert.Equal(t, "17850", raw.CustomerID.String)
	assert.Len(t, raw.Values(), len(ExpectedColumns))
}

func TestRawRecord_Set(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var raw RawRecord

	for i, column := range ExpectedColumns {
		require.True(t, raw.Set(column, Cell(column)), "column %d", i)
	}

	assert.False(t, raw.Set("Invoice Total", Cell("1")))

	for i, cell := range raw.Values() {
		assert.Equal(t, ExpectedColumns[i], cell.String)
	}

	assert.False(t, Cell("").Valid)
	assert.Equal(t, sql.NullString{String: "   ", Valid: true}, Cell("   "))
	assert.Equal(t, sql.NullString{String: " 17850 ", Valid: true}, Cell(" 17850 "))
}
