package storage

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/correlator-io/retail-analytics/internal/config"
	"github.com/correlator-io/retail-analytics/internal/filter"
	"github.com/correlator-io/retail-analytics/internal/metrics"
	"github.com/correlator-io/retail-analytics/internal/pipeline"
	"github.com/correlator-io/retail-analytics/internal/retail"
)

const floatTolerance = 1e-9

func setupWarehouse(ctx context.Context, t *testing.T) (*Warehouse, *config.TestDatabase) {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)

	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	w, err := NewWarehouse(&Connection{DB: testDB.Connection}, WithLogger(quietLogger()))
	require.NoError(t, err)

	return w, testDB
}

func countRows(ctx context.Context, t *testing.T, db *config.TestDatabase, table string) int {
	t.Helper()

	var n int

	require.NoError(t, db.Connection.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))

	return n
}

func TestWarehouseMatchesInMemoryReference(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	w, _ := setupWarehouse(ctx, t)
	facts := sampleFacts()
	reference := metrics.Facts(facts)

	require.NoError(t, w.ReplaceFacts(ctx, facts, rawFor(facts)))

	ukOnly, err := filter.Build(at(2010, 12, 1, 0, 0), at(2011, 3, 1, 0, 0), []string{"United Kingdom"})
	require.NoError(t, err)

	january, err := filter.Build(at(2011, 1, 1, 0, 0), at(2011, 1, 1, 0, 0), nil)
	require.NoError(t, err)

	predicates := map[string]*filter.Predicate{
		"unfiltered": nil,
		"uk only":    ukOnly,
		"january":    january,
		"no match":   filter.And(filter.MonthRange(at(2012, 1, 1, 0, 0), at(2012, 1, 31, 0, 0))),
	}

	for name, p := range predicates {
		t.Run(name, func(t *testing.T) {
			monthly, err := w.MonthlyRevenue(ctx, p)
			require.NoError(t, err)

			want := reference.MonthlyRevenue(p)
			require.Len(t, monthly, len(want))

			for i := range want {
				assert.True(t, want[i].Month.Equal(monthly[i].Month), "month %d", i)
				assert.InDelta(t, want[i].Revenue, monthly[i].Revenue, floatTolerance)
			}

			aov, err := w.AverageOrderValue(ctx, p)
			require.NoError(t, err)

			if wantAOV := reference.AverageOrderValue(p); wantAOV == nil {
				assert.Nil(t, aov)
			} else {
				require.NotNil(t, aov)
				assert.InDelta(t, *wantAOV, *aov, floatTolerance)
			}

			customers, err := w.CustomerValues(ctx, p)
			require.NoError(t, err)

			wantCustomers := reference.CustomerValues(p)
			require.Len(t, customers, len(wantCustomers))

			for i := range wantCustomers {
				assert.Equal(t, wantCustomers[i].CustomerID, customers[i].CustomerID)
				assert.Equal(t, wantCustomers[i].OrderCount, customers[i].OrderCount)
				assert.True(t, wantCustomers[i].FirstOrderMonth.Equal(customers[i].FirstOrderMonth))
				assert.True(t, wantCustomers[i].LastOrderMonth.Equal(customers[i].LastOrderMonth))
				assert.InDelta(t, wantCustomers[i].TotalRevenue, customers[i].TotalRevenue, floatTolerance)
				assert.InDelta(t, wantCustomers[i].AvgOrderValue, customers[i].AvgOrderValue, floatTolerance)
			}

			top, err := w.TopProducts(ctx, p, 3)
			require.NoError(t, err)

			wantTop := reference.TopProducts(p, 3)
			require.Len(t, top, len(wantTop))

			for i := range wantTop {
				assert.Equal(t, wantTop[i].StockCode, top[i].StockCode)
				assert.Equal(t, wantTop[i].Description, top[i].Description)
				assert.InDelta(t, wantTop[i].Revenue, top[i].Revenue, floatTolerance)
			}

			byCountry, err := w.RevenueByCountry(ctx, p)
			require.NoError(t, err)

			wantCountry := reference.RevenueByCountry(p)
			require.Len(t, byCountry, len(wantCountry))

			for i := range wantCountry {
				assert.Equal(t, wantCountry[i].Country, byCountry[i].Country)
				assert.InDelta(t, wantCountry[i].Revenue, byCountry[i].Revenue, floatTolerance)
			}
		})
	}
}

func TestWarehouseRetentionView(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	w, _ := setupWarehouse(ctx, t)
	facts := sampleFacts()

	require.NoError(t, w.ReplaceFacts(ctx, facts, rawFor(facts)))

	got, err := w.Retention(ctx)
	require.NoError(t, err)

	want := metrics.Facts(facts).Retention()
	require.Len(t, got, len(want))

	for i := range want {
		assert.True(t, want[i].Month.Equal(got[i].Month), "month %d", i)
		assert.Equal(t, want[i].Active, got[i].Active)
		assert.Equal(t, want[i].Previous, got[i].Previous)
		assert.Equal(t, want[i].Retained, got[i].Retained)

		if want[i].Rate == nil {
			assert.Nil(t, got[i].Rate)
		} else {
			require.NotNil(t, got[i].Rate)
			assert.InDelta(t, *want[i].Rate, *got[i].Rate, floatTolerance)
		}
	}

	// December has no predecessor, January retains 2 of 3, March follows an empty month.
	require.Len(t, got, 3)
	assert.Nil(t, got[0].Rate)
	require.NotNil(t, got[1].Rate)
	assert.InDelta(t, 2.0/3.0, *got[1].Rate, floatTolerance)
	assert.Nil(t, got[2].Rate)
}

func TestWarehouseDimensions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	w, _ := setupWarehouse(ctx, t)

	bounds, err := w.MonthBounds(ctx)
	require.NoError(t, err)
	assert.Nil(t, bounds, "empty table has no bounds")

	countries, err := w.Countries(ctx)
	require.NoError(t, err)
	assert.Empty(t, countries)

	facts := sampleFacts()
	require.NoError(t, w.ReplaceFacts(ctx, facts, rawFor(facts)))

	bounds, err = w.MonthBounds(ctx)
	require.NoError(t, err)
	require.NotNil(t, bounds)
	assert.Equal(t, time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC), bounds.First)
	assert.Equal(t, time.Date(2011, 3, 31, 0, 0, 0, 0, time.UTC), bounds.Last)

	countries, err = w.Countries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"France", "Germany", "United Kingdom"}, countries)
}

func TestWarehouseReplaceIsAtomic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	w, testDB := setupWarehouse(ctx, t)
	facts := sampleFacts()

	require.NoError(t, w.ReplaceFacts(ctx, facts, rawFor(facts)))
	assert.Equal(t, len(facts), countRows(ctx, t, testDB, "fct_transactions"))
	assert.Equal(t, len(facts), countRows(ctx, t, testDB, "raw_online_retail"))

	// Valid in Go but out of range for the INTEGER column: COPY fails mid-load.
	bad := sampleFacts()
	bad[len(bad)-1].Quantity = math.MaxInt32 + 1
	bad[len(bad)-1].LineRevenue = float64(bad[len(bad)-1].Quantity) * bad[len(bad)-1].UnitPrice

	err := w.ReplaceFacts(ctx, bad, rawFor(bad))
	require.ErrorIs(t, err, ErrReplaceFailed)

	assert.Equal(t, len(facts), countRows(ctx, t, testDB, "fct_transactions"), "old snapshot kept")
	assert.Equal(t, len(facts), countRows(ctx, t, testDB, "raw_online_retail"), "lineage kept")

	// Invariant violations are caught before touching the database.
	invalid := sampleFacts()
	invalid[0].InvoiceNo = "C536365"

	err = w.ReplaceFacts(ctx, invalid, rawFor(invalid))
	require.ErrorIs(t, err, ErrInvalidFact)

	// A smaller snapshot fully supersedes the previous one.
	small := sampleFacts()[:2]
	require.NoError(t, w.ReplaceFacts(ctx, small, rawFor(small)))
	assert.Equal(t, 2, countRows(ctx, t, testDB, "fct_transactions"))
	assert.Equal(t, 2, countRows(ctx, t, testDB, "raw_online_retail"))
}

func TestWarehouseStoresNullRawCells(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	w, testDB := setupWarehouse(ctx, t)

	facts := sampleFacts()[:1]
	raw := rawFor(facts)
	raw[0].CustomerID.Valid = false
	raw[0].Description = retail.Cell("   ")

	require.NoError(t, w.ReplaceFacts(ctx, facts, raw))

	var (
		sourceRow   int64
		customerID  *string
		description *string
		unitPrice   string
	)

	err := testDB.Connection.QueryRowContext(ctx,
		`SELECT source_row, customer_id, description, unit_price FROM raw_online_retail`).
		Scan(&sourceRow, &customerID, &description, &unitPrice)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sourceRow)
	assert.Nil(t, customerID)
	require.NotNil(t, description)
	assert.Equal(t, "   ", *description, "whitespace cells are stored verbatim")
	assert.Equal(t, "2.55", unitPrice)
}

func TestWarehouseRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	w, _ := setupWarehouse(ctx, t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	failed := pipeline.Run{
		ID:         uuid.New(),
		Source:     "file:///tmp/retail.csv",
		Status:     pipeline.StatusFailed,
		StartedAt:  base,
		FinishedAt: base.Add(time.Second),
		Error:      "source returned no rows",
	}
	succeeded := pipeline.Run{
		ID:         uuid.New(),
		Source:     "file:///tmp/retail.csv",
		Status:     pipeline.StatusSucceeded,
		StartedAt:  base.Add(time.Hour),
		FinishedAt: base.Add(time.Hour + time.Minute),
		RawRows:    10,
		CleanRows:  7,
		Dropped:    map[string]int{"cancelled": 2, "missing_customer": 1},
	}

	require.NoError(t, w.RecordRun(ctx, failed))
	require.NoError(t, w.RecordRun(ctx, succeeded))

	runs, err := w.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, succeeded.ID, runs[0].ID)
	assert.Equal(t, pipeline.StatusSucceeded, runs[0].Status)
	assert.Equal(t, succeeded.Dropped, runs[0].Dropped)
	assert.True(t, succeeded.StartedAt.Equal(runs[0].StartedAt))
	assert.Empty(t, runs[0].Error)

	assert.Equal(t, failed.ID, runs[1].ID)
	assert.Equal(t, "source returned no rows", runs[1].Error)
	assert.Empty(t, runs[1].Dropped)

	// Re-recording a run id updates it in place.
	failed.Error = "retried"
	require.NoError(t, w.RecordRun(ctx, failed))

	runs, err = w.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, succeeded.ID, runs[0].ID)
}
