package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/correlator-io/retail-analytics/internal/metrics"
	"github.com/correlator-io/retail-analytics/internal/retail"
)

const (
	rawTable  = "raw_online_retail"
	factTable = "fct_transactions"
)

var (
	// ErrReplaceFailed is returned when a snapshot cannot be written. The previous
	// snapshot is left in place.
	ErrReplaceFailed = errors.New("fact table replace failed")

	// ErrInvalidFact is returned when a transaction violates the fact table invariants.
	ErrInvalidFact = errors.New("invalid fact")

	// Warehouse serves the metrics engine.
	_ metrics.Store = (*Warehouse)(nil)
)

var (
	rawColumns = []string{
		"source_row", "invoice_no", "stock_code", "description", "quantity",
		"invoice_date", "unit_price", "customer_id", "country",
	}
	factColumns = []string{
		"invoice_no", "stock_code", "description", "quantity", "invoice_timestamp",
		"invoice_month", "unit_price", "line_revenue", "customer_id", "country",
	}
)

type (
	// Warehouse is the PostgreSQL fact store. It owns writes to raw_online_retail and
	// fct_transactions and answers the metric queries over them.
	Warehouse struct {
		conn   *Connection
		logger *slog.Logger
	}

	// WarehouseOption configures a Warehouse.
	WarehouseOption func(*Warehouse)
)

// WithLogger sets the warehouse logger.
func WithLogger(logger *slog.Logger) WarehouseOption {
	return func(w *Warehouse) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWarehouse returns a warehouse over conn. The connection is owned by the caller.
func NewWarehouse(conn *Connection, opts ...WarehouseOption) (*Warehouse, error) {
	if conn == nil || conn.DB == nil {
		return nil, ErrNoDatabaseConnection
	}

	w := &Warehouse{conn: conn, logger: slog.Default()}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// HealthCheck verifies the database is reachable.
func (w *Warehouse) HealthCheck(ctx context.Context) error {
	return w.conn.HealthCheck(ctx)
}

// ReplaceFacts swaps the lineage and fact tables for a new snapshot in one transaction.
//
// Both tables are emptied with DELETE and reloaded with COPY. Concurrent readers keep
// seeing the previous snapshot until commit; on any error the transaction is rolled
// back and the previous snapshot stays live.
func (w *Warehouse) ReplaceFacts(ctx context.Context, facts []retail.Transaction, raw []retail.RawRecord) error {
	for i, t := range facts {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %w: row %d: %w", ErrReplaceFailed, ErrInvalidFact, i, err)
		}
	}

	start := time.Now()

	tx, err := w.conn.BeginTx(ctx, nil)
	if err != nil {
		return w.replaceError("begin", err)
	}

	committed := false

	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{rawTable, factTable} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil { // #nosec G202 - constant table names
			return w.replaceError("clear "+table, err)
		}
	}

	err = copyRows(ctx, tx, rawTable, rawColumns, len(raw), func(i int) []any {
		return rawValues(raw[i])
	})
	if err != nil {
		return w.replaceError("load "+rawTable, err)
	}

	err = copyRows(ctx, tx, factTable, factColumns, len(facts), func(i int) []any {
		return factValues(facts[i])
	})
	if err != nil {
		return w.replaceError("load "+factTable, err)
	}

	if err := tx.Commit(); err != nil {
		return w.replaceError("commit", err)
	}

	committed = true

	w.logger.Info("Replaced fact snapshot",
		slog.Int("raw_rows", len(raw)),
		slog.Int("fact_rows", len(facts)),
		slog.Duration("duration", time.Since(start)),
	)

	return nil
}

func (w *Warehouse) replaceError(step string, err error) error {
	w.logger.Error("Fact snapshot replace failed",
		slog.String("step", step),
		slog.Bool("connection_error", isDatabaseConnectionError(err)),
		slog.String("error", err.Error()),
	)

	return fmt.Errorf("%w: %s: %w", ErrReplaceFailed, step, err)
}

// copyRows streams n rows into table with COPY FROM STDIN.
func copyRows(ctx context.Context, tx *sql.Tx, table string, columns []string, n int, row func(int) []any) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return err
	}

	for i := range n {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			_ = stmt.Close()

			return fmt.Errorf("row %d: %w", i, err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()

		return err
	}

	return stmt.Close()
}

func rawValues(r retail.RawRecord) []any {
	values := make([]any, 0, len(rawColumns))
	values = append(values, r.SourceRow)

	for _, cell := range r.Values() {
		if cell.Valid {
			values = append(values, cell.String)
		} else {
			values = append(values, nil)
		}
	}

	return values
}

func factValues(t retail.Transaction) []any {
	return []any{
		t.InvoiceNo,
		t.StockCode,
		t.Description,
		t.Quantity,
		t.InvoiceTimestamp.Format(retail.TimestampLayout),
		t.InvoiceMonth.Format(retail.DateLayout),
		t.UnitPrice,
		t.LineRevenue,
		t.CustomerID,
		t.Country,
	}
}
