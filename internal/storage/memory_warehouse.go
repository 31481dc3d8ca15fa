package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/correlator-io/retail-analytics/internal/filter"
	"github.com/correlator-io/retail-analytics/internal/metrics"
	"github.com/correlator-io/retail-analytics/internal/pipeline"
	"github.com/correlator-io/retail-analytics/internal/retail"
)

var (
	_ metrics.Store        = (*MemoryWarehouse)(nil)
	_ pipeline.FactWriter  = (*MemoryWarehouse)(nil)
	_ pipeline.RunRecorder = (*MemoryWarehouse)(nil)
	_ pipeline.RunHistory  = (*MemoryWarehouse)(nil)
)

// MemoryWarehouse is an in-process fact store for tests and local runs without a
// database. ReplaceFacts swaps in a private copy, so readers holding the previous
// snapshot are unaffected.
type MemoryWarehouse struct {
	mu    sync.RWMutex
	facts metrics.Facts
	raw   []retail.RawRecord
	runs  []pipeline.Run
}

// NewMemoryWarehouse returns an empty in-memory warehouse.
func NewMemoryWarehouse() *MemoryWarehouse {
	return &MemoryWarehouse{}
}

// ReplaceFacts implements pipeline.FactWriter. Invalid facts reject the whole snapshot.
func (m *MemoryWarehouse) ReplaceFacts(ctx context.Context, facts []retail.Transaction, raw []retail.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrReplaceFailed, err)
	}

	for i, t := range facts {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %w: row %d: %w", ErrReplaceFailed, ErrInvalidFact, i, err)
		}
	}

	nextFacts := slices.Clone(facts)
	nextRaw := slices.Clone(raw)

	m.mu.Lock()
	m.facts = nextFacts
	m.raw = nextRaw
	m.mu.Unlock()

	return nil
}

// Snapshot returns the current facts and lineage rows.
func (m *MemoryWarehouse) Snapshot() (metrics.Facts, []retail.RawRecord) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.facts), slices.Clone(m.raw)
}

// HealthCheck always succeeds.
func (m *MemoryWarehouse) HealthCheck(context.Context) error {
	return nil
}

// MonthlyRevenue implements metrics.Store.
func (m *MemoryWarehouse) MonthlyRevenue(_ context.Context, p *filter.Predicate) ([]metrics.MonthRevenue, error) {
	return m.current().MonthlyRevenue(p), nil
}

// AverageOrderValue implements metrics.Store.
func (m *MemoryWarehouse) AverageOrderValue(_ context.Context, p *filter.Predicate) (*float64, error) {
	return m.current().AverageOrderValue(p), nil
}

// CustomerValues implements metrics.Store.
func (m *MemoryWarehouse) CustomerValues(_ context.Context, p *filter.Predicate) ([]metrics.CustomerValue, error) {
	return m.current().CustomerValues(p), nil
}

// TopProducts implements metrics.Store.
func (m *MemoryWarehouse) TopProducts(
	_ context.Context,
	p *filter.Predicate,
	limit int,
) ([]metrics.ProductRevenue, error) {
	return m.current().TopProducts(p, limit), nil
}

// RevenueByCountry implements metrics.Store.
func (m *MemoryWarehouse) RevenueByCountry(_ context.Context, p *filter.Predicate) ([]metrics.CountryRevenue, error) {
	return m.current().RevenueByCountry(p), nil
}

// Retention implements metrics.Store.
func (m *MemoryWarehouse) Retention(context.Context) ([]metrics.RetentionPoint, error) {
	return m.current().Retention(), nil
}

// MonthBounds implements metrics.Store.
func (m *MemoryWarehouse) MonthBounds(context.Context) (*metrics.MonthBounds, error) {
	return m.current().MonthBounds(), nil
}

// Countries implements metrics.Store.
func (m *MemoryWarehouse) Countries(context.Context) ([]string, error) {
	return m.current().Countries(), nil
}

// RecordRun implements pipeline.RunRecorder.
func (m *MemoryWarehouse) RecordRun(_ context.Context, run pipeline.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == run.ID {
			m.runs[i] = run

			return nil
		}
	}

	m.runs = append(m.runs, run)

	return nil
}

// RecentRuns implements pipeline.RunHistory.
func (m *MemoryWarehouse) RecentRuns(_ context.Context, limit int) ([]pipeline.Run, error) {
	if limit <= 0 {
		limit = defaultRecentRuns
	}

	m.mu.RLock()
	runs := slices.Clone(m.runs)
	m.mu.RUnlock()

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })

	if len(runs) > limit {
		runs = runs[:limit]
	}

	if runs == nil {
		runs = []pipeline.Run{}
	}

	return runs, nil
}

// current returns the live snapshot. The slice is never mutated after ReplaceFacts
// installs it, so it can be read without holding the lock.
func (m *MemoryWarehouse) current() metrics.Facts {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.facts
}
