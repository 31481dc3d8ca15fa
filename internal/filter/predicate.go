// Package filter builds the shared predicate every metric query is evaluated over.
//
// A Predicate is a small tagged tree (month range, country membership, conjunction)
// that is only turned into query text at the storage boundary. Values are always
// bound through a Binder so callers never interpolate user input into SQL.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/correlator-io/retail-analytics/internal/retail"
)

// Kind tags the variant held by a Predicate.
type Kind int

const (
	// KindMonthRange bounds invoice_month inclusively.
	KindMonthRange Kind = iota + 1
	// KindCountryIn restricts country to a set.
	KindCountryIn
	// KindAnd is the conjunction of its terms.
	KindAnd
)

var (
	// ErrMissingDate is returned when a start or end date is not provided.
	ErrMissingDate = errors.New("start and end dates are required")
	// ErrInvalidRange is returned when the end month precedes the start date.
	ErrInvalidRange = errors.New("end date precedes start date")
)

type (
	// Predicate is an immutable filter over fact-table rows. A nil *Predicate means unfiltered.
	Predicate struct {
		kind      Kind
		start     time.Time
		end       time.Time
		countries []string
		terms     []*Predicate
	}

	// Binder allocates a placeholder for a bound argument and returns its query text.
	Binder interface {
		Bind(arg any) string
	}

	// DollarBinder numbers placeholders $1, $2, ... in bind order, starting after Offset.
	DollarBinder struct {
		Offset int
		Args   []any
	}
)

// Bind implements Binder.
func (b *DollarBinder) Bind(arg any) string {
	b.Args = append(b.Args, arg)

	return fmt.Sprintf("$%d", b.Offset+len(b.Args))
}

// MonthRange bounds invoice_month to [start, end], both truncated to whole days.
func MonthRange(start, end time.Time) *Predicate {
	return &Predicate{kind: KindMonthRange, start: day(start), end: day(end)}
}

// CountryIn restricts rows to the given countries.
func CountryIn(countries ...string) *Predicate {
	return &Predicate{kind: KindCountryIn, countries: countries}
}

// And combines predicates; nil terms are skipped.
func And(terms ...*Predicate) *Predicate {
	kept := make([]*Predicate, 0, len(terms))

	for _, term := range terms {
		if term != nil {
			kept = append(kept, term)
		}
	}

	return &Predicate{kind: KindAnd, terms: kept}
}

// Build translates a dashboard selection into a predicate. The end date is
// widened to the last day of its month. Countries are trimmed, de-duplicated
// and sorted; an empty selection adds no country restriction.
func Build(start, end time.Time, countries []string) (*Predicate, error) {
	if start.IsZero() || end.IsZero() {
		return nil, ErrMissingDate
	}

	monthEnd := retail.MonthEnd(end)
	if monthEnd.Before(day(start)) {
		return nil, fmt.Errorf("%w: %s > %s", ErrInvalidRange,
			start.Format(retail.DateLayout), monthEnd.Format(retail.DateLayout))
	}

	selected := normalizeCountries(countries)
	if len(selected) == 0 {
		return And(MonthRange(start, monthEnd)), nil
	}

	return And(MonthRange(start, monthEnd), CountryIn(selected...)), nil
}

// Kind returns the variant tag.
func (p *Predicate) Kind() Kind {
	return p.kind
}

// Bounds returns the inclusive month range of a KindMonthRange predicate, or the
// first month range found among the terms of a conjunction.
func (p *Predicate) Bounds() (time.Time, time.Time, bool) {
	if p == nil {
		return time.Time{}, time.Time{}, false
	}

	switch p.kind {
	case KindMonthRange:
		return p.start, p.end, true
	case KindAnd:
		for _, term := range p.terms {
			if start, end, ok := term.Bounds(); ok {
				return start, end, true
			}
		}
	case KindCountryIn:
	}

	return time.Time{}, time.Time{}, false
}

// Countries returns the country set of the predicate, empty when unrestricted.
func (p *Predicate) Countries() []string {
	if p == nil {
		return nil
	}

	switch p.kind {
	case KindCountryIn:
		return append([]string(nil), p.countries...)
	case KindAnd:
		for _, term := range p.terms {
			if countries := term.Countries(); len(countries) > 0 {
				return countries
			}
		}
	case KindMonthRange:
	}

	return nil
}

// Clause renders the predicate as a boolean SQL expression, binding every value
// through b. It returns "" for a nil predicate or an empty conjunction.
func (p *Predicate) Clause(b Binder) string {
	if p == nil {
		return ""
	}

	switch p.kind {
	case KindMonthRange:
		return fmt.Sprintf("invoice_month BETWEEN %s::date AND %s::date",
			b.Bind(p.start.Format(retail.DateLayout)), b.Bind(p.end.Format(retail.DateLayout)))
	case KindCountryIn:
		if len(p.countries) == 0 {
			return "FALSE"
		}

		placeholders := make([]string, len(p.countries))
		for i, country := range p.countries {
			placeholders[i] = b.Bind(country)
		}

		return "country IN (" + strings.Join(placeholders, ", ") + ")"
	case KindAnd:
		parts := make([]string, 0, len(p.terms))

		for _, term := range p.terms {
			if clause := term.Clause(b); clause != "" {
				parts = append(parts, clause)
			}
		}

		return strings.Join(parts, " AND ")
	}

	return ""
}

// Where renders a WHERE clause, or "" when the predicate does not restrict anything.
func (p *Predicate) Where(b Binder) string {
	if clause := p.Clause(b); clause != "" {
		return " WHERE " + clause
	}

	return ""
}

// Params returns the bound values in placeholder order.
func (p *Predicate) Params() []any {
	var b DollarBinder

	p.Clause(&b)

	return b.Args
}

// Matches evaluates the predicate against one transaction. A nil predicate matches everything.
func (p *Predicate) Matches(t retail.Transaction) bool {
	if p == nil {
		return true
	}

	switch p.kind {
	case KindMonthRange:
		month := day(t.InvoiceMonth)

		return !month.Before(p.start) && !month.After(p.end)
	case KindCountryIn:
		for _, country := range p.countries {
			if t.Country == country {
				return true
			}
		}

		return false
	case KindAnd:
		for _, term := range p.terms {
			if !term.Matches(t) {
				return false
			}
		}

		return true
	}

	return false
}

// String describes the predicate for logs.
func (p *Predicate) String() string {
	if p == nil {
		return "all"
	}

	var b DollarBinder

	clause := p.Clause(&b)
	if clause == "" {
		return "all"
	}

	for i := len(b.Args); i >= 1; i-- {
		clause = strings.ReplaceAll(clause, fmt.Sprintf("$%d", i), fmt.Sprintf("'%v'", b.Args[i-1]))
	}

	return clause
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func normalizeCountries(countries []string) []string {
	seen := make(map[string]struct{}, len(countries))
	out := make([]string, 0, len(countries))

	for _, country := range countries {
		country = strings.TrimSpace(country)
		if country == "" {
			continue
		}

		if _, ok := seen[country]; ok {
			continue
		}

		seen[country] = struct{}{}
		out = append(out, country)
	}

	sort.Strings(out)

	return out
}
