package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ImpossibleID matches no record. A full-text search that found nothing
// constrains the query to it so the result is empty instead of unfiltered.
const ImpossibleID = "00000000-0000-0000-0000-000000000000"

// OrderBy is the fixed listing order.
const OrderBy = "created_at DESC"

// Predicate is one AND-ed condition of a listing query. It renders to SQL
// for the PostgreSQL store and evaluates in memory for the bolt store, so
// both share one definition of the filter semantics.
type Predicate interface {
	Apply(wb *WhereBuilder)
	Match(f Fis) bool
}

// IDIn restricts to a set of identifiers.
type IDIn struct{ IDs []string }

func (p IDIn) Apply(wb *WhereBuilder) { wb.AddAny("id", p.IDs, "uuid") }

func (p IDIn) Match(f Fis) bool {
	for _, id := range p.IDs {
		if strings.EqualFold(id, f.ID) {
			return true
		}
	}
	return false
}

// CreatedAtGTE keeps records created at or after At.
type CreatedAtGTE struct{ At time.Time }

func (p CreatedAtGTE) Apply(wb *WhereBuilder) { wb.AddCompare("created_at", ">=", p.At, "") }
func (p CreatedAtGTE) Match(f Fis) bool       { return !f.CreatedAt.Before(p.At) }

// CreatedAtLTE keeps records created at or before At.
type CreatedAtLTE struct{ At time.Time }

func (p CreatedAtLTE) Apply(wb *WhereBuilder) { wb.AddCompare("created_at", "<=", p.At, "") }
func (p CreatedAtLTE) Match(f Fis) bool       { return !f.CreatedAt.After(p.At) }

// FisNoILike is a case-insensitive substring match on fis_no.
type FisNoILike struct{ Substring string }

func (p FisNoILike) Apply(wb *WhereBuilder) { wb.AddILike("fis_no", p.Substring) }

func (p FisNoILike) Match(f Fis) bool {
	return strings.Contains(strings.ToLower(f.FisNo), strings.ToLower(p.Substring))
}

// TotalGTE keeps records whose total is at least Amount.
type TotalGTE struct{ Amount decimal.Decimal }

func (p TotalGTE) Apply(wb *WhereBuilder) {
	wb.AddCompare("total", ">=", p.Amount.String(), "text::numeric")
}
func (p TotalGTE) Match(f Fis) bool { return f.Total.GreaterThanOrEqual(p.Amount) }

// TotalLTE keeps records whose total is at most Amount.
type TotalLTE struct{ Amount decimal.Decimal }

func (p TotalLTE) Apply(wb *WhereBuilder) {
	wb.AddCompare("total", "<=", p.Amount.String(), "text::numeric")
}
func (p TotalLTE) Match(f Fis) bool { return f.Total.LessThanOrEqual(p.Amount) }

// Query is a filtered, windowed read of the receipt collection, always
// ordered by OrderBy. Limit 0 means no window.
type Query struct {
	Predicates []Predicate
	Offset     int64
	Limit      int64
}

// Where renders the predicates as a WHERE clause.
func (q Query) Where() (*WhereBuilder, string, []any) {
	wb := NewWhereBuilder()
	for _, p := range q.Predicates {
		p.Apply(wb)
	}
	clause, args := wb.Build()
	return wb, clause, args
}

// Match reports whether f satisfies every predicate.
func (q Query) Match(f Fis) bool {
	for _, p := range q.Predicates {
		if !p.Match(f) {
			return false
		}
	}
	return true
}

// Window slices an already-ordered, already-filtered list to the query's
// row window.
func (q Query) Window(records []Fis) []Fis {
	if q.Offset < 0 || q.Offset >= int64(len(records)) {
		return []Fis{}
	}
	end := int64(len(records))
	if q.Limit > 0 && q.Limit < end-q.Offset {
		end = q.Offset + q.Limit
	}
	return records[q.Offset:end]
}

// StartOfDay is midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay is 23:59:59.999 of t's calendar day in t's location, whatever
// time of day t carries.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// BuildQuery translates filter parameters and a resolved search into a
// Query. Predicates are the AND of everything supplied; the search-text
// and fis_no predicates are independent and may both apply.
func BuildQuery(p FilterParams, search SearchResult) Query {
	var preds []Predicate

	if sp := search.Predicate(); sp != nil {
		preds = append(preds, sp)
	}
	if p.StartDate != nil {
		preds = append(preds, CreatedAtGTE{At: StartOfDay(*p.StartDate)})
	}
	if p.EndDate != nil {
		preds = append(preds, CreatedAtLTE{At: EndOfDay(*p.EndDate)})
	}
	if fisNo := strings.TrimSpace(p.FisNo); fisNo != "" {
		preds = append(preds, FisNoILike{Substring: fisNo})
	}
	if p.MinAmount != nil {
		preds = append(preds, TotalGTE{Amount: *p.MinAmount})
	}
	if p.MaxAmount != nil {
		preds = append(preds, TotalLTE{Amount: *p.MaxAmount})
	}

	q := Query{Predicates: preds}
	if p.Limit > 0 {
		pg := Paginate(p.Page, p.Limit, 0)
		q.Offset = pg.Offset
		q.Limit = int64(p.Limit)
	}
	return q
}
