package core

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Page size defaults.
const (
	DefaultPage      = 1
	DefaultAPILimit  = 10
	DefaultViewLimit = 20
	MaxLimit         = 100

	// MaxPage keeps (page-1)*limit inside a Postgres bigint OFFSET.
	MaxPage = math.MaxInt32
)

const dateLayout = "2006-01-02"

// FilterParams is the user-supplied filter set for a listing.
type FilterParams struct {
	Search    string
	FisNo     string
	StartDate *time.Time
	EndDate   *time.Time
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Page      int
	Limit     int
}

// FilterEcho is the applied-filter block echoed in listing responses.
type FilterEcho struct {
	Search    *string `json:"search"`
	StartDate *string `json:"startDate"`
	EndDate   *string `json:"endDate"`
	FisNo     *string `json:"fisNo"`
	MinAmount *string `json:"minAmount"`
	MaxAmount *string `json:"maxAmount"`
}

// Echo renders the applied filters; absent filters are null.
func (p FilterParams) Echo() FilterEcho {
	str := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	date := func(t *time.Time) *string {
		if t == nil {
			return nil
		}
		s := t.Format(dateLayout)
		return &s
	}
	amount := func(d *decimal.Decimal) *string {
		if d == nil {
			return nil
		}
		s := d.String()
		return &s
	}
	return FilterEcho{
		Search:    str(p.Search),
		StartDate: date(p.StartDate),
		EndDate:   date(p.EndDate),
		FisNo:     str(p.FisNo),
		MinAmount: amount(p.MinAmount),
		MaxAmount: amount(p.MaxAmount),
	}
}

// ParseFilterParams reads filter parameters from a query string. Page and
// limit are clamped to [1, MaxPage] and [1, MaxLimit]; malformed dates or
// amounts return a *ValidationError.
func ParseFilterParams(v url.Values, defaultLimit int) (FilterParams, error) {
	p := FilterParams{
		Search: strings.TrimSpace(v.Get("search")),
		FisNo:  strings.TrimSpace(v.Get("fisNo")),
		Page:   DefaultPage,
		Limit:  defaultLimit,
	}

	var err error
	if p.StartDate, err = parseDateParam("startDate", v.Get("startDate")); err != nil {
		return p, err
	}
	if p.EndDate, err = parseDateParam("endDate", v.Get("endDate")); err != nil {
		return p, err
	}
	if p.MinAmount, err = parseAmountParam("minAmount", v.Get("minAmount")); err != nil {
		return p, err
	}
	if p.MaxAmount, err = parseAmountParam("maxAmount", v.Get("maxAmount")); err != nil {
		return p, err
	}

	if s := v.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return p, &ValidationError{Field: "page", Value: s, Message: "invalid number"}
		}
		p.Page = n
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return p, &ValidationError{Field: "limit", Value: s, Message: "invalid number"}
		}
		p.Limit = n
	}

	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.Limit < 1 {
		p.Limit = defaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p, nil
}

// ParseDate accepts YYYY-MM-DD (as a UTC calendar day) or RFC 3339.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseDateParam(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return nil, &ValidationError{Field: field, Value: s, Message: "invalid date, use YYYY-MM-DD"}
	}
	return &t, nil
}

func parseAmountParam(field, s string) (*decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, &ValidationError{Field: field, Value: s, Message: "invalid number"}
	}
	return &d, nil
}
