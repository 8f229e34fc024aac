package core

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RecentCount is how many of the newest records a stats report carries.
const RecentCount = 5

// Stats are the dashboard aggregates. Amounts are rounded to 2 places.
type Stats struct {
	TotalRecords  int64           `json:"total_records"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalKDV      decimal.Decimal `json:"total_kdv"`
	AverageAmount decimal.Decimal `json:"average_amount"`
	TodayRecords  int64           `json:"today_records"`
}

// StatsReport is Stats plus the newest records.
type StatsReport struct {
	Stats  Stats `json:"stats"`
	Recent []Fis `json:"recent_fisler"`
}

// ComputeStats scans records (newest first). "Today" is the UTC calendar
// day of now, compared against created_at.
func ComputeStats(records []Fis, now time.Time) StatsReport {
	var total, kdv decimal.Decimal
	var today int64
	ty, tm, td := now.UTC().Date()

	for _, f := range records {
		total = total.Add(f.Total)
		kdv = kdv.Add(f.TotalKDV)
		y, m, d := f.CreatedAt.UTC().Date()
		if y == ty && m == tm && d == td {
			today++
		}
	}

	count := int64(len(records))
	avg := decimal.Zero
	if count > 0 {
		avg = total.Div(decimal.NewFromInt(count))
	}

	recent := records
	if len(recent) > RecentCount {
		recent = recent[:RecentCount]
	}
	recent = append([]Fis{}, recent...)

	return StatsReport{
		Stats: Stats{
			TotalRecords:  count,
			TotalAmount:   total.Round(2),
			TotalKDV:      kdv.Round(2),
			AverageAmount: avg.Round(2),
			TodayRecords:  today,
		},
		Recent: recent,
	}
}

// StatsCache memoizes a StatsReport for a TTL. Deletes, inserts and poller
// refetches call Invalidate. A zero TTL disables caching.
type StatsCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	report  *StatsReport
	expires time.Time
	gen     uint64
}

func NewStatsCache(ttl time.Duration) *StatsCache {
	return &StatsCache{ttl: ttl, now: time.Now}
}

// Get returns the cached report or loads a fresh one. Load errors are not
// cached.
func (c *StatsCache) Get(ctx context.Context, load func(context.Context) (StatsReport, error)) (StatsReport, error) {
	c.mu.Lock()
	if c.report != nil && c.now().Before(c.expires) {
		r := *c.report
		c.mu.Unlock()
		return r, nil
	}
	gen := c.gen
	c.mu.Unlock()

	r, err := load(ctx)
	if err != nil {
		return StatsReport{}, err
	}

	c.mu.Lock()
	// An Invalidate during load means r may already be stale.
	if c.ttl > 0 && gen == c.gen {
		c.report = &r
		c.expires = c.now().Add(c.ttl)
	}
	c.mu.Unlock()
	return r, nil
}

// Invalidate drops the cached report.
func (c *StatsCache) Invalidate() {
	c.mu.Lock()
	c.report = nil
	c.gen++
	c.mu.Unlock()
}
