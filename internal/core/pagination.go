package core

import "math"

// Pagination is the page metadata for a listing.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int64 `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`

	// Offset and RangeEnd bound the inclusive row window.
	Offset   int64 `json:"-"`
	RangeEnd int64 `json:"-"`
}

// Paginate derives the row window and page metadata. It does not clamp:
// callers must pass page >= 1 and limit >= 1. A page past the end is not an
// error; it selects an empty window with HasNext false.
func Paginate(page, limit int, total int64) Pagination {
	p := Pagination{
		Page:  page,
		Limit: limit,
		Total: total,
	}
	p.Offset = offset(page, limit)
	p.RangeEnd = p.Offset + int64(limit) - 1
	if total > 0 && limit > 0 {
		p.TotalPages = (total + int64(limit) - 1) / int64(limit)
	}
	p.HasNext = int64(page) < p.TotalPages
	p.HasPrev = page > 1
	return p
}

// offset is (page-1)*limit, saturating so the window end never overflows.
func offset(page, limit int) int64 {
	if page <= 1 || limit <= 0 {
		return 0
	}
	l := int64(limit)
	if int64(page-1) > (math.MaxInt64-l)/l {
		return math.MaxInt64 - l
	}
	return int64(page-1) * l
}
