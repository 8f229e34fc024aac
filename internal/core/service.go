package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/fisler/internal/logging"
)

// Service is the receipt API used by the HTTP layer, the ingestion poller
// and the export CLI.
type Service struct {
	store   Store
	search  *SearchSelector
	deleter *DeleteCoordinator
	stats   *StatsCache
	now     func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStatsTTL sets how long statistics are cached.
func WithStatsTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.stats = NewStatsCache(ttl) }
}

// WithClock overrides the time source used for "today" in statistics.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires the query pipeline, delete coordinator and stats cache
// around store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		search:  NewSearchSelector(store),
		deleter: NewDeleteCoordinator(store),
		stats:   NewStatsCache(30 * time.Second),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListResult is one page of a filtered listing.
type ListResult struct {
	Records    []Fis
	Pagination Pagination
	Filters    FilterEcho
	Search     SearchStrategy
}

// ListFis resolves the search text, builds the query and reads one page.
// params.Page and params.Limit must already be clamped to >= 1.
func (s *Service) ListFis(ctx context.Context, params FilterParams) (ListResult, error) {
	sr := s.search.Resolve(ctx, params.Search)
	q := BuildQuery(params, sr)

	records, total, err := s.store.ListFis(ctx, q)
	if err != nil {
		logging.FromContext(ctx).Error("list fisler failed", "error", err)
		return ListResult{}, dbError("list fisler", err)
	}
	if records == nil {
		records = []Fis{}
	}
	normalizeAll(records)

	return ListResult{
		Records:    records,
		Pagination: Paginate(params.Page, params.Limit, total),
		Filters:    params.Echo(),
		Search:     sr.Strategy,
	}, nil
}

// GetFis returns one record.
func (s *Service) GetFis(ctx context.Context, id string) (Fis, error) {
	canon, err := canonicalID(id)
	if err != nil {
		return Fis{}, err
	}
	f, err := s.store.GetFis(ctx, canon)
	if err != nil {
		return Fis{}, dbError("get fis", err)
	}
	f.Normalize()
	return f, nil
}

// CreateFis inserts a record directly.
func (s *Service) CreateFis(ctx context.Context, in NewFis) (Fis, error) {
	NormalizeNewFis(&in)
	if in.FisNo == "" {
		return Fis{}, &ValidationError{Field: "fis_no", Message: "fis_no is required"}
	}
	f, err := s.store.InsertFis(ctx, in)
	if err != nil {
		return Fis{}, dbError("insert fis", err)
	}
	s.stats.Invalidate()
	f.Normalize()
	return f, nil
}

// IngestFis validates a workflow write-back against the ingestion schema
// and inserts it. Warnings describe advisory mismatches.
func (s *Service) IngestFis(ctx context.Context, body []byte) (Fis, []string, error) {
	in, warnings, err := ParseIngestPayload(body)
	if err != nil {
		return Fis{}, nil, err
	}
	if len(warnings) > 0 {
		logging.FromContext(ctx).Warn("ingested fis has advisory mismatches",
			"fis_no", in.FisNo,
			"warnings", warnings,
		)
	}
	f, err := s.CreateFis(ctx, in)
	if err != nil {
		return Fis{}, nil, err
	}
	return f, warnings, nil
}

// UpdateFis applies a partial update and bumps updated_at.
func (s *Service) UpdateFis(ctx context.Context, id string, u FisUpdate) (Fis, error) {
	canon, err := canonicalID(id)
	if err != nil {
		return Fis{}, err
	}
	if u.IsEmpty() {
		return Fis{}, &ValidationError{Field: "body", Message: "no fields to update"}
	}
	if u.Items != nil && *u.Items == nil {
		empty := []LineItem{}
		u.Items = &empty
	}
	f, err := s.store.UpdateFis(ctx, canon, u)
	if err != nil {
		return Fis{}, dbError("update fis", err)
	}
	s.stats.Invalidate()
	f.Normalize()
	return f, nil
}

// DeleteFis removes records through the DeleteCoordinator and invalidates
// cached statistics.
func (s *Service) DeleteFis(ctx context.Context, ids []string) (DeleteResult, error) {
	res, err := s.deleter.Delete(ctx, ids)
	if err != nil {
		return DeleteResult{}, err
	}
	s.stats.Invalidate()
	logging.FromContext(ctx).Info("fisler deleted",
		"method", res.Method,
		"requested", len(res.Requested),
		"deleted", len(res.Deleted),
	)
	return res, nil
}

// Stats returns the dashboard aggregates, computed by scanning every
// record and cached for the configured TTL.
func (s *Service) Stats(ctx context.Context) (StatsReport, error) {
	return s.stats.Get(ctx, func(ctx context.Context) (StatsReport, error) {
		records, err := s.store.AllFis(ctx)
		if err != nil {
			return StatsReport{}, dbError("load stats", err)
		}
		normalizeAll(records)
		return ComputeStats(records, s.now()), nil
	})
}

// InvalidateStats drops cached statistics.
func (s *Service) InvalidateStats() { s.stats.Invalidate() }

// CountFis returns the number of stored records.
func (s *Service) CountFis(ctx context.Context) (int64, error) {
	n, err := s.store.CountFis(ctx)
	if err != nil {
		return 0, dbError("count fisler", err)
	}
	return n, nil
}

// ExportSelection loads the selected records, newest first. An empty
// selection is ErrEmptySelection.
func (s *Service) ExportSelection(ctx context.Context, ids []string) ([]Fis, error) {
	if len(ids) == 0 {
		return nil, ErrEmptySelection
	}
	norm, err := NormalizeIDs(ids)
	if err != nil {
		return nil, err
	}
	records, _, err := s.store.ListFis(ctx, Query{Predicates: []Predicate{IDIn{IDs: norm}}})
	if err != nil {
		return nil, dbError("export fisler", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptySelection
	}
	normalizeAll(records)
	return records, nil
}

// ExportFiltered loads every record matching params, ignoring paging.
func (s *Service) ExportFiltered(ctx context.Context, params FilterParams) ([]Fis, error) {
	params.Limit = 0
	q := BuildQuery(params, s.search.Resolve(ctx, params.Search))
	records, _, err := s.store.ListFis(ctx, q)
	if err != nil {
		return nil, dbError("export fisler", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptySelection
	}
	normalizeAll(records)
	return records, nil
}

// Health is the store connectivity report.
type Health struct {
	Status  string `json:"status"`
	Records int64  `json:"records"`
}

// Health pings the store and counts records.
func (s *Service) Health(ctx context.Context) (Health, error) {
	if err := s.store.Ping(ctx); err != nil {
		return Health{Status: "unavailable"}, dbError("ping", err)
	}
	n, err := s.CountFis(ctx)
	if err != nil {
		return Health{Status: "degraded"}, err
	}
	return Health{Status: "ok", Records: n}, nil
}

func canonicalID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", &ValidationError{Field: "id", Value: id, Message: "invalid fis id"}
	}
	return u.String(), nil
}

func normalizeAll(records []Fis) {
	for i := range records {
		records[i].Normalize()
	}
}
