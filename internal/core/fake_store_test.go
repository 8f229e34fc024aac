package core

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory Store with injectable failures.
type fakeStore struct {
	mu      sync.Mutex
	records []Fis

	searchErr   error
	searchPanic bool
	procErr     error
	directErr   error
	listErr     error

	calls     map[string]int
	lastQuery Query
}

func newFakeStore(records ...Fis) *fakeStore {
	return &fakeStore{records: records, calls: map[string]int{}}
}

func (s *fakeStore) called(name string) {
	s.calls[name]++
}

func (s *fakeStore) SearchFullText(_ context.Context, term string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called("search")
	if s.searchPanic {
		panic("search_fisler exploded")
	}
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	term = strings.ToLower(term)
	var ids []string
	for _, f := range s.records {
		if strings.Contains(strings.ToLower(f.FisNo), term) {
			ids = append(ids, f.ID)
			continue
		}
		for _, it := range f.Items {
			if strings.Contains(strings.ToLower(it.Name), term) {
				ids = append(ids, f.ID)
				break
			}
		}
	}
	return ids, nil
}

func (s *fakeStore) ListFis(_ context.Context, q Query) ([]Fis, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called("list")
	s.lastQuery = q
	if s.listErr != nil {
		return nil, 0, s.listErr
	}
	var out []Fis
	for _, f := range s.records {
		if q.Match(f) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return q.Window(out), int64(len(out)), nil
}

func (s *fakeStore) GetFis(_ context.Context, id string) (Fis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.records {
		if f.ID == id {
			return f, nil
		}
	}
	return Fis{}, ErrNotFound
}

func (s *fakeStore) InsertFis(_ context.Context, in NewFis) (Fis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	f := Fis{
		ID: uuid.NewString(), FisNo: in.FisNo, TarihSaat: in.TarihSaat,
		CreatedAt: now, UpdatedAt: now, Total: in.Total, TotalKDV: in.TotalKDV, Items: in.Items,
	}
	s.records = append(s.records, f)
	return f, nil
}

func (s *fakeStore) UpdateFis(_ context.Context, id string, u FisUpdate) (Fis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			u.Apply(&s.records[i])
			s.records[i].UpdatedAt = time.Now().UTC()
			return s.records[i], nil
		}
	}
	return Fis{}, ErrNotFound
}

func (s *fakeStore) remove(ids []string) []string {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	removed := []string{}
	kept := s.records[:0]
	for _, f := range s.records {
		if want[f.ID] {
			removed = append(removed, f.ID)
			continue
		}
		kept = append(kept, f)
	}
	s.records = kept
	return removed
}

func (s *fakeStore) DeleteViaProcedure(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called("delete_proc")
	if s.procErr != nil {
		return nil, s.procErr
	}
	return s.remove(ids), nil
}

func (s *fakeStore) DeleteDirect(_ context.Context, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called("delete_direct")
	if s.directErr != nil {
		return nil, s.directErr
	}
	return s.remove(ids), nil
}

func (s *fakeStore) AllFis(_ context.Context) ([]Fis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.called("all")
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := append([]Fis{}, s.records...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) CountFis(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close() error               { return nil }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return t
}

// fixture returns six receipts spread over early January 2025.
func fixture() []Fis {
	return []Fis{
		{ID: "11111111-1111-1111-1111-111111111111", FisNo: "A-100", CreatedAt: ts("2024-12-31T23:59:59.999Z"), Total: dec("50.00"), TotalKDV: dec("8.33"),
			Items: []LineItem{{Name: "Ekmek", Quantity: dec("2"), Total: dec("50.00")}}},
		{ID: "22222222-2222-2222-2222-222222222222", FisNo: "A-101", CreatedAt: ts("2025-01-01T00:00:00Z"), Total: dec("120.50"), TotalKDV: dec("20.08"),
			Items: []LineItem{{Name: "Süt", Quantity: dec("1"), Total: dec("120.50")}}},
		{ID: "33333333-3333-3333-3333-333333333333", FisNo: "b-200", CreatedAt: ts("2025-01-01T12:30:00Z"), Total: dec("999.99"), TotalKDV: dec("166.67")},
		{ID: "44444444-4444-4444-4444-444444444444", FisNo: "B-201", CreatedAt: ts("2025-01-01T23:59:59.999Z"), Total: dec("10.00"), TotalKDV: dec("1.67"),
			Items: []LineItem{{Name: "Peynir", Quantity: dec("3"), Total: dec("10.00")}}},
		{ID: "55555555-5555-5555-5555-555555555555", FisNo: "C-300", CreatedAt: ts("2025-01-02T00:00:00Z"), Total: dec("250.00"), TotalKDV: dec("41.67")},
		{ID: "66666666-6666-6666-6666-666666666666", FisNo: "X_1%", CreatedAt: ts("2025-01-05T08:00:00Z"), Total: dec("75.25"), TotalKDV: dec("12.54")},
	}
}

func ids(records []Fis) []string {
	out := make([]string, len(records))
	for i, f := range records {
		out[i] = f.ID
	}
	return out
}
