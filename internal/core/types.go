package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts are rendered as JSON numbers, matching the persisted contract.
	decimal.MarshalJSONWithoutQuotes = true
}

// LineItem is one product or service row printed on a receipt.
// Absent numeric fields decode to zero.
type LineItem struct {
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	KDV       decimal.Decimal `json:"kdv"`
	Total     decimal.Decimal `json:"total"`
}

// Fis is a stored receipt record.
type Fis struct {
	ID        string          `json:"id"`
	FisNo     string          `json:"fis_no"`
	TarihSaat *time.Time      `json:"tarih_saat"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Total     decimal.Decimal `json:"total"`
	TotalKDV  decimal.Decimal `json:"total_kdv"`
	Items     []LineItem      `json:"items"`
}

// EffectiveDate is the issuance timestamp, or the creation timestamp when
// the receipt carried none.
func (f Fis) EffectiveDate() time.Time {
	if f.TarihSaat != nil && !f.TarihSaat.IsZero() {
		return *f.TarihSaat
	}
	return f.CreatedAt
}

// Normalize replaces a nil item list with an empty one so JSON output is
// always an array.
func (f *Fis) Normalize() {
	if f.Items == nil {
		f.Items = []LineItem{}
	}
}

// NewFis is the input for a direct insert.
type NewFis struct {
	FisNo     string          `json:"fis_no"`
	TarihSaat *time.Time      `json:"tarih_saat"`
	Total     decimal.Decimal `json:"total"`
	TotalKDV  decimal.Decimal `json:"total_kdv"`
	Items     []LineItem      `json:"items"`
}

// FisUpdate carries a partial update. Nil fields are left untouched;
// updated_at is always bumped.
type FisUpdate struct {
	FisNo     *string          `json:"fis_no,omitempty"`
	TarihSaat *time.Time       `json:"tarih_saat,omitempty"`
	Total     *decimal.Decimal `json:"total,omitempty"`
	TotalKDV  *decimal.Decimal `json:"total_kdv,omitempty"`
	Items     *[]LineItem      `json:"items,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u FisUpdate) IsEmpty() bool {
	return u.FisNo == nil && u.TarihSaat == nil && u.Total == nil && u.TotalKDV == nil && u.Items == nil
}

// Apply copies the set fields onto f.
func (u FisUpdate) Apply(f *Fis) {
	if u.FisNo != nil {
		f.FisNo = *u.FisNo
	}
	if u.TarihSaat != nil {
		t := *u.TarihSaat
		f.TarihSaat = &t
	}
	if u.Total != nil {
		f.Total = *u.Total
	}
	if u.TotalKDV != nil {
		f.TotalKDV = *u.TotalKDV
	}
	if u.Items != nil {
		f.Items = append([]LineItem{}, (*u.Items)...)
	}
}

// FullTextSearcher runs the server-side search procedure.
type FullTextSearcher interface {
	SearchFullText(ctx context.Context, term string) ([]string, error)
}

// Deleter exposes both delete paths used by the DeleteCoordinator.
type Deleter interface {
	// DeleteViaProcedure calls the privileged batch-delete procedure.
	DeleteViaProcedure(ctx context.Context, ids []string) ([]string, error)
	// DeleteDirect deletes by "id is one of" and returns the removed ids.
	DeleteDirect(ctx context.Context, ids []string) ([]string, error)
}

// Store is the receipt collection. Implementations live in internal/database.
type Store interface {
	FullTextSearcher
	Deleter

	// ListFis returns the page selected by q plus the total match count.
	ListFis(ctx context.Context, q Query) ([]Fis, int64, error)
	// GetFis returns ErrNotFound when id does not exist.
	GetFis(ctx context.Context, id string) (Fis, error)
	InsertFis(ctx context.Context, in NewFis) (Fis, error)
	// UpdateFis returns ErrNotFound when id does not exist.
	UpdateFis(ctx context.Context, id string, u FisUpdate) (Fis, error)
	// AllFis returns every record, newest first.
	AllFis(ctx context.Context) ([]Fis, error)
	CountFis(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
