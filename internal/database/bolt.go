package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/JonMunkholm/fisler/internal/core"
)

var fislerBucket = []byte("fisler")

// BoltStore implements core.Store on a single bbolt file. Records are JSON
// values keyed by id; filtering reuses the query predicates in memory.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ core.Store = (*BoltStore)(nil)

// BoltOption configures a BoltStore.
type BoltOption func(*BoltStore)

// WithBoltClock sets the clock used for created_at and updated_at.
func WithBoltClock(now func() time.Time) BoltOption {
	return func(b *BoltStore) { b.now = now }
}

// NewBolt opens (or creates) the database file at path.
func NewBolt(path string, opts ...BoltOption) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(fislerBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	b := &BoltStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// SearchFullText matches the term against receipt numbers and item names.
func (b *BoltStore) SearchFullText(_ context.Context, term string) ([]string, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	ids := []string{}
	err := b.each(func(f core.Fis) {
		if strings.Contains(strings.ToLower(f.FisNo), term) {
			ids = append(ids, f.ID)
			return
		}
		for _, it := range f.Items {
			if strings.Contains(strings.ToLower(it.Name), term) {
				ids = append(ids, f.ID)
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListFis filters, orders and windows every record.
func (b *BoltStore) ListFis(_ context.Context, q core.Query) ([]core.Fis, int64, error) {
	var matched []core.Fis
	err := b.each(func(f core.Fis) {
		if q.Match(f) {
			matched = append(matched, f)
		}
	})
	if err != nil {
		return nil, 0, err
	}
	sortNewestFirst(matched)
	return q.Window(matched), int64(len(matched)), nil
}

// GetFis reads one record.
func (b *BoltStore) GetFis(_ context.Context, id string) (core.Fis, error) {
	var f core.Fis
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(fislerBucket).Get([]byte(id))
		if data == nil {
			return core.ErrNotFound
		}
		return json.Unmarshal(data, &f)
	})
	if err != nil {
		return core.Fis{}, err
	}
	f.Normalize()
	return f, nil
}

// InsertFis stores a new record under a fresh id.
func (b *BoltStore) InsertFis(_ context.Context, in core.NewFis) (core.Fis, error) {
	now := b.now().UTC()
	f := core.Fis{
		ID:        uuid.NewString(),
		FisNo:     in.FisNo,
		TarihSaat: in.TarihSaat,
		CreatedAt: now,
		UpdatedAt: now,
		Total:     in.Total.Round(2),
		TotalKDV:  in.TotalKDV.Round(2),
		Items:     in.Items,
	}
	f.Normalize()
	if err := b.put(f); err != nil {
		return core.Fis{}, err
	}
	return f, nil
}

// UpdateFis applies u inside one transaction.
func (b *BoltStore) UpdateFis(_ context.Context, id string, u core.FisUpdate) (core.Fis, error) {
	var f core.Fis
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(fislerBucket)
		data := bucket.Get([]byte(id))
		if data == nil {
			return core.ErrNotFound
		}
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("unmarshaling fis: %w", err)
		}
		u.Apply(&f)
		f.Total = f.Total.Round(2)
		f.TotalKDV = f.TotalKDV.Round(2)
		f.UpdatedAt = b.now().UTC()
		f.Normalize()
		return putTx(bucket, f)
	})
	if err != nil {
		return core.Fis{}, err
	}
	return f, nil
}

// DeleteViaProcedure removes every id in one transaction and reports the
// ones that existed.
func (b *BoltStore) DeleteViaProcedure(_ context.Context, ids []string) ([]string, error) {
	deleted := []string{}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(fislerBucket)
		for _, id := range ids {
			if bucket.Get([]byte(id)) == nil {
				continue
			}
			if err := bucket.Delete([]byte(id)); err != nil {
				return err
			}
			deleted = append(deleted, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// DeleteDirect removes ids one transaction at a time.
func (b *BoltStore) DeleteDirect(_ context.Context, ids []string) ([]string, error) {
	deleted := []string{}
	for _, id := range ids {
		found := false
		err := b.db.Update(func(tx *bbolt.Tx) error {
			bucket := tx.Bucket(fislerBucket)
			if bucket.Get([]byte(id)) == nil {
				return nil
			}
			found = true
			return bucket.Delete([]byte(id))
		})
		if err != nil {
			return deleted, err
		}
		if found {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

// AllFis reads every record, newest first.
func (b *BoltStore) AllFis(_ context.Context) ([]core.Fis, error) {
	records := []core.Fis{}
	if err := b.each(func(f core.Fis) { records = append(records, f) }); err != nil {
		return nil, err
	}
	sortNewestFirst(records)
	return records, nil
}

// CountFis returns the number of keys in the bucket.
func (b *BoltStore) CountFis(_ context.Context) (int64, error) {
	var n int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = int64(tx.Bucket(fislerBucket).Stats().KeyN)
		return nil
	})
	return n, err
}

// Ping checks the bucket is reachable.
func (b *BoltStore) Ping(_ context.Context) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(fislerBucket) == nil {
			return errors.New("bucket fisler does not exist")
		}
		return nil
	})
}

// Close closes the database file.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

func (b *BoltStore) put(f core.Fis) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putTx(tx.Bucket(fislerBucket), f)
	})
}

func putTx(bucket *bbolt.Bucket, f core.Fis) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling fis: %w", err)
	}
	return bucket.Put([]byte(f.ID), data)
}

func (b *BoltStore) each(fn func(core.Fis)) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(fislerBucket).ForEach(func(_, v []byte) error {
			var f core.Fis
			if err := json.Unmarshal(v, &f); err != nil {
				return fmt.Errorf("unmarshaling fis: %w", err)
			}
			f.Normalize()
			fn(f)
			return nil
		})
	})
}

func sortNewestFirst(records []core.Fis) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
