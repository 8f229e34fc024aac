// Package database holds the receipt stores: PostgreSQL through a pgx
// connection pool, and an embedded bbolt file for local runs.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/fisler/internal/config"
	"github.com/JonMunkholm/fisler/internal/core"
)

const fisColumns = "id::text, fis_no, tarih_saat, created_at, updated_at, total::text, total_kdv::text, items::text"

// PostgresStore implements core.Store on the fisler table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*PostgresStore)(nil)

// NewPostgres opens a pool sized from cfg and verifies connectivity.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	applyPoolSettings(poolConfig, cfg)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// applyPoolSettings copies the configured pool sizes and lifetimes. Zero
// values keep pgxpool's defaults.
func applyPoolSettings(pc *pgxpool.Config, cfg config.DatabaseConfig) {
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		pc.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SearchFullText calls the search_fisler function.
func (s *PostgresStore) SearchFullText(ctx context.Context, term string) ([]string, error) {
	return s.collectIDs(ctx, "SELECT id::text FROM search_fisler($1)", term)
}

// ListFis counts and reads one window of the filtered, newest-first listing.
func (s *PostgresStore) ListFis(ctx context.Context, q core.Query) ([]core.Fis, int64, error) {
	wb, whereClause, args := q.Where()

	var total int64
	countQuery := "SELECT COUNT(*) FROM fisler" + whereClause
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count fisler: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM fisler%s ORDER BY %s", fisColumns, whereClause, core.OrderBy)
	if q.Limit > 0 {
		argIndex := wb.NextArgIndex()
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
		args = append(args, q.Limit, q.Offset)
	}

	records, err := s.queryFis(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// GetFis reads one record.
func (s *PostgresStore) GetFis(ctx context.Context, id string) (core.Fis, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+fisColumns+" FROM fisler WHERE id = $1::uuid", id)
	f, err := scanFis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Fis{}, core.ErrNotFound
	}
	return f, err
}

// InsertFis stores a new record and returns it as persisted.
func (s *PostgresStore) InsertFis(ctx context.Context, in core.NewFis) (core.Fis, error) {
	items, err := json.Marshal(in.Items)
	if err != nil {
		return core.Fis{}, fmt.Errorf("encode items: %w", err)
	}
	query := `INSERT INTO fisler (fis_no, tarih_saat, total, total_kdv, items)
		VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::jsonb)
		RETURNING ` + fisColumns
	row := s.pool.QueryRow(ctx, query, in.FisNo, in.TarihSaat, in.Total.String(), in.TotalKDV.String(), string(items))
	return scanFis(row)
}

// UpdateFis writes the non-nil fields of u and bumps updated_at.
func (s *PostgresStore) UpdateFis(ctx context.Context, id string, u core.FisUpdate) (core.Fis, error) {
	var sets []string
	var args []any
	add := func(expr string, arg any) {
		args = append(args, arg)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if u.FisNo != nil {
		add("fis_no = $%d", *u.FisNo)
	}
	if u.TarihSaat != nil {
		add("tarih_saat = $%d", *u.TarihSaat)
	}
	if u.Total != nil {
		add("total = $%d::text::numeric", u.Total.String())
	}
	if u.TotalKDV != nil {
		add("total_kdv = $%d::text::numeric", u.TotalKDV.String())
	}
	if u.Items != nil {
		items, err := json.Marshal(*u.Items)
		if err != nil {
			return core.Fis{}, fmt.Errorf("encode items: %w", err)
		}
		add("items = $%d::text::jsonb", string(items))
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE fisler SET %s WHERE id = $%d::uuid RETURNING %s",
		strings.Join(sets, ", "), len(args), fisColumns)
	f, err := scanFis(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Fis{}, core.ErrNotFound
	}
	return f, err
}

// DeleteViaProcedure calls the delete_fisler function, which returns the
// identifiers it removed.
func (s *PostgresStore) DeleteViaProcedure(ctx context.Context, ids []string) ([]string, error) {
	return s.collectIDs(ctx, "SELECT deleted::text FROM delete_fisler($1::text[]::uuid[]) AS deleted", ids)
}

// DeleteDirect removes rows with a plain DELETE.
func (s *PostgresStore) DeleteDirect(ctx context.Context, ids []string) ([]string, error) {
	return s.collectIDs(ctx, "DELETE FROM fisler WHERE id = ANY($1::text[]::uuid[]) RETURNING id::text", ids)
}

// AllFis reads every record, newest first.
func (s *PostgresStore) AllFis(ctx context.Context) ([]core.Fis, error) {
	return s.queryFis(ctx, fmt.Sprintf("SELECT %s FROM fisler ORDER BY %s", fisColumns, core.OrderBy))
}

// CountFis returns the row count.
func (s *PostgresStore) CountFis(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM fisler").Scan(&n); err != nil {
		return 0, fmt.Errorf("count fisler: %w", err)
	}
	return n, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) collectIDs(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) queryFis(ctx context.Context, query string, args ...any) ([]core.Fis, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fisler: %w", err)
	}
	defer rows.Close()

	records := []core.Fis{}
	for rows.Next() {
		f, err := scanFis(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFis(row rowScanner) (core.Fis, error) {
	var f core.Fis
	var tarih *time.Time
	var total, totalKDV, items string
	if err := row.Scan(&f.ID, &f.FisNo, &tarih, &f.CreatedAt, &f.UpdatedAt, &total, &totalKDV, &items); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Fis{}, err
		}
		return core.Fis{}, fmt.Errorf("scan fis: %w", err)
	}
	f.TarihSaat = tarih

	var err error
	if f.Total, err = decimal.NewFromString(total); err != nil {
		return core.Fis{}, fmt.Errorf("parse total %q: %w", total, err)
	}
	if f.TotalKDV, err = decimal.NewFromString(totalKDV); err != nil {
		return core.Fis{}, fmt.Errorf("parse total_kdv %q: %w", totalKDV, err)
	}
	if err := json.Unmarshal([]byte(items), &f.Items); err != nil {
		return core.Fis{}, fmt.Errorf("decode items: %w", err)
	}
	f.Normalize()
	return f, nil
}
