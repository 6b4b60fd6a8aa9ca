/**
 * @description
 * PostgreSQL backend for the durable ordered map. All regions share one table and are
 * told apart by the region column; bytea comparison gives the byte-wise key order.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: pool, queries and row scanning.
 */

package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv_entries (
	region SMALLINT NOT NULL,
	key    BYTEA    NOT NULL,
	value  BYTEA    NOT NULL,
	PRIMARY KEY (region, key)
)`

// PostgresStore is a Store whose maps live in the kv_entries table.
type PostgresStore struct {
	db *pgxpool.Pool

	mu      sync.Mutex
	regions regionRegistry
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, regions: regionRegistry{}}
}

// EnsureSchema creates the backing table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create kv_entries: %w", err)
	}
	return nil
}

func (s *PostgresStore) Open(_ context.Context, region Region) (Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.regions.claim(region); err != nil {
		return nil, err
	}
	return &postgresMap{db: s.db, region: int16(region)}, nil
}

type postgresMap struct {
	db     *pgxpool.Pool
	region int16
}

func (m *postgresMap) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := m.db.QueryRow(ctx, `SELECT value FROM kv_entries WHERE region = $1 AND key = $2`, m.region, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv get region=%d: %w", m.region, err)
	}
	return value, true, nil
}

func (m *postgresMap) Insert(ctx context.Context, key, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := m.db.Exec(ctx, `
		INSERT INTO kv_entries (region, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (region, key) DO UPDATE SET value = EXCLUDED.value`,
		m.region, key, value)
	if err != nil {
		return fmt.Errorf("kv insert region=%d: %w", m.region, err)
	}
	return nil
}

func (m *postgresMap) Remove(ctx context.Context, key []byte) ([]byte, bool, error) {
	var value []byte
	err := m.db.QueryRow(ctx, `DELETE FROM kv_entries WHERE region = $1 AND key = $2 RETURNING value`, m.region, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("kv remove region=%d: %w", m.region, err)
	}
	return value, true, nil
}

// rangeQuery builds the WHERE clause for [lo, hi). Empty lower bounds are skipped
// because every key is >= the empty string.
func (m *postgresMap) rangeQuery(lo, hi []byte, order string, limit int) (string, []any) {
	query := `SELECT key, value FROM kv_entries WHERE region = $1`
	args := []any{m.region}
	if len(lo) > 0 {
		args = append(args, lo)
		query += fmt.Sprintf(" AND key >= $%d", len(args))
	}
	if hi != nil {
		args = append(args, hi)
		query += fmt.Sprintf(" AND key < $%d", len(args))
	}
	query += " ORDER BY key " + order
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return query, args
}

func (m *postgresMap) Range(ctx context.Context, lo, hi []byte) ([]Entry, error) {
	query, args := m.rangeQuery(lo, hi, "ASC", 0)
	rows, err := m.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("kv range region=%d: %w", m.region, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Key, &entry.Value); err != nil {
			return nil, fmt.Errorf("kv range scan region=%d: %w", m.region, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv range region=%d: %w", m.region, err)
	}
	return entries, nil
}

func (m *postgresMap) Last(ctx context.Context) (Entry, bool, error) {
	return m.LastInRange(ctx, nil, nil)
}

func (m *postgresMap) LastInRange(ctx context.Context, lo, hi []byte) (Entry, bool, error) {
	query, args := m.rangeQuery(lo, hi, "DESC", 1)
	var entry Entry
	err := m.db.QueryRow(ctx, query, args...).Scan(&entry.Key, &entry.Value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("kv last region=%d: %w", m.region, err)
	}
	return entry, true, nil
}

func (m *postgresMap) Clear(ctx context.Context) error {
	if _, err := m.db.Exec(ctx, `DELETE FROM kv_entries WHERE region = $1`, m.region); err != nil {
		return fmt.Errorf("kv clear region=%d: %w", m.region, err)
	}
	return nil
}
