package cachestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ziadkadry99/sitecache/internal/db"
)

// SQLiteStore persists partitions in the cache_partitions and
// cache_entries tables.
type SQLiteStore struct {
	db    *db.DB
	owned bool
}

// NewSQLiteStore creates a Store backed by the given database. When owned
// is set, Close also closes the database.
func NewSQLiteStore(database *db.DB, owned bool) *SQLiteStore {
	return &SQLiteStore{db: database, owned: owned}
}

func (s *SQLiteStore) Open(ctx context.Context, name string) (Partition, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO cache_partitions (name, seq)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM cache_partitions))`, name)
	if err != nil {
		return nil, fmt.Errorf("opening partition %s: %w", name, err)
	}
	return &sqlitePartition{db: s.db, name: name}, nil
}

func (s *SQLiteStore) Has(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_partitions WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking partition %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM cache_partitions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning partition name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_partitions WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("deleting partition %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting partition %s: %w", name, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Match(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT e.method, e.url, e.status, e.header, e.body, e.stored_at
		FROM cache_entries e JOIN cache_partitions p ON p.name = e.partition
		WHERE e.cache_key = ?
		ORDER BY p.seq LIMIT 1`, key)
	return scanEntry(row)
}

func (s *SQLiteStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

type sqlitePartition struct {
	db   *db.DB
	name string
}

func (p *sqlitePartition) Name() string { return p.name }

func (p *sqlitePartition) Match(ctx context.Context, key string) (*Entry, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT method, url, status, header, body, stored_at
		FROM cache_entries WHERE partition = ? AND cache_key = ?`, p.name, key)
	return scanEntry(row)
}

func (p *sqlitePartition) Put(ctx context.Context, e *Entry) error {
	return p.PutAll(ctx, []*Entry{e})
}

func (p *sqlitePartition) PutAll(ctx context.Context, entries []*Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_partitions WHERE name = ?`, p.name).Scan(&n); err != nil {
		return fmt.Errorf("checking partition %s: %w", p.name, err)
	}
	if n == 0 {
		return ErrPartitionGone
	}

	for _, e := range entries {
		header, err := json.Marshal(e.Header)
		if err != nil {
			return fmt.Errorf("marshalling header: %w", err)
		}
		storedAt := e.StoredAt
		if storedAt.IsZero() {
			storedAt = time.Now()
		}
		body := e.Body
		if body == nil {
			body = []byte{}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cache_entries (partition, cache_key, method, url, status, header, body, stored_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(partition, cache_key) DO UPDATE SET
				method = excluded.method,
				url = excluded.url,
				status = excluded.status,
				header = excluded.header,
				body = excluded.body,
				stored_at = excluded.stored_at`,
			p.name, e.Key(), e.Method, e.URL, e.Status, string(header), body, storedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("storing %s: %w", e.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entries: %w", err)
	}
	return nil
}

func (p *sqlitePartition) Delete(ctx context.Context, key string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE partition = ? AND cache_key = ?`, p.name, key)
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting %s: %w", key, err)
	}
	return n > 0, nil
}

func (p *sqlitePartition) Entries(ctx context.Context) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT method, url, status, header, body, stored_at
		FROM cache_entries WHERE partition = ? ORDER BY rowid`, p.name)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", p.name, err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e        Entry
		header   string
		storedAt int64
	)
	if err := row.Scan(&e.Method, &e.URL, &e.Status, &header, &e.Body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning cache entry: %w", err)
	}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("unmarshalling header: %w", err)
	}
	if e.Header == nil {
		e.Header = http.Header{}
	}
	e.StoredAt = time.UnixMilli(storedAt)
	return &e, nil
}
