package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/sitecache/internal/db"
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02 15:04:05.000"

// Store provides CRUD operations for audit entries.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Log inserts a new audit entry. If entry.ID is empty a UUID is generated;
// a zero Timestamp means now.
func (s *Store) Log(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	var eventID, state, cache, detail sql.NullString
	if entry.EventID != "" {
		eventID = sql.NullString{String: entry.EventID, Valid: true}
	}
	if entry.State != "" {
		state = sql.NullString{String: entry.State, Valid: true}
	}
	if entry.Cache != "" {
		cache = sql.NullString{String: entry.Cache, Valid: true}
	}
	if entry.Detail != "" {
		detail = sql.NullString{String: entry.Detail, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, timestamp, event_id, event, action, state, cache, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Timestamp.UTC().Format(timeLayout),
		eventID,
		entry.Event,
		string(entry.Action),
		state,
		cache,
		detail,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// GetByID retrieves a single audit entry.
func (s *Store) GetByID(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, event_id, event, action, state, cache, detail
		FROM audit_entries WHERE id = ?`, id)
	return scanEntry(row)
}

// QueryFilter controls which audit entries are returned by Query.
type QueryFilter struct {
	Event  string
	Action Action
	Cache  string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// Query returns audit entries matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.Event != "" {
		clauses = append(clauses, "event = ?")
		args = append(args, filter.Event)
	}
	if filter.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Cache != "" {
		clauses = append(clauses, "cache = ?")
		args = append(args, filter.Cache)
	}
	if filter.Since != nil {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	if filter.Until != nil {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until.UTC().Format(timeLayout))
	}

	query := "SELECT id, timestamp, event_id, event, action, state, cache, detail FROM audit_entries"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// DeleteBefore removes all audit entries older than the given time.
// Returns the number of deleted rows.
func (s *Store) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM audit_entries WHERE timestamp < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting old audit entries: %w", err)
	}
	return res.RowsAffected()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e                             Entry
		ts, action                    string
		eventID, state, cache, detail sql.NullString
	)

	if err := sc.Scan(&e.ID, &ts, &eventID, &e.Event, &action, &state, &cache, &detail); err != nil {
		return nil, err
	}

	e.Action = Action(action)
	if t, err := time.Parse(timeLayout, ts); err == nil {
		e.Timestamp = t
	}
	e.EventID = eventID.String
	e.State = state.String
	e.Cache = cache.String
	e.Detail = detail.String

	return &e, nil
}
