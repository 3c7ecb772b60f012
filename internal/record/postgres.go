package record

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the conversations table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
//
// The column order mirrors the record layout: id, transcript, timestamp,
// summary, criticality, is_spam, caller, location.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id          TEXT PRIMARY KEY,
    transcript  TEXT NOT NULL DEFAULT '',
    timestamp   TIMESTAMPTZ NOT NULL,
    summary     TEXT NOT NULL,
    criticality TEXT NOT NULL,
    is_spam     BOOLEAN NOT NULL DEFAULT TRUE,
    caller      TEXT NOT NULL DEFAULT 'Unknown',
    location    TEXT NOT NULL DEFAULT 'Unknown'
);
CREATE INDEX IF NOT EXISTS idx_conversations_timestamp ON conversations(timestamp DESC);
`

// selectColumns is the shared projection used by all read queries.
const selectColumns = `id, transcript, timestamp, summary, criticality, is_spam, caller, location`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// conversations table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("record: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("record: ping: %w", err)
	}
	return nil
}

// Insert implements [Store.Insert].
func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	const query = `
		INSERT INTO conversations (
			id, transcript, timestamp, summary, criticality, is_spam, caller, location
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err := s.db.Exec(ctx, query,
		rec.ID, rec.Transcript, rec.Timestamp, rec.Summary,
		string(rec.Criticality), rec.IsSpam, rec.Caller, rec.Location,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("record: record with id %q already exists", rec.ID)
		}
		return fmt.Errorf("record: insert: %w", err)
	}
	return nil
}

// QueryAll implements [Store.QueryAll].
func (s *PostgresStore) QueryAll(ctx context.Context) ([]Record, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM conversations
		ORDER BY timestamp DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("record: query all: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// QueryByWindow implements [Store.QueryByWindow].
func (s *PostgresStore) QueryByWindow(ctx context.Context, start, end time.Time) ([]Record, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM conversations
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp DESC`

	rows, err := s.db.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("record: query window: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// QueryByID implements [Store.QueryByID].
func (s *PostgresStore) QueryByID(ctx context.Context, id string) (*Record, error) {
	const query = `
		SELECT ` + selectColumns + `
		FROM conversations
		WHERE id = $1`

	var rec Record
	var criticality string
	err := s.db.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Transcript, &rec.Timestamp, &rec.Summary,
		&criticality, &rec.IsSpam, &rec.Caller, &rec.Location,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("record: query %q: %w", id, err)
	}
	rec.Criticality = Criticality(criticality)
	return &rec, nil
}

// scanRecords drains rows into a slice of records.
func scanRecords(rows pgx.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		var rec Record
		var criticality string
		if err := rows.Scan(
			&rec.ID, &rec.Transcript, &rec.Timestamp, &rec.Summary,
			&criticality, &rec.IsSpam, &rec.Caller, &rec.Location,
		); err != nil {
			return nil, fmt.Errorf("record: scan: %w", err)
		}
		rec.Criticality = Criticality(criticality)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("record: rows: %w", err)
	}
	return recs, nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
