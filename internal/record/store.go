package record

import (
	"context"
	"time"
)

// Store provides append-only persistence for classified call records.
// Implementations must be safe for concurrent use. There are no updates or
// deletes: a record is written exactly once and read many times.
type Store interface {
	// Insert persists a new record as a single atomic write. The record is
	// validated before insertion. Returns an error if a record with the same
	// ID already exists or if the underlying write fails.
	Insert(ctx context.Context, rec *Record) error

	// QueryAll returns every record ordered by timestamp, newest first.
	QueryAll(ctx context.Context) ([]Record, error)

	// QueryByWindow returns records whose timestamp lies in [start, end),
	// ordered by timestamp, newest first.
	QueryByWindow(ctx context.Context, start, end time.Time) ([]Record, error)

	// QueryByID retrieves a single record. Returns (nil, nil) if no record
	// with the given ID exists.
	QueryByID(ctx context.Context, id string) (*Record, error)
}
