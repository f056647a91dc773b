// Package idempotency records processed event ids next to the projection
// writes they guard, so a redelivered envelope is applied at most once.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the part of pgx.Tx the guard needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Guard struct{}

func NewGuard() *Guard { return &Guard{} }

// Seen reports whether eventID already has a processed record.
func (g *Guard) Seen(ctx context.Context, db DB, eventID string) (bool, error) {
	var one int
	err := db.QueryRow(ctx, `SELECT 1 FROM processed_events WHERE event_id = $1`, eventID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup processed event %s: %w", eventID, err)
	}
	return true, nil
}

// Mark inserts the processed record. It returns false when another
// transaction recorded the same id first.
func (g *Guard) Mark(ctx context.Context, db DB, eventID, eventType string) (bool, error) {
	tag, err := db.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type, processed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (event_id) DO NOTHING`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("insert processed event %s: %w", eventID, err)
	}
	return tag.RowsAffected() > 0, nil
}
