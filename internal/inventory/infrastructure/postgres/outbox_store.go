package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/inventory-cqrs/pkg/outbox"
	"github.com/dmehra2102/inventory-cqrs/pkg/uow"
)

type OutboxStore struct {
	log         *slog.Logger
	pool        *pgxpool.Pool
	maxAttempts int
}

func NewOutboxStore(log *slog.Logger, pool *pgxpool.Pool, maxAttempts int) *OutboxStore {
	return &OutboxStore{log: log, pool: pool, maxAttempts: maxAttempts}
}

// Insert writes a pending row, inside the caller's transaction when ctx has one.
func (s *OutboxStore) Insert(ctx context.Context, ev outbox.Event) error {
	db := uow.ExecutorFrom(ctx, s.pool)
	headers := ev.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := db.Exec(ctx, `INSERT INTO outbox (id, aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		ev.ID, ev.AggregateType, ev.AggregateID, ev.Type, ev.Payload, headers, ev.Traceparent, outbox.StatusPending)
	if err != nil {
		return fmt.Errorf("insert outbox %s: %w", ev.ID, err)
	}
	return nil
}

// LockBatch claims pending rows and rows whose lease ran out, oldest first.
func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id::text, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at, retry_count
		FROM outbox
		WHERE status = $2
		   OR (status = $3 AND lease_until < now())
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize, outbox.StatusPending, outbox.StatusInProgress)
	if err != nil {
		return nil, err
	}

	var events []outbox.Event
	for rows.Next() {
		var ev outbox.Event
		var headers map[string]string
		if err := rows.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.Type, &ev.Payload, &headers, &ev.Traceparent, &ev.CreatedAt, &ev.Attempts); err != nil {
			rows.Close()
			return nil, err
		}
		ev.Headers = headers
		ev.Status = outbox.StatusInProgress
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}

	_, err = tx.Exec(ctx, `UPDATE outbox SET status=$4, relay_id=$1, lease_until=now() + $2::interval WHERE id::text = ANY($3)`, relayID, lease, ids, outbox.StatusInProgress)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []string) error {
	ct, err := s.pool.Exec(ctx, `UPDATE outbox SET status=$2, lease_until=NULL, last_error=NULL WHERE id::text = ANY($1)`, ids, outbox.StatusSent)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errors.New("no rows updated")
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, errMsg string, final bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET status = CASE WHEN $3 OR retry_count + 1 >= $4 THEN $5 ELSE $6 END,
		    last_error = $2,
		    retry_count = retry_count + 1,
		    lease_until = NULL
		WHERE id::text = $1`, id, errMsg, final, s.maxAttempts, outbox.StatusFailed, outbox.StatusPending)
	if err != nil {
		return err
	}
	if final {
		s.log.Error("outbox row failed permanently", "event_id", id, "err", errMsg)
	}
	return nil
}

func (s *OutboxStore) ExtendLease(ctx context.Context, relayID string, ids []string, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, `UPDATE outbox SET lease_until=now() + $1::interval WHERE id::text = ANY($2) AND relay_id=$3`, lease, ids, relayID)
	return err
}

// Pending counts rows not yet delivered.
func (s *OutboxStore) Pending(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM outbox WHERE status IN ($1,$2)`, outbox.StatusPending, outbox.StatusInProgress).Scan(&n)
	return n, err
}
