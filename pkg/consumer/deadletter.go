package consumer

import (
	"context"
	"log/slog"

	"github.com/dmehra2102/inventory-cqrs/pkg/stream"
)

// Dead-letter entry fields.
const (
	FieldOrigID  = "orig_id"
	FieldType    = "type"
	FieldPayload = "payload"
	FieldError   = "error"

	maxErrorLen = 500
)

type Counter interface {
	Key(stream, group, entryID string) string
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type DeadLetterBroker interface {
	Append(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// DeadLetterController decides what happens to an entry whose dispatch failed:
// leave it pending for another attempt, or quarantine it once it has failed
// more than maxRetries times.
type DeadLetterController struct {
	log        *slog.Logger
	counter    Counter
	broker     DeadLetterBroker
	stream     string
	group      string
	dlq        string
	maxRetries int64
}

func NewDeadLetterController(log *slog.Logger, counter Counter, broker DeadLetterBroker, stream, group, dlq string, maxRetries int64) *DeadLetterController {
	return &DeadLetterController{
		log:        log,
		counter:    counter,
		broker:     broker,
		stream:     stream,
		group:      group,
		dlq:        dlq,
		maxRetries: maxRetries,
	}
}

// OnFailure returns an error only when the broker could not take the
// dead-letter append or the ack; the entry then stays pending.
func (c *DeadLetterController) OnFailure(ctx context.Context, entry stream.Entry, cause error) error {
	key := c.counter.Key(c.stream, c.group, entry.ID)
	attempts, err := c.counter.Incr(ctx, key)
	if err != nil {
		// A counter we cannot bump would otherwise redeliver forever.
		c.log.Warn("retry counter unavailable, dead-lettering", "stream_id", entry.ID, "err", err)
		attempts = c.maxRetries + 1
	}

	if attempts <= c.maxRetries {
		entriesRetried.Inc()
		c.log.Info("entry left pending for retry", "stream_id", entry.ID, "attempt", attempts, "max", c.maxRetries)
		return nil
	}

	values := map[string]any{
		FieldOrigID:  entry.ID,
		FieldType:    stream.StringField(entry.Values, stream.FieldType),
		FieldPayload: stream.StringField(entry.Values, stream.FieldPayload),
		FieldError:   truncate(cause.Error(), maxErrorLen),
	}
	dlqID, err := c.broker.Append(ctx, c.dlq, 0, values)
	if err != nil {
		return err
	}
	if err := c.broker.Ack(ctx, c.stream, c.group, entry.ID); err != nil {
		return err
	}
	if err := c.counter.Reset(ctx, key); err != nil {
		c.log.Warn("retry counter reset failed", "key", key, "err", err)
	}

	entriesDeadLettered.Inc()
	c.log.Error("entry dead-lettered",
		"stream_id", entry.ID,
		"dlq_id", dlqID,
		"type", values[FieldType],
		"attempts", attempts,
		"err", cause,
	)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
