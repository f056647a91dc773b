package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrBrokerUnavailable = errors.New("broker unavailable")

// Redis adapts Redis Streams to the operations the publisher, the consumer
// loop and the dead-letter tooling need. Every error it returns wraps
// ErrBrokerUnavailable.
type Redis struct {
	rdb redis.Cmdable
}

func NewRedis(rdb redis.Cmdable) *Redis {
	return &Redis{rdb: rdb}
}

func brokerErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBrokerUnavailable, err)
}

// Append adds an entry, trimming the stream to roughly maxLen entries.
// maxLen <= 0 disables trimming.
func (r *Redis) Append(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	id, err := r.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", brokerErr("xadd "+stream, err)
	}
	return id, nil
}

// EnsureGroup creates the group with its cursor at the stream tail so
// pre-existing history is never replayed. An existing group is left alone.
func (r *Redis) EnsureGroup(ctx context.Context, stream, group string) error {
	err := r.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return brokerErr("xgroup create "+stream+"/"+group, err)
	}
	return nil
}

// ReadGroup blocks up to block for entries never delivered to the group.
func (r *Redis) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	if block <= 0 {
		block = -1
	}
	res, err := r.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, brokerErr("xreadgroup "+stream, err)
	}
	var entries []Entry
	for _, s := range res {
		entries = append(entries, toEntries(s.Messages)...)
	}
	return entries, nil
}

// AutoClaim transfers pending entries idle for at least minIdle to consumer.
// The returned cursor is "0-0" once the pending list has been scanned.
func (r *Redis) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]Entry, string, error) {
	msgs, next, err := r.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, "", brokerErr("xautoclaim "+stream, err)
	}
	return toEntries(msgs), next, nil
}

func (r *Redis) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if err := r.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return brokerErr("xack "+stream, err)
	}
	return nil
}

// PendingCount is the number of delivered but unacknowledged entries.
func (r *Redis) PendingCount(ctx context.Context, stream, group string) (int64, error) {
	p, err := r.rdb.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, brokerErr("xpending "+stream, err)
	}
	return p.Count, nil
}

// PendingIDs lists up to count pending sequence ids for the group.
func (r *Redis) PendingIDs(ctx context.Context, stream, group string, count int64) ([]string, error) {
	res, err := r.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, brokerErr("xpending "+stream, err)
	}
	ids := make([]string, 0, len(res))
	for _, p := range res {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// Latest returns up to count entries, newest first.
func (r *Redis) Latest(ctx context.Context, stream string, count int64) ([]Entry, error) {
	msgs, err := r.rdb.XRevRangeN(ctx, stream, "+", "-", count).Result()
	if err != nil {
		return nil, brokerErr("xrevrange "+stream, err)
	}
	return toEntries(msgs), nil
}

// Get loads a single entry by sequence id.
func (r *Redis) Get(ctx context.Context, stream, id string) (Entry, bool, error) {
	msgs, err := r.rdb.XRangeN(ctx, stream, id, id, 1).Result()
	if err != nil {
		return Entry{}, false, brokerErr("xrange "+stream, err)
	}
	if len(msgs) == 0 {
		return Entry{}, false, nil
	}
	return Entry{ID: msgs[0].ID, Values: msgs[0].Values}, true, nil
}

func (r *Redis) Delete(ctx context.Context, stream string, ids ...string) error {
	if err := r.rdb.XDel(ctx, stream, ids...).Err(); err != nil {
		return brokerErr("xdel "+stream, err)
	}
	return nil
}

func (r *Redis) Len(ctx context.Context, stream string) (int64, error) {
	n, err := r.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, brokerErr("xlen "+stream, err)
	}
	return n, nil
}

// Touch writes a short-lived key, used for consumer heartbeats.
func (r *Redis) Touch(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return brokerErr("set "+key, err)
	}
	return nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, Entry{ID: m.ID, Values: m.Values})
	}
	return entries
}
