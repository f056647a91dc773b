// Package consumer runs the consumer-group loop over a durable stream:
// read new entries, dispatch them, reclaim entries abandoned by dead
// consumers, and hand failures to a FailureHandler.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dmehra2102/inventory-cqrs/pkg/stream"
)

const reclaimStart = "0-0"

var tracer = otel.Tracer("stream-consumer")

type Broker interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]stream.Entry, error)
	AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, start string, count int64) ([]stream.Entry, string, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Touch(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, env stream.Envelope) error
}

// FailureHandler is told about every failed dispatch. A non-nil return means
// the broker is unreachable and aborts the current cycle.
type FailureHandler interface {
	OnFailure(ctx context.Context, entry stream.Entry, cause error) error
}

type Config struct {
	Stream       string
	Group        string
	Consumer     string
	BatchSize    int64
	Block        time.Duration
	ReclaimIdle  time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	HeartbeatTTL time.Duration
}

type Consumer struct {
	log        *slog.Logger
	broker     Broker
	dispatcher Dispatcher
	failures   FailureHandler
	cfg        Config

	backoff  *backoff.ExponentialBackOff
	sleep    func(ctx context.Context, d time.Duration) bool
	lastBeat atomic.Int64
}

func New(log *slog.Logger, broker Broker, dispatcher Dispatcher, failures FailureHandler, cfg Config) *Consumer {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = cfg.BackoffBase
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = cfg.BackoffMax
	b.Reset()

	return &Consumer{
		log:        log.With("stream", cfg.Stream, "group", cfg.Group, "consumer", cfg.Consumer),
		broker:     broker,
		dispatcher: dispatcher,
		failures:   failures,
		cfg:        cfg,
		backoff:    b,
		sleep:      sleepCtx,
	}
}

// Run bootstraps the group and polls until ctx is cancelled. Broker failures
// never end the loop; they back off exponentially and reset after the next
// clean cycle.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.broker.EnsureGroup(ctx, c.cfg.Stream, c.cfg.Group)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		d := c.backoff.NextBackOff()
		c.log.Error("consumer group bootstrap failed", "err", err, "backoff", d)
		if !c.sleep(ctx, d) {
			return nil
		}
	}
	c.backoff.Reset()
	c.log.Info("consumer started")

	for {
		if ctx.Err() != nil {
			c.log.Info("consumer stopped")
			return nil
		}
		if err := c.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				c.log.Info("consumer stopped")
				return nil
			}
			brokerErrors.Inc()
			d := c.backoff.NextBackOff()
			c.log.Error("consumer cycle failed", "err", err, "backoff", d)
			if !c.sleep(ctx, d) {
				c.log.Info("consumer stopped")
				return nil
			}
			continue
		}
		c.backoff.Reset()
	}
}

// RunOnce performs a single poll cycle: new entries, then reclaim, then the
// heartbeat.
func (c *Consumer) RunOnce(ctx context.Context) error {
	entries, err := c.broker.ReadGroup(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer, c.cfg.BatchSize, c.cfg.Block)
	if err != nil {
		return fmt.Errorf("read new entries: %w", err)
	}
	for _, e := range entries {
		if err := c.handle(ctx, e); err != nil {
			return err
		}
	}

	if err := c.reclaim(ctx); err != nil {
		return err
	}

	c.heartbeat(ctx)
	return nil
}

func (c *Consumer) reclaim(ctx context.Context) error {
	start := reclaimStart
	for {
		entries, next, err := c.broker.AutoClaim(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer, c.cfg.ReclaimIdle, start, c.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("reclaim pending entries: %w", err)
		}
		for _, e := range entries {
			entriesReclaimed.Inc()
			c.log.Info("entry reclaimed", "stream_id", e.ID)
			if err := c.handle(ctx, e); err != nil {
				return err
			}
		}
		// An empty page does not end the scan: XAUTOCLAIM inspects a bounded
		// slice of the pending list per call.
		if next == "" || next == reclaimStart {
			return nil
		}
		start = next
	}
}

// handle returns an error only for broker failures. Dispatch failures are
// routed to the FailureHandler and the entry stays pending unless it says
// otherwise.
func (c *Consumer) handle(ctx context.Context, e stream.Entry) error {
	if e.Values == nil {
		// Trimmed from the stream while still pending.
		c.log.Warn("pending entry no longer in stream, acknowledging", "stream_id", e.ID)
		return c.ack(ctx, e.ID)
	}

	start := time.Now()
	err := c.dispatch(ctx, e)
	dispatchDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		dispatchFailures.Inc()
		c.log.Warn("dispatch failed", "stream_id", e.ID, "type", stream.StringField(e.Values, stream.FieldType), "err", err)
		if ferr := c.failures.OnFailure(ctx, e, err); ferr != nil {
			return fmt.Errorf("handle failure of %s: %w", e.ID, ferr)
		}
		return nil
	}

	if err := c.ack(ctx, e.ID); err != nil {
		return err
	}
	entriesProcessed.Inc()
	return nil
}

func (c *Consumer) dispatch(ctx context.Context, e stream.Entry) (err error) {
	ctx, span := tracer.Start(ctx, "consumer.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("stream.id", e.ID))

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("dispatch panic: %v", p)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	env, err := stream.DecodeEntry(e)
	if err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("event.id", env.ID),
		attribute.String("event.type", env.Type),
	)
	return c.dispatcher.Dispatch(ctx, env)
}

func (c *Consumer) ack(ctx context.Context, id string) error {
	if err := c.broker.Ack(ctx, c.cfg.Stream, c.cfg.Group, id); err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

func (c *Consumer) heartbeat(ctx context.Context) {
	now := time.Now()
	c.lastBeat.Store(now.UnixNano())
	if c.cfg.HeartbeatTTL <= 0 {
		return
	}
	if err := c.broker.Touch(ctx, HeartbeatKey(c.cfg.Stream, c.cfg.Group, c.cfg.Consumer), now.Unix(), c.cfg.HeartbeatTTL); err != nil {
		c.log.Warn("heartbeat failed", "err", err)
	}
}

// LastHeartbeat is the end of the most recent clean cycle, or the zero time.
func (c *Consumer) LastHeartbeat() time.Time {
	n := c.lastBeat.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func HeartbeatKey(stream, group, consumer string) string {
	return fmt.Sprintf("heartbeat:%s:%s:%s", stream, group, consumer)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
