package outbox

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/inventory-cqrs/pkg/tracing"
)

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []string) error
	// MarkFailed returns the row to pending, or fails it for good when final
	// is set or its attempts are exhausted.
	MarkFailed(ctx context.Context, id string, errMsg string, final bool) error
	ExtendLease(ctx context.Context, relayID string, ids []string, lease time.Duration) error
}

type Options struct {
	BatchSize int
	Interval  time.Duration
	Lease     time.Duration
}

type Relay struct {
	log       *slog.Logger
	store     Store
	dispatch  *Dispatcher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
	tracer    trace.Tracer
}

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, relayID string, opts Options) *Relay {
	r := &Relay{
		log:       log.With("relay_id", relayID),
		store:     store,
		dispatch:  dispatch,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
		tracer:    otel.Tracer("outbox-relay"),
	}
	if opts.BatchSize > 0 {
		r.batchSize = opts.BatchSize
	}
	if opts.Interval > 0 {
		r.interval = opts.Interval
	}
	if opts.Lease > 0 {
		r.lease = opts.Lease
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	r.log.Info("relay started", "batch", r.batchSize, "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping")
			return nil
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("relay tick failed", "err", err)
			}
		}
	}
}

// RunOnce claims one batch and dispatches it. It returns the number of rows
// marked sent.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		return 0, err
	}
	batchSize.Observe(float64(len(events)))
	if len(events) == 0 {
		return 0, nil
	}

	leaseStart := time.Now()
	ids := make([]string, 0, len(events))
	for i, e := range events {
		if time.Since(leaseStart) > r.lease/2 {
			r.extend(ctx, events[i:])
			leaseStart = time.Now()
		}
		if err := r.dispatchOne(ctx, e); err != nil {
			final := errors.Is(err, ErrPermanent)
			relayFailures.WithLabelValues(strconv.FormatBool(final)).Inc()
			if merr := r.store.MarkFailed(ctx, e.ID, err.Error(), final); merr != nil {
				r.log.Error("relay mark failed error", "event_id", e.ID, "err", merr)
			}
			continue
		}
		ids = append(ids, e.ID)
	}

	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, ids); err != nil {
			return 0, err
		}
		eventsRelayed.Add(float64(len(ids)))
	}
	return len(ids), nil
}

func (r *Relay) dispatchOne(ctx context.Context, e Event) error {
	ctx, span := r.tracer.Start(tracing.WithTraceparent(ctx, e.Traceparent), "outbox.Relay")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", e.ID),
		attribute.String("event.type", e.Type),
	)

	if err := r.dispatch.Dispatch(ctx, e); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (r *Relay) extend(ctx context.Context, rest []Event) {
	ids := make([]string, 0, len(rest))
	for _, e := range rest {
		ids = append(ids, e.ID)
	}
	if err := r.store.ExtendLease(ctx, r.relayID, ids, r.lease); err != nil {
		r.log.Warn("relay extend lease failed", "err", err)
	}
}
