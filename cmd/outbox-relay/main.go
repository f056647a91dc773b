package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/inventory-cqrs/internal/config"
	invkafka "github.com/dmehra2102/inventory-cqrs/internal/inventory/infrastructure/kafka"
	invpg "github.com/dmehra2102/inventory-cqrs/internal/inventory/infrastructure/postgres"
	"github.com/dmehra2102/inventory-cqrs/pkg/logging"
	"github.com/dmehra2102/inventory-cqrs/pkg/outbox"
	"github.com/dmehra2102/inventory-cqrs/pkg/shutdown"
	"github.com/dmehra2102/inventory-cqrs/pkg/stream"
	"github.com/dmehra2102/inventory-cqrs/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.App.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.App.Name+"-relay", cfg.App.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := invpg.Migrate(ctx, pool); err != nil {
		log.Error("migration failed", "err", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	pub := stream.NewPublisher(log, stream.NewRedis(rdb), cfg.Stream.Name, cfg.Stream.MaxLen)
	dispatch := outbox.NewDispatcher(log, pub)
	if len(cfg.Kafka.Brokers) > 0 {
		writer := invkafka.NewWriter(cfg.Kafka.Brokers)
		defer writer.Close()
		dispatch.WithMirror(writer, cfg.Kafka.Topic)
		log.Info("kafka mirror enabled", "topic", cfg.Kafka.Topic)
	}

	store := invpg.NewOutboxStore(log, pool, cfg.Relay.MaxAttempts)
	relay := outbox.NewRelay(log, store, dispatch, cfg.Relay.ID, outbox.Options{
		BatchSize: cfg.Relay.BatchSize,
		Interval:  cfg.Relay.Interval,
		Lease:     cfg.Relay.Lease,
	})

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
			return
		}
		n, err := store.Pending(r.Context())
		if err != nil {
			http.Error(w, "outbox unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("X-Outbox-Pending", strconv.FormatInt(n, 10))
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:         cfg.Relay.AdminAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		log.Info("admin http listening", "addr", cfg.Relay.AdminAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("relay stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("outbox-relay shutdown complete")
}
