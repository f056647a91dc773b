package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmehra2102/inventory-cqrs/internal/admin"
	"github.com/dmehra2102/inventory-cqrs/internal/config"
	invpg "github.com/dmehra2102/inventory-cqrs/internal/inventory/infrastructure/postgres"
	"github.com/dmehra2102/inventory-cqrs/internal/projection"
	"github.com/dmehra2102/inventory-cqrs/pkg/consumer"
	"github.com/dmehra2102/inventory-cqrs/pkg/idempotency"
	"github.com/dmehra2102/inventory-cqrs/pkg/logging"
	"github.com/dmehra2102/inventory-cqrs/pkg/retry"
	"github.com/dmehra2102/inventory-cqrs/pkg/shutdown"
	"github.com/dmehra2102/inventory-cqrs/pkg/stream"
	"github.com/dmehra2102/inventory-cqrs/pkg/tracing"
	"github.com/dmehra2102/inventory-cqrs/pkg/uow"
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

	shutdownTracing, err := tracing.Init(ctx, cfg.App.Name+"-projector", cfg.App.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.WithoutCancel(ctx)) }()

	// Postgres setup
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

	// Shared redis client for retry counters and admin operations. Each worker
	// gets its own client below because blocking reads pin a connection.
	shared := redis.NewClient(redisOptions(cfg, 10))
	defer shared.Close()
	sharedBroker := stream.NewRedis(shared)
	counter := retry.NewCounter(shared, cfg.Consumer.RetryTTL())

	projector := projection.NewProjector(log, uow.New(pool), idempotency.NewGuard(), projection.NewSearchStore(log, pool))

	g, gctx := errgroup.WithContext(ctx)

	workers := make([]admin.Heartbeater, 0, cfg.Consumer.Workers)
	for i := 0; i < cfg.Consumer.Workers; i++ {
		rdb := redis.NewClient(redisOptions(cfg, 2))
		defer rdb.Close()
		broker := stream.NewRedis(rdb)

		name := cfg.Consumer.WorkerName(i)
		dlc := consumer.NewDeadLetterController(log, counter, broker, cfg.Stream.Name, cfg.Consumer.Group, cfg.Stream.DLQ, cfg.Consumer.MaxRetries)
		c := consumer.New(log.With("worker", i), broker, projector, dlc, consumer.Config{
			Stream:       cfg.Stream.Name,
			Group:        cfg.Consumer.Group,
			Consumer:     name,
			BatchSize:    cfg.Consumer.BatchSize,
			Block:        cfg.Consumer.Block(),
			ReclaimIdle:  cfg.Consumer.ReclaimIdle(),
			BackoffBase:  time.Second,
			BackoffMax:   cfg.Consumer.BackoffMax,
			HeartbeatTTL: cfg.Consumer.HeartbeatTTL,
		})
		workers = append(workers, c)
		g.Go(func() error { return c.Run(gctx) })
	}

	liveness := admin.NewHealth(cfg.Consumer.HeartbeatTTL, workers...)

	// Admin HTTP server
	pub := stream.NewPublisher(log, sharedBroker, cfg.Stream.Name, cfg.Stream.MaxLen)
	handler := admin.NewHandler(log, sharedBroker, cfg.Stream.DLQ, pub, liveness).
		WithPending(sharedBroker, counter, cfg.Stream.Name, cfg.Consumer.Group)
	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.App.AdminAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info("admin http listening", "addr", cfg.App.AdminAddr)
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

	// gRPC health server
	lis, err := net.Listen("tcp", cfg.App.GRPCAddr)
	if err != nil {
		log.Error("grpc listen failed", "addr", cfg.App.GRPCAddr, "err", err)
		os.Exit(1)
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)
	g.Go(func() error {
		log.Info("grpc health listening", "addr", cfg.App.GRPCAddr)
		return gs.Serve(lis)
	})
	g.Go(func() error {
		liveness.Watch(gctx, hs, 5*time.Second)
		gs.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("projector stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("projector shutdown complete")
}

func redisOptions(cfg *config.Config, poolSize int) *redis.Options {
	return &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: poolSize,
		// XREADGROUP BLOCK must not trip the client read deadline.
		ReadTimeout: cfg.Consumer.Block() + 5*time.Second,
	}
}
