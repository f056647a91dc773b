//go:build integration

package integration

import (
	"context"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

type Env struct {
	PG        *postgres.PostgresContainer
	Redis     *tcredis.RedisContainer
	PGURL     string
	RedisURL  string
	kafka     *kafka.KafkaContainer
	KafkaAddr []string
}

func Setup(ctx context.Context) (*Env, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("inventory"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}

	pgURL, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(context.Background())
		return nil, err
	}

	redisC, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		_ = pgC.Terminate(context.Background())
		return nil, err
	}

	redisURL, err := redisC.ConnectionString(ctx)
	if err != nil {
		_ = pgC.Terminate(context.Background())
		_ = redisC.Terminate(context.Background())
		return nil, err
	}

	return &Env{
		PG:       pgC,
		Redis:    redisC,
		PGURL:    pgURL,
		RedisURL: redisURL,
	}, nil
}

// StartKafka adds a single-node Kafka broker to the environment.
func (e *Env) StartKafka(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	kafkaC, err := kafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		kafka.WithClusterID("inventory-test"),
	)
	if err != nil {
		return err
	}
	brokers, err := kafkaC.Brokers(ctx)
	if err != nil {
		_ = kafkaC.Terminate(context.Background())
		return err
	}
	e.kafka = kafkaC
	e.KafkaAddr = brokers
	return nil
}

func (e *Env) Teardown(ctx context.Context) {
	if e.kafka != nil {
		_ = testcontainers.TerminateContainer(e.kafka)
	}
	_ = testcontainers.TerminateContainer(e.Redis)
	_ = testcontainers.TerminateContainer(e.PG)
}
