package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stream.Name != "inventory.events" || cfg.Stream.DLQ != "inventory.events.dlq" || cfg.Stream.MaxLen != 100000 {
		t.Fatalf("stream = %+v", cfg.Stream)
	}
	if cfg.Consumer.Group != "inventory-projector" || cfg.Consumer.MaxRetries != 5 {
		t.Fatalf("consumer = %+v", cfg.Consumer)
	}
	if cfg.Consumer.ReclaimIdle() != time.Minute || cfg.Consumer.Block() != 5*time.Second || cfg.Consumer.RetryTTL() != time.Hour {
		t.Fatalf("durations = %v %v %v", cfg.Consumer.ReclaimIdle(), cfg.Consumer.Block(), cfg.Consumer.RetryTTL())
	}
	if cfg.Consumer.Name == "" || cfg.Relay.ID == "" {
		t.Fatalf("host-derived names not set: %q %q", cfg.Consumer.Name, cfg.Relay.ID)
	}
	if cfg.App.AdminAddr != ":9091" || cfg.Relay.AdminAddr != ":9092" {
		t.Fatalf("admin addrs = %q %q", cfg.App.AdminAddr, cfg.Relay.AdminAddr)
	}
}

func TestLoad_RejectsSharedAdminAddr(t *testing.T) {
	t.Setenv("ADMIN_ADDR", ":8080")
	t.Setenv("RELAY_ADMIN_ADDR", ":8080")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "RELAY_ADMIN_ADDR") {
		t.Fatalf("err = %v, want admin address conflict", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CONSUMER_NAME", "projector-a")
	t.Setenv("WORKERS", "3")
	t.Setenv("BACKOFF_MAX", "10s")
	t.Setenv("KAFKA_ADDR", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Consumer.WorkerName(2); got != "projector-a-2" {
		t.Fatalf("worker name = %q", got)
	}
	if cfg.Consumer.BackoffMax != 10*time.Second {
		t.Fatalf("backoff max = %v", cfg.Consumer.BackoffMax)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	t.Setenv("WORKERS", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "BATCH_SIZE") || !strings.Contains(err.Error(), "WORKERS") {
		t.Fatalf("err = %v", err)
	}
}
