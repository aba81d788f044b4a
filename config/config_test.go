package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadEmptyValues(t *testing.T) {
	for _, key := range []string{"DB_DRIVER", "REDIS_ADDR", "KAFKA_BROKERS", "LOW_STOCK_THRESHOLD", "REDIS_DB"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 20, cfg.Business.LowStockThreshold)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, "reservation-events", cfg.Kafka.TopicReservation)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LOW_STOCK_THRESHOLD", "5")
	t.Setenv("IDEMPOTENCY_TTL_SECONDS", "not-a-number")

	cfg := Load()
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5, cfg.Business.LowStockThreshold)
	assert.Equal(t, 86400, cfg.Business.IdempotencyTTLSeconds)
}
