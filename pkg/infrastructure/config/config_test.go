package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("APP_ID", "order-service")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/orders")
	t.Setenv("AMQP_USER", "guest")
	t.Setenv("AMQP_PASSWORD", "guest")
	t.Setenv("AMQP_HOST", "localhost:5672")
	t.Setenv("DISPATCHER_CONSUMER_NAME", "order-service")
	t.Setenv("OUTBOX_RELAY_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "order-service", cfg.AppID)
	assert.Equal(t, 10, cfg.MySQL.MaxConnections)
	assert.Equal(t, 250*time.Millisecond, cfg.Relay.PollInterval)
	assert.Equal(t, uint(100), cfg.Relay.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Sweeper.Interval)
	assert.Empty(t, cfg.Dispatcher.DeadLetterTopic)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("APP_ID", "order-service")

	_, err := Load()
	assert.Error(t, err)
}
