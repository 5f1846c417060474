package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

type MySQL struct {
	DSN                   string        `env:"MYSQL_DSN,required"`
	MaxConnections        int           `env:"MYSQL_MAX_CONNECTIONS" envDefault:"10"`
	ConnectionMaxLifeTime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
	ConnectionMaxIdleTime time.Duration `env:"MYSQL_CONN_MAX_IDLE_TIME" envDefault:"1m"`
}

type AMQP struct {
	User           string        `env:"AMQP_USER,required"`
	Password       string        `env:"AMQP_PASSWORD,required"`
	Host           string        `env:"AMQP_HOST,required"`
	ConnectTimeout time.Duration `env:"AMQP_CONNECT_TIMEOUT" envDefault:"60s"`
}

type Relay struct {
	BatchSize    uint          `env:"OUTBOX_RELAY_BATCH_SIZE" envDefault:"100"`
	PollInterval time.Duration `env:"OUTBOX_RELAY_POLL_INTERVAL" envDefault:"1s"`
	LockTimeout  time.Duration `env:"OUTBOX_RELAY_LOCK_TIMEOUT" envDefault:"5s"`
	MaxBackoff   time.Duration `env:"OUTBOX_RELAY_MAX_BACKOFF" envDefault:"30s"`
}

type Dispatcher struct {
	ConsumerName    string `env:"DISPATCHER_CONSUMER_NAME,required"`
	DeadLetterTopic string `env:"DISPATCHER_DEAD_LETTER_TOPIC"`
}

type Sweeper struct {
	Interval       time.Duration `env:"SAGA_SWEEP_INTERVAL" envDefault:"5s"`
	StuckThreshold time.Duration `env:"SAGA_STUCK_THRESHOLD" envDefault:"10m"`
	BatchSize      uint          `env:"SAGA_SWEEP_BATCH_SIZE" envDefault:"100"`
}

type Config struct {
	AppID string `env:"APP_ID,required"`

	MySQL      MySQL
	AMQP       AMQP
	Relay      Relay
	Dispatcher Dispatcher
	Sweeper    Sweeper
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}
	return cfg, nil
}
