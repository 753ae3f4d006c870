package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`

	SMTPHost          string `env:"SMTP_HOST,default=localhost"`
	SMTPPort          int    `env:"SMTP_PORT,default=25"`
	SMTPLocalHostname string `env:"SMTP_LOCAL_HOSTNAME"`
	SMTPTimeoutSec    int    `env:"SMTP_TIMEOUT_SEC,default=30"`
	SMTPStartTLS      bool   `env:"SMTP_STARTTLS,default=false"`
	SMTPFrom          string `env:"SMTP_FROM,default=noreply@example.com"`
	SMTPMaxRetries    int    `env:"SMTP_MAX_RETRIES,default=3"`
	SMTPBackoffSec    int    `env:"SMTP_RETRY_BACKOFF_SEC,default=2"`

	NotifyDomain         string `env:"NOTIFY_DOMAIN,default=OVR"`
	NotifyKind           string `env:"NOTIFY_KIND"`
	FetchLimit           int    `env:"FETCH_LIMIT,default=0"`
	ReconcileChunkSize   int    `env:"RECONCILE_CHUNK_SIZE,default=500"`
	SchedulerIntervalSec int    `env:"SCHEDULER_INTERVAL_SEC,default=900"`

	PickupPath        string `env:"PICKUP_PATH,default=./pickup"`
	IngestBatchRows   int    `env:"INGEST_BATCH_ROWS,default=5000"`
	IngestConcurrency int    `env:"INGEST_CONCURRENCY,default=2"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) SMTPTimeout() time.Duration {
	return time.Duration(c.SMTPTimeoutSec) * time.Second
}

func (c *Config) SMTPBackoff() time.Duration {
	return time.Duration(c.SMTPBackoffSec) * time.Second
}

func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSec) * time.Second
}
