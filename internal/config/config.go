package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/shaiso/Pricewatch/internal/mq"
	"github.com/shaiso/Pricewatch/internal/repo"
	"github.com/shaiso/Pricewatch/internal/repo/dynamolock"
)

// Хранилища lock'а.
const (
	LockStorePostgres = "postgres"
	LockStoreDynamoDB = "dynamodb"
	LockStoreRedis    = "redis"
	LockStoreMemory   = "memory"
)

// Транспорты очереди.
const (
	QueueRabbitMQ = "rabbitmq"
	QueueSQS      = "sqs"
	QueueMemory   = "memory"
)

// ErrInvalid — конфигурация не прошла валидацию.
var ErrInvalid = errors.New("invalid config")

// Config — конфигурация процесса pricewatch-worker.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Lock      LockConfig      `mapstructure:"lock"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	AWS       AWSConfig       `mapstructure:"aws"`

	InstanceID string `mapstructure:"instance_id"`

	DatabaseURL string `mapstructure:"db_url"`
	RabbitMQURL string `mapstructure:"rabbitmq_url"`
	RedisURL    string `mapstructure:"redis_url"`
	ScraperURL  string `mapstructure:"scraper_url"`

	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// SchedulerConfig — параметры цикла планировщика.
type SchedulerConfig struct {
	Enabled              bool `mapstructure:"enabled"`
	IntervalMinutes      int  `mapstructure:"interval_minutes"`
	BatchSize            int  `mapstructure:"batch_size"`
	MaxConsecutiveErrors int  `mapstructure:"max_consecutive_errors"`
}

// LockConfig — параметры leader lock.
type LockConfig struct {
	Name            string `mapstructure:"name"`
	DurationSeconds int    `mapstructure:"duration_seconds"`
	RenewSeconds    int    `mapstructure:"renew_seconds"`
	Store           string `mapstructure:"store"`
}

// QueueConfig — параметры очереди jobs.
type QueueConfig struct {
	Backend                  string `mapstructure:"backend"`
	MaxDeliveries            int    `mapstructure:"max_deliveries"`
	LockRenewSeconds         int    `mapstructure:"lock_renew_seconds"`
	MaxLockRenewalMinutes    int    `mapstructure:"max_lock_renewal_minutes"`
	SQSQueueURL              string `mapstructure:"sqs_queue_url"`
	VisibilityTimeoutSeconds int    `mapstructure:"visibility_timeout_seconds"`
}

// WorkerConfig — параметры обработчика jobs.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	Port        int `mapstructure:"port"`
}

// AWSConfig — параметры AWS (SQS, DynamoDB).
type AWSConfig struct {
	Region            string `mapstructure:"region"`
	EndpointURL       string `mapstructure:"endpoint_url"`
	AccessKeyID       string `mapstructure:"access_key_id"`
	SecretAccessKey   string `mapstructure:"secret_access_key"`
	DynamoDBLockTable string `mapstructure:"dynamodb_lock_table"`
}

// envBindings — ключ viper → переменная окружения.
var envBindings = map[string]string{
	"scheduler.enabled":                "SCHEDULER_ENABLED",
	"scheduler.interval_minutes":       "SCHEDULER_INTERVAL_MINUTES",
	"scheduler.batch_size":             "SCHEDULER_BATCH_SIZE",
	"scheduler.max_consecutive_errors": "SCHEDULER_MAX_CONSECUTIVE_ERRORS",

	"lock.name":             "LOCK_NAME",
	"lock.duration_seconds": "LOCK_DURATION_SECONDS",
	"lock.renew_seconds":    "LOCK_RENEW_SECONDS",
	"lock.store":            "LOCK_STORE",

	"queue.backend":                    "QUEUE_BACKEND",
	"queue.max_deliveries":             "QUEUE_MAX_DELIVERIES",
	"queue.lock_renew_seconds":         "QUEUE_LOCK_RENEW_SECONDS",
	"queue.max_lock_renewal_minutes":   "QUEUE_MAX_LOCK_RENEWAL_MINUTES",
	"queue.sqs_queue_url":              "SQS_QUEUE_URL",
	"queue.visibility_timeout_seconds": "QUEUE_VISIBILITY_TIMEOUT_SECONDS",

	"worker.concurrency": "WORKER_CONCURRENCY",
	"worker.port":        "WORKER_PORT",

	"aws.region":              "AWS_REGION",
	"aws.endpoint_url":        "AWS_ENDPOINT_URL",
	"aws.access_key_id":       "AWS_ACCESS_KEY_ID",
	"aws.secret_access_key":   "AWS_SECRET_ACCESS_KEY",
	"aws.dynamodb_lock_table": "DYNAMODB_LOCK_TABLE",

	"instance_id":              "INSTANCE_ID",
	"db_url":                   "DB_URL",
	"rabbitmq_url":             "RABBITMQ_URL",
	"redis_url":                "REDIS_URL",
	"scraper_url":              "SCRAPER_URL",
	"shutdown_timeout_seconds": "SHUTDOWN_TIMEOUT_SECONDS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_minutes", 5)
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.max_consecutive_errors", 10)

	v.SetDefault("lock.name", "scheduler-leader")
	v.SetDefault("lock.duration_seconds", 90)
	v.SetDefault("lock.renew_seconds", 30)
	v.SetDefault("lock.store", LockStorePostgres)

	v.SetDefault("queue.backend", QueueRabbitMQ)
	v.SetDefault("queue.max_deliveries", 5)
	v.SetDefault("queue.lock_renew_seconds", 30)
	v.SetDefault("queue.max_lock_renewal_minutes", 5)
	v.SetDefault("queue.visibility_timeout_seconds", 60)

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.port", 8082)

	v.SetDefault("aws.dynamodb_lock_table", dynamolock.DefaultTable)

	v.SetDefault("db_url", repo.DefaultURL)
	v.SetDefault("rabbitmq_url", mq.DefaultURL)
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("scraper_url", "http://localhost:8090")
	v.SetDefault("shutdown_timeout_seconds", 30)
}

// Load читает конфигурацию из переменных окружения поверх значений
// по умолчанию и валидирует её.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Lock.Store = strings.ToLower(strings.TrimSpace(cfg.Lock.Store))
	cfg.Queue.Backend = strings.ToLower(strings.TrimSpace(cfg.Queue.Backend))
	if strings.TrimSpace(cfg.InstanceID) == "" {
		cfg.InstanceID = defaultInstanceID()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность параметров.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.IntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("SCHEDULER_INTERVAL_MINUTES must be positive, got %d", c.Scheduler.IntervalMinutes))
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("SCHEDULER_BATCH_SIZE must be positive, got %d", c.Scheduler.BatchSize))
	}
	if c.Scheduler.MaxConsecutiveErrors <= 0 {
		errs = append(errs, fmt.Errorf("SCHEDULER_MAX_CONSECUTIVE_ERRORS must be positive, got %d", c.Scheduler.MaxConsecutiveErrors))
	}
	if c.Lock.RenewSeconds <= 0 {
		errs = append(errs, fmt.Errorf("LOCK_RENEW_SECONDS must be positive, got %d", c.Lock.RenewSeconds))
	}
	if c.Lock.DurationSeconds <= c.Lock.RenewSeconds {
		errs = append(errs, fmt.Errorf("LOCK_DURATION_SECONDS (%d) must exceed LOCK_RENEW_SECONDS (%d)",
			c.Lock.DurationSeconds, c.Lock.RenewSeconds))
	}
	switch c.Lock.Store {
	case LockStorePostgres, LockStoreRedis, LockStoreMemory:
	case LockStoreDynamoDB:
		if c.AWS.Region == "" {
			errs = append(errs, errors.New("AWS_REGION is required for LOCK_STORE=dynamodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LOCK_STORE %q", c.Lock.Store))
	}
	switch c.Queue.Backend {
	case QueueRabbitMQ, QueueMemory:
	case QueueSQS:
		if c.AWS.Region == "" {
			errs = append(errs, errors.New("AWS_REGION is required for QUEUE_BACKEND=sqs"))
		}
		if c.Queue.SQSQueueURL == "" {
			errs = append(errs, errors.New("SQS_QUEUE_URL is required for QUEUE_BACKEND=sqs"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown QUEUE_BACKEND %q", c.Queue.Backend))
	}
	if c.Queue.MaxDeliveries <= 0 {
		errs = append(errs, fmt.Errorf("QUEUE_MAX_DELIVERIES must be positive, got %d", c.Queue.MaxDeliveries))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency))
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT_SECONDS must be positive, got %d", c.ShutdownTimeoutSeconds))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// PollInterval — период тика планировщика.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalMinutes) * time.Minute
}

// LockDuration — срок аренды lock'а (D).
func (c *Config) LockDuration() time.Duration {
	return time.Duration(c.Lock.DurationSeconds) * time.Second
}

// LockRenewInterval — период продления lock'а (R).
func (c *Config) LockRenewInterval() time.Duration {
	return time.Duration(c.Lock.RenewSeconds) * time.Second
}

// MessageLockRenewInterval — период продления блокировки сообщения.
func (c *Config) MessageLockRenewInterval() time.Duration {
	return time.Duration(c.Queue.LockRenewSeconds) * time.Second
}

// MaxMessageLockRenewal — потолок продления блокировки сообщения.
func (c *Config) MaxMessageLockRenewal() time.Duration {
	return time.Duration(c.Queue.MaxLockRenewalMinutes) * time.Minute
}

// ShutdownTimeout — предел graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Addr — адрес HTTP сервера статуса и метрик.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Worker.Port)
}

// defaultInstanceID — hostname + случайный суффикс, чтобы два процесса
// на одном хосте не делили holder id.
func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "pricewatch"
	}
	return host + "-" + uuid.NewString()[:8]
}
