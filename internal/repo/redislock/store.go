// Package redislock — хранилище записей распределённой блокировки в Redis.
//
// Запись хранится как hash под ключом <prefix>:<lock_name>.
// Compare-and-swap по полю version выполняется Lua-скриптами атомарно
// на стороне Redis.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/repo"
)

const (
	defaultPrefix           = "pricewatch:lock"
	defaultOperationTimeout = 3 * time.Second
)

var (
	// Возвращает 1, если запись создана, 0 — если ключ уже существует.
	createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "holder_id", ARGV[1], "acquired_at", ARGV[2],
  "expires_at", ARGV[3], "renewed_at", ARGV[4], "version", ARGV[5])
return 1
`)

	// Возвращает 1 при успехе, 0 — если версия не совпала или ключа нет.
	updateScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "version") ~= ARGV[6] then
  return 0
end
redis.call("HSET", KEYS[1], "holder_id", ARGV[1], "acquired_at", ARGV[2],
  "expires_at", ARGV[3], "renewed_at", ARGV[4], "version", ARGV[5])
return 1
`)

	// Возвращает 1 при удалении, 0 при несовпадении версии, -1 если ключа нет.
	deleteScript = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], "version")
if not v then
  return -1
end
if v ~= ARGV[1] then
  return 0
end
redis.call("DEL", KEYS[1])
return 1
`)
)

// Config — параметры подключения к Redis.
type Config struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultOperationTimeout
	}
}

// Store — lock.Store поверх Redis.
type Store struct {
	client redis.UniversalClient
	config Config
}

// New подключается к Redis по URL и проверяет соединение.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	store := NewWithClient(redis.NewClient(opts), cfg)
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// NewWithClient создаёт Store поверх готового клиента.
func NewWithClient(client redis.UniversalClient, cfg Config) *Store {
	cfg.normalize()
	return &Store{client: client, config: cfg}
}

// Read возвращает запись по имени.
func (s *Store) Read(ctx context.Context, name string) (*domain.LockRecord, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	fields, err := s.client.HGetAll(opCtx, s.key(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("read lock %s: %w", name, err)
	}
	if len(fields) == 0 {
		return nil, repo.ErrNotFound
	}
	return decodeFields(name, fields)
}

// Create создаёт запись, если её нет.
func (s *Store) Create(ctx context.Context, rec *domain.LockRecord) (*domain.LockRecord, error) {
	next := rec.Clone()
	next.Version = uuid.NewString()

	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	res, err := createScript.Run(opCtx, s.client, []string{s.key(rec.Name)}, encodeArgs(next)...).Int64()
	if err != nil {
		return nil, fmt.Errorf("create lock %s: %w", rec.Name, err)
	}
	if res == 0 {
		return nil, repo.ErrAlreadyExists
	}
	return next, nil
}

// Update перезаписывает запись при совпадении версии.
func (s *Store) Update(ctx context.Context, rec *domain.LockRecord, expectedVersion string) (*domain.LockRecord, error) {
	next := rec.Clone()
	next.Version = uuid.NewString()

	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	args := append(encodeArgs(next), expectedVersion)
	res, err := updateScript.Run(opCtx, s.client, []string{s.key(rec.Name)}, args...).Int64()
	if err != nil {
		return nil, fmt.Errorf("update lock %s: %w", rec.Name, err)
	}
	if res == 0 {
		return nil, repo.ErrVersionMismatch
	}
	return next, nil
}

// Delete удаляет запись при совпадении версии.
func (s *Store) Delete(ctx context.Context, name, expectedVersion string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()

	res, err := deleteScript.Run(opCtx, s.client, []string{s.key(name)}, expectedVersion).Int64()
	if err != nil {
		return fmt.Errorf("delete lock %s: %w", name, err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return repo.ErrNotFound
	default:
		return repo.ErrVersionMismatch
	}
}

// Ping проверяет соединение с Redis.
func (s *Store) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.config.OperationTimeout)
	defer cancel()
	if err := s.client.Ping(opCtx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close закрывает соединения.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(name string) string {
	return strings.TrimRight(s.config.Prefix, ":") + ":" + strings.TrimSpace(name)
}

// encodeArgs возвращает ARGV[1..5] для create/update.
func encodeArgs(rec *domain.LockRecord) []any {
	return []any{
		rec.HolderID,
		formatTime(rec.AcquiredAt),
		formatTime(rec.ExpiresAt),
		formatTime(rec.RenewedAt),
		rec.Version,
	}
}

func decodeFields(name string, fields map[string]string) (*domain.LockRecord, error) {
	rec := &domain.LockRecord{
		Name:     name,
		HolderID: fields["holder_id"],
		Version:  fields["version"],
	}

	var errs []error
	var err error
	if rec.AcquiredAt, err = parseTime(fields["acquired_at"]); err != nil {
		errs = append(errs, fmt.Errorf("acquired_at: %w", err))
	}
	if rec.ExpiresAt, err = parseTime(fields["expires_at"]); err != nil {
		errs = append(errs, fmt.Errorf("expires_at: %w", err))
	}
	if rec.RenewedAt, err = parseTime(fields["renewed_at"]); err != nil {
		errs = append(errs, fmt.Errorf("renewed_at: %w", err))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("decode lock %s: %w", name, errors.Join(errs...))
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
