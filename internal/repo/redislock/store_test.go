package redislock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/repo"
)

func TestConfigNormalize(t *testing.T) {
	cfg := &Config{}
	cfg.normalize()

	if cfg.Prefix != "pricewatch:lock" {
		t.Errorf("expected default prefix, got %s", cfg.Prefix)
	}
	if cfg.OperationTimeout != 3*time.Second {
		t.Errorf("expected default timeout, got %v", cfg.OperationTimeout)
	}
}

func TestConfigNormalizeCustom(t *testing.T) {
	cfg := &Config{Prefix: "custom:", OperationTimeout: 10 * time.Second}
	cfg.normalize()

	if cfg.Prefix != "custom:" {
		t.Errorf("expected custom prefix, got %s", cfg.Prefix)
	}
	if cfg.OperationTimeout != 10*time.Second {
		t.Errorf("expected custom timeout, got %v", cfg.OperationTimeout)
	}
}

func TestStore_Key(t *testing.T) {
	s := NewWithClient(nil, Config{Prefix: "pw:lock:"})
	if got := s.key(" scheduler-leader "); got != "pw:lock:scheduler-leader" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestEncodeDecode(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)
	rec := &domain.LockRecord{
		Name:       "scheduler-leader",
		HolderID:   "host-1",
		AcquiredAt: now,
		ExpiresAt:  now.Add(90 * time.Second),
		RenewedAt:  now,
		Version:    "v1",
	}

	args := encodeArgs(rec)
	if len(args) != 5 {
		t.Fatalf("expected 5 script args, got %d", len(args))
	}

	fields := map[string]string{
		"holder_id":   args[0].(string),
		"acquired_at": args[1].(string),
		"expires_at":  args[2].(string),
		"renewed_at":  args[3].(string),
		"version":     args[4].(string),
	}
	got, err := decodeFields(rec.Name, fields)
	if err != nil {
		t.Fatalf("decodeFields failed: %v", err)
	}
	if got.HolderID != rec.HolderID || got.Version != rec.Version {
		t.Errorf("unexpected record: %+v", got)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("expected expires_at %v, got %v", rec.ExpiresAt, got.ExpiresAt)
	}
}

func TestDecodeFields_BadTime(t *testing.T) {
	_, err := decodeFields("x", map[string]string{"expires_at": "yesterday"})
	if err == nil {
		t.Error("expected error for malformed time")
	}
}

func newMiniredisStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), Config{Prefix: "pw:lock"})
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStore_Contract(t *testing.T) {
	s, _ := newMiniredisStore(t)
	ctx := context.Background()
	rec := &domain.LockRecord{Name: "l", HolderID: "a", ExpiresAt: time.Now().Add(time.Minute)}

	if _, err := s.Read(ctx, "l"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	created, err := s.Create(ctx, rec)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Version == "" {
		t.Fatal("expected version")
	}
	if _, err := s.Create(ctx, rec); !errors.Is(err, repo.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}

	if _, err := s.Update(ctx, rec, "stale"); !errors.Is(err, repo.ErrVersionMismatch) {
		t.Errorf("expected ErrVersionMismatch, got %v", err)
	}
	updated, err := s.Update(ctx, rec, created.Version)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version == created.Version {
		t.Error("version must change on update")
	}

	if err := s.Delete(ctx, "l", created.Version); !errors.Is(err, repo.ErrVersionMismatch) {
		t.Errorf("expected ErrVersionMismatch, got %v", err)
	}
	if err := s.Delete(ctx, "l", updated.Version); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "l", updated.Version); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_UpdateMissingRecord(t *testing.T) {
	s, mr := newMiniredisStore(t)
	rec := &domain.LockRecord{Name: "l", HolderID: "a"}

	if _, err := s.Update(context.Background(), rec, "v1"); !errors.Is(err, repo.ErrVersionMismatch) {
		t.Errorf("expected ErrVersionMismatch, got %v", err)
	}
	if mr.Exists("pw:lock:l") {
		t.Error("update of a missing record must not create it")
	}
}

func TestStore_RecordLayout(t *testing.T) {
	s, mr := newMiniredisStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)
	rec := &domain.LockRecord{
		Name:       "scheduler-leader",
		HolderID:   "host-1",
		AcquiredAt: now,
		ExpiresAt:  now.Add(90 * time.Second),
		RenewedAt:  now,
	}

	created, err := s.Create(ctx, rec)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	key := "pw:lock:scheduler-leader"
	if got := mr.HGet(key, "holder_id"); got != "host-1" {
		t.Errorf("holder_id = %q", got)
	}
	if got := mr.HGet(key, "version"); got != created.Version {
		t.Errorf("version = %q, want %q", got, created.Version)
	}

	got, err := s.Read(ctx, "scheduler-leader")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got.HolderID != "host-1" || got.Version != created.Version {
		t.Errorf("unexpected record: %+v", got)
	}
	if !got.AcquiredAt.Equal(now) || !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("times not preserved: %+v", got)
	}
}

func TestStore_ConcurrentCreate(t *testing.T) {
	s, _ := newMiniredisStore(t)
	ctx := context.Background()

	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := s.Create(ctx, &domain.LockRecord{Name: "l", HolderID: "h"})
			results <- err
		}()
	}

	wins := 0
	for i := 0; i < 8; i++ {
		err := <-results
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, repo.ErrAlreadyExists):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one successful create, got %d", wins)
	}
}

func TestStore_CorruptedRecord(t *testing.T) {
	s, mr := newMiniredisStore(t)
	mr.HSet("pw:lock:l", "holder_id", "a", "expires_at", "yesterday")

	_, err := s.Read(context.Background(), "l")
	if err == nil || errors.Is(err, repo.ErrNotFound) {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestNew_PingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := New(context.Background(), Config{URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	mr.Close()
	if err := s.Ping(context.Background()); err == nil {
		t.Error("expected ping error after server shutdown")
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("expected error for empty url")
	}
}
