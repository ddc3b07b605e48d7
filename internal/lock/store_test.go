package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/repo"
	"github.com/shaiso/Pricewatch/internal/repo/dynamolock"
	"github.com/shaiso/Pricewatch/internal/repo/redislock"
)

var (
	_ Store = (*repo.LockRepo)(nil)
	_ Store = (*dynamolock.Store)(nil)
	_ Store = (*redislock.Store)(nil)
	_ Store = (*MemoryStore)(nil)

	_ Pinger = (*repo.LockRepo)(nil)
	_ Pinger = (*dynamolock.Store)(nil)
	_ Pinger = (*redislock.Store)(nil)
)

func TestMemoryStore_Contract(t *testing.T) {
	s := NewMemoryStore()
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

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, _ := s.Create(ctx, &domain.LockRecord{Name: "l", HolderID: "a"})
	created.HolderID = "mutated"

	got, _ := s.Read(ctx, "l")
	if got.HolderID != "a" {
		t.Errorf("store must not share records with callers, got %s", got.HolderID)
	}
}
