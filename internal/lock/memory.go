package lock

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/repo"
)

// MemoryStore — Store в памяти процесса.
//
// Используется в тестах (несколько Lock над одним MemoryStore моделируют
// несколько экземпляров) и в локальном режиме LOCK_STORE=memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*domain.LockRecord
	writes  int
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*domain.LockRecord)}
}

// Read возвращает копию записи.
func (s *MemoryStore) Read(_ context.Context, name string) (*domain.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return rec.Clone(), nil
}

// Create создаёт запись, если её нет.
func (s *MemoryStore) Create(_ context.Context, rec *domain.LockRecord) (*domain.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.Name]; ok {
		return nil, repo.ErrAlreadyExists
	}
	return s.putLocked(rec), nil
}

// Update перезаписывает запись при совпадении версии.
func (s *MemoryStore) Update(_ context.Context, rec *domain.LockRecord, expectedVersion string) (*domain.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[rec.Name]
	if !ok || current.Version != expectedVersion {
		return nil, repo.ErrVersionMismatch
	}
	return s.putLocked(rec), nil
}

// Delete удаляет запись при совпадении версии.
func (s *MemoryStore) Delete(_ context.Context, name, expectedVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[name]
	if !ok {
		return repo.ErrNotFound
	}
	if current.Version != expectedVersion {
		return repo.ErrVersionMismatch
	}
	delete(s.records, name)
	s.writes++
	return nil
}

// Ping всегда успешен.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Writes возвращает количество успешных изменений хранилища.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *MemoryStore) putLocked(rec *domain.LockRecord) *domain.LockRecord {
	stored := rec.Clone()
	stored.Version = uuid.NewString()
	s.records[stored.Name] = stored
	s.writes++
	return stored.Clone()
}
