package lock

import (
	"context"

	"github.com/shaiso/Pricewatch/internal/domain"
)

// Store — хранилище записей блокировки с условной записью.
//
// Реализации: repo.LockRepo (Postgres), dynamolock.Store, redislock.Store,
// MemoryStore. Все возвращают ошибки пакета repo:
//
//	Read   → repo.ErrNotFound, если записи нет
//	Create → repo.ErrAlreadyExists, если запись уже создана
//	Update → repo.ErrVersionMismatch, если версия изменилась
//	Delete → repo.ErrNotFound / repo.ErrVersionMismatch
//
// Create и Update сами назначают новую версию и возвращают итоговую запись.
type Store interface {
	Read(ctx context.Context, name string) (*domain.LockRecord, error)
	Create(ctx context.Context, rec *domain.LockRecord) (*domain.LockRecord, error)
	Update(ctx context.Context, rec *domain.LockRecord, expectedVersion string) (*domain.LockRecord, error)
	Delete(ctx context.Context, name, expectedVersion string) error
}

// Pinger — опциональная проверка доступности хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}
