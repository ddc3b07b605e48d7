package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Pricewatch/internal/domain"
)

// LockRepo хранит записи распределённых блокировок в таблице scheduler_locks.
//
// Каждая запись несёт колонку version (uuid), которую репозиторий меняет
// при каждой записи. Условные update/delete выполняются как
// compare-and-swap по version в одном SQL-выражении.
type LockRepo struct {
	pool lockDB
}

// lockDB — часть pgxpool.Pool, которой пользуется LockRepo.
type lockDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// NewLockRepo создаёт новый LockRepo.
func NewLockRepo(pool *pgxpool.Pool) *LockRepo {
	return newLockRepoWithDB(pool)
}

func newLockRepoWithDB(db lockDB) *LockRepo {
	return &LockRepo{pool: db}
}

const lockColumns = `lock_name, holder_id, acquired_at, expires_at, renewed_at, version`

// Read возвращает запись блокировки по имени.
func (r *LockRepo) Read(ctx context.Context, name string) (*domain.LockRecord, error) {
	query := `SELECT ` + lockColumns + ` FROM scheduler_locks WHERE lock_name = $1`
	return scanLock(r.pool.QueryRow(ctx, query, name))
}

// Create создаёт запись, только если её ещё нет.
// Возвращает ErrAlreadyExists, если запись создал кто-то другой.
func (r *LockRepo) Create(ctx context.Context, rec *domain.LockRecord) (*domain.LockRecord, error) {
	query := `
		INSERT INTO scheduler_locks (` + lockColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (lock_name) DO NOTHING
		RETURNING ` + lockColumns

	created, err := scanLock(r.pool.QueryRow(ctx, query,
		rec.Name,
		rec.HolderID,
		rec.AcquiredAt,
		rec.ExpiresAt,
		rec.RenewedAt,
		uuid.NewString(),
	))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("create lock %s: %w", rec.Name, err)
	}
	return created, nil
}

// Update перезаписывает запись, только если текущая версия равна expectedVersion.
// Возвращает ErrVersionMismatch, если запись изменилась или исчезла.
func (r *LockRepo) Update(ctx context.Context, rec *domain.LockRecord, expectedVersion string) (*domain.LockRecord, error) {
	query := `
		UPDATE scheduler_locks
		SET holder_id = $2, acquired_at = $3, expires_at = $4, renewed_at = $5, version = $6
		WHERE lock_name = $1 AND version = $7
		RETURNING ` + lockColumns

	updated, err := scanLock(r.pool.QueryRow(ctx, query,
		rec.Name,
		rec.HolderID,
		rec.AcquiredAt,
		rec.ExpiresAt,
		rec.RenewedAt,
		uuid.NewString(),
		expectedVersion,
	))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrVersionMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("update lock %s: %w", rec.Name, err)
	}
	return updated, nil
}

// Delete удаляет запись, только если текущая версия равна expectedVersion.
// Возвращает ErrNotFound, если записи нет, и ErrVersionMismatch,
// если запись уже принадлежит другой версии.
func (r *LockRepo) Delete(ctx context.Context, name, expectedVersion string) error {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM scheduler_locks WHERE lock_name = $1 AND version = $2`,
		name, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("delete lock %s: %w", name, err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM scheduler_locks WHERE lock_name = $1)`, name,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check lock %s: %w", name, err)
	}
	if exists {
		return ErrVersionMismatch
	}
	return ErrNotFound
}

// Ping проверяет доступность БД.
func (r *LockRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanLock(row pgx.Row) (*domain.LockRecord, error) {
	var rec domain.LockRecord
	err := row.Scan(
		&rec.Name,
		&rec.HolderID,
		&rec.AcquiredAt,
		&rec.ExpiresAt,
		&rec.RenewedAt,
		&rec.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan lock: %w", err)
	}
	return &rec, nil
}
