package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/shaiso/Pricewatch/internal/domain"
)

var lockCols = []string{"lock_name", "holder_id", "acquired_at", "expires_at", "renewed_at", "version"}

func newMockLockRepo(t *testing.T) (*LockRepo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock new: %v", err)
	}
	t.Cleanup(mock.Close)
	return newLockRepoWithDB(mock), mock
}

func testLockRecord() *domain.LockRecord {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.LockRecord{
		Name:       "scheduler-leader",
		HolderID:   "instance-a",
		AcquiredAt: at,
		ExpiresAt:  at.Add(90 * time.Second),
		RenewedAt:  at,
	}
}

func TestLockRepo_Read(t *testing.T) {
	r, mock := newMockLockRepo(t)
	rec := testLockRecord()

	mock.ExpectQuery("SELECT .+ FROM scheduler_locks WHERE lock_name = \\$1").
		WithArgs("scheduler-leader").
		WillReturnRows(pgxmock.NewRows(lockCols).
			AddRow(rec.Name, rec.HolderID, rec.AcquiredAt, rec.ExpiresAt, rec.RenewedAt, "v1"))
	mock.ExpectQuery("SELECT .+ FROM scheduler_locks WHERE lock_name = \\$1").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(lockCols))

	got, err := r.Read(context.Background(), "scheduler-leader")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.HolderID != "instance-a" || got.Version != "v1" || !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("unexpected record %+v", got)
	}

	if _, err := r.Read(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLockRepo_Create(t *testing.T) {
	r, mock := newMockLockRepo(t)
	rec := testLockRecord()

	mock.ExpectQuery("(?s)INSERT INTO scheduler_locks.+ON CONFLICT \\(lock_name\\) DO NOTHING").
		WithArgs(rec.Name, rec.HolderID, rec.AcquiredAt, rec.ExpiresAt, rec.RenewedAt, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(lockCols).
			AddRow(rec.Name, rec.HolderID, rec.AcquiredAt, rec.ExpiresAt, rec.RenewedAt, "v1"))
	// конфликт: ON CONFLICT DO NOTHING не возвращает строк
	mock.ExpectQuery("INSERT INTO scheduler_locks").
		WithArgs(rec.Name, rec.HolderID, rec.AcquiredAt, rec.ExpiresAt, rec.RenewedAt, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(lockCols))

	created, err := r.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Version != "v1" {
		t.Errorf("version = %q, want v1", created.Version)
	}

	if _, err := r.Create(context.Background(), rec); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLockRepo_Update(t *testing.T) {
	r, mock := newMockLockRepo(t)
	rec := testLockRecord()

	mock.ExpectQuery("(?s)UPDATE scheduler_locks.+WHERE lock_name = \\$1 AND version = \\$7").
		WithArgs(rec.Name, rec.HolderID, rec.AcquiredAt, rec.ExpiresAt, rec.RenewedAt, pgxmock.AnyArg(), "v1").
		WillReturnRows(pgxmock.NewRows(lockCols).
			AddRow(rec.Name, rec.HolderID, rec.AcquiredAt, rec.ExpiresAt, rec.RenewedAt, "v2"))
	mock.ExpectQuery("UPDATE scheduler_locks").
		WithArgs(rec.Name, rec.HolderID, rec.AcquiredAt, rec.ExpiresAt, rec.RenewedAt, pgxmock.AnyArg(), "stale").
		WillReturnRows(pgxmock.NewRows(lockCols))

	updated, err := r.Update(context.Background(), rec, "v1")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != "v2" {
		t.Errorf("version = %q, want v2", updated.Version)
	}

	if _, err := r.Update(context.Background(), rec, "stale"); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("expected ErrVersionMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLockRepo_Delete(t *testing.T) {
	tests := []struct {
		name    string
		deleted int64
		exists  bool
		want    error
	}{
		{"matching version", 1, false, nil},
		{"other version", 0, true, ErrVersionMismatch},
		{"no record", 0, false, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mock := newMockLockRepo(t)

			mock.ExpectExec("DELETE FROM scheduler_locks WHERE lock_name = \\$1 AND version = \\$2").
				WithArgs("scheduler-leader", "v1").
				WillReturnResult(pgxmock.NewResult("DELETE", tt.deleted))
			if tt.deleted == 0 {
				mock.ExpectQuery("SELECT EXISTS\\(SELECT 1 FROM scheduler_locks WHERE lock_name = \\$1\\)").
					WithArgs("scheduler-leader").
					WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(tt.exists))
			}

			err := r.Delete(context.Background(), "scheduler-leader", "v1")
			if !errors.Is(err, tt.want) {
				t.Errorf("Delete error = %v, want %v", err, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("expectations: %v", err)
			}
		})
	}
}

func TestLockRepo_DatabaseError(t *testing.T) {
	r, mock := newMockLockRepo(t)
	dbErr := errors.New("connection reset")

	mock.ExpectExec("DELETE FROM scheduler_locks").
		WithArgs("scheduler-leader", "v1").
		WillReturnError(dbErr)

	err := r.Delete(context.Background(), "scheduler-leader", "v1")
	if !errors.Is(err, dbErr) {
		t.Errorf("expected wrapped db error, got %v", err)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrVersionMismatch) {
		t.Errorf("db error must not look like a CAS result: %v", err)
	}
}
