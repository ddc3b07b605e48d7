package domain

import "time"

// LockRecord — запись распределённой блокировки в общем хранилище.
//
// Запись идентифицирует единственную роль лидера (например, scheduler).
// Владение определяется только содержимым записи в хранилище:
// локальный флаг "я лидер" может устареть и всегда перепроверяется.
//
// Жизненный цикл:
//
//	(нет записи) → создана первым лидером
//	             → version меняется при каждом renew / takeover
//	             → удалена при graceful release
//	             → после истечения перезаписывается следующим лидером
type LockRecord struct {
	// Name — имя блокировки (ключ записи).
	Name string `json:"lock_name"`

	// HolderID — идентификатор экземпляра, который держит блокировку.
	HolderID string `json:"holder_id"`

	// AcquiredAt — время захвата текущим владельцем.
	AcquiredAt time.Time `json:"acquired_at"`

	// ExpiresAt — время истечения. Запись "живая", пока ExpiresAt > now.
	ExpiresAt time.Time `json:"expires_at"`

	// RenewedAt — время последнего продления.
	RenewedAt time.Time `json:"renewed_at"`

	// Version — непрозрачный токен версии, выдаётся хранилищем.
	// Обязателен для условного update/delete (optimistic concurrency).
	Version string `json:"version"`
}

// IsExpired проверяет, истекла ли блокировка на момент now.
func (r *LockRecord) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// IsHeldBy проверяет, держит ли holderID живую блокировку.
func (r *LockRecord) IsHeldBy(holderID string, now time.Time) bool {
	return r.HolderID == holderID && !r.IsExpired(now)
}

// Clone возвращает копию записи.
func (r *LockRecord) Clone() *LockRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
