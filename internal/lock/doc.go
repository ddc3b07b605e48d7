// Package lock реализует leader election над одной записью в общем хранилище.
//
// # Модель
//
// Блокировка — это запись LockRecord{name, holder_id, expires_at, version}.
// Лидер — экземпляр, чей holder_id записан в живой (expires_at > now) записи.
// Каждое изменение записи — условная запись по версии (compare-and-swap),
// поэтому два экземпляра не могут одновременно успешно изменить одну и ту же
// версию, и split-brain исключён.
//
// # Операции
//
//	Acquire  — read → create-if-absent / take-over-if-expired
//	Renew    — update-if-version: expires_at = now + D
//	Release  — delete-if-version (чужая версия или отсутствие — не ошибка)
//	IsHeld   — cached expires_at > now, только для статуса
//
// # Тайминги
//
// Время жизни D (90s) примерно в три раза больше периода продления R (30s):
// один пропущенный renew из-за задержки не приводит к потере лидерства.
// Упавший лидер не освобождает блокировку, она просто истекает через D.
//
// После успешного Acquire блокировка сама продлевает себя каждые R
// (Config.DisableAutoRenew отключает это). Mismatch при продлении означает,
// что лидерство перехвачено: локальное состояние сбрасывается, цикл
// продления останавливается.
//
// # Хранилища
//
//	repo.LockRepo      — Postgres, таблица scheduler_locks
//	dynamolock.Store   — DynamoDB, ConditionExpression
//	redislock.Store    — Redis, Lua-скрипты
//	MemoryStore        — в памяти (тесты, LOCK_STORE=memory)
package lock
