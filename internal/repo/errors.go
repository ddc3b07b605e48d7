package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionMismatch — условная запись отклонена: версия в хранилище
	// отличается от ожидаемой (запись изменил кто-то другой).
	ErrVersionMismatch = errors.New("version mismatch")
)
