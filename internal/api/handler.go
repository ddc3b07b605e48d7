package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/scheduler"
)

// StatusProvider — источник статуса scheduler.
type StatusProvider interface {
	Status() scheduler.Status
}

// SearchFinder загружает поиск по ID.
type SearchFinder interface {
	GetByID(ctx context.Context, id string) (*domain.Search, error)
}

// JobPublisher публикует job в очередь.
type JobPublisher interface {
	Publish(ctx context.Context, job domain.JobMessage) (string, error)
}

// Pinger — зависимость, проверяемая в /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	scheduler StatusProvider
	searches  SearchFinder
	publisher JobPublisher
	checks    map[string]Pinger
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Scheduler StatusProvider
	Searches  SearchFinder
	Publisher JobPublisher

	// Checks — зависимости для /readyz по имени (db, queue, lock).
	Checks map[string]Pinger

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		scheduler: cfg.Scheduler,
		searches:  cfg.Searches,
		publisher: cfg.Publisher,
		checks:    cfg.Checks,
		logger:    logger,
	}
}
