package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/repo"
	"github.com/shaiso/Pricewatch/internal/telemetry"
)

// historyLimit — сколько последних записей цен читается для сравнения.
const historyLimit = 500

// SearchLoader загружает поиск в пределах владельца.
type SearchLoader interface {
	Get(ctx context.Context, id, userID string) (*domain.Search, error)
}

// PriceStore сохраняет и читает историю цен.
type PriceStore interface {
	SaveBatch(ctx context.Context, records []domain.PriceRecord) (int64, error)
	ListLatest(ctx context.Context, searchID string, limit int) ([]domain.PriceRecord, error)
}

// ProcessorConfig — конфигурация Processor.
type ProcessorConfig struct {
	Searches SearchLoader
	Prices   PriceStore
	Registry *Registry
	Notifier Notifier

	// NotifyUnchanged — уведомлять даже без новых объявлений и снижений.
	NotifyUnchanged bool

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Processor выполняет один job: scrape → сохранение цен → insights → уведомление.
type Processor struct {
	searches        SearchLoader
	prices          PriceStore
	registry        *Registry
	notifier        Notifier
	notifyUnchanged bool
	clock           clockwork.Clock
	logger          *slog.Logger
}

// NewProcessor создаёт Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	return &Processor{
		searches:        cfg.Searches,
		prices:          cfg.Prices,
		registry:        registry,
		notifier:        notifier,
		notifyUnchanged: cfg.NotifyUnchanged,
		clock:           clk,
		logger:          logger,
	}
}

// Process обрабатывает job.
//
//  1. Загружает поиск (нет → ErrSearchNotFound, non-retryable).
//  2. Неактивный поиск → ErrSearchInactive, non-retryable.
//  3. Scrape через scraper источника.
//  4. Сохраняет цены.
//  5. Сравнивает с предыдущим запуском и уведомляет.
//
// Ошибка уведомления не возвращается: цены уже сохранены, повтор
// job создал бы дубликаты.
func (p *Processor) Process(ctx context.Context, job domain.JobMessage) error {
	logger := telemetry.WithSearchID(p.logger, job.SearchID).With("schedule_type", job.ScheduleType)

	// 1. Загружаем поиск
	search, err := p.searches.Get(ctx, job.SearchID, job.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSearchNotFound, job.SearchID)
		}
		return fmt.Errorf("get search: %w", err)
	}

	// 2. Проверяем активность
	if !search.Active {
		return fmt.Errorf("%w: %s", ErrSearchInactive, search.ID)
	}

	// 3. Scrape
	scraper, err := p.registry.Get(sourceOf(search))
	if err != nil {
		return err
	}
	started := p.clock.Now()
	listings, err := scraper.Scrape(ctx, search)
	if err != nil {
		return fmt.Errorf("scrape search %s: %w", search.ID, err)
	}
	listings = normalizeListings(listings)

	logger.Info("search scraped",
		"listings", len(listings),
		"duration", p.clock.Now().Sub(started),
	)

	// 4. Сохраняем цены. Историю читаем до записи, чтобы сравнивать
	// с предыдущим запуском.
	previous, err := p.prices.ListLatest(ctx, search.ID, historyLimit)
	if err != nil {
		return fmt.Errorf("list previous prices: %w", err)
	}

	observedAt := p.clock.Now().UTC().Truncate(time.Microsecond)
	records := domain.NewPriceRecords(search, listings, observedAt)
	if len(records) > 0 {
		if _, err := p.prices.SaveBatch(ctx, records); err != nil {
			return fmt.Errorf("save prices: %w", err)
		}
	}

	// 5. Insights и уведомление
	insights := BuildInsights(search.ID, records, previous)
	if !insights.HasChanges() && !p.notifyUnchanged {
		logger.Debug("no price changes, skipping notification")
		return nil
	}
	if err := p.notifier.Notify(ctx, search, insights); err != nil {
		logger.Warn("failed to send notification", "error", err)
	}
	return nil
}
