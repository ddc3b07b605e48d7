package worker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/queue"
)

// DefaultSource — источник по умолчанию, если criteria.source не задан.
const DefaultSource = "http"

// Scraper — внешний движок скрейпинга для одного источника.
//
// Реализации: HTTPScraper.
//
// Ошибки, обёрнутые в queue.Permanent, означают, что повтор бесполезен
// (источник удалён, criteria некорректны). Остальные ошибки retriable.
type Scraper interface {
	Scrape(ctx context.Context, search *domain.Search) ([]domain.Listing, error)
}

// ScraperFunc позволяет использовать функцию как Scraper.
type ScraperFunc func(ctx context.Context, search *domain.Search) ([]domain.Listing, error)

// Scrape вызывает f.
func (f ScraperFunc) Scrape(ctx context.Context, search *domain.Search) ([]domain.Listing, error) {
	return f(ctx, search)
}

// Registry — реестр scraper'ов по источнику (criteria.source).
type Registry struct {
	scrapers map[string]Scraper
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{scrapers: make(map[string]Scraper)}
}

// Register добавляет scraper для источника.
func (r *Registry) Register(source string, scraper Scraper) {
	r.scrapers[strings.ToLower(source)] = scraper
}

// Get возвращает scraper для источника.
// Неизвестный источник — permanent ошибка: повтор не поможет.
func (r *Registry) Get(source string) (Scraper, error) {
	scraper, ok := r.scrapers[strings.ToLower(source)]
	if !ok {
		return nil, queue.Permanent(fmt.Errorf("%w: %q (known: %s)",
			ErrUnknownSource, source, strings.Join(r.Sources(), ", ")))
	}
	return scraper, nil
}

// Sources возвращает отсортированный список источников.
func (r *Registry) Sources() []string {
	out := make([]string, 0, len(r.scrapers))
	for s := range r.scrapers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// sourceOf возвращает criteria.source или DefaultSource.
func sourceOf(search *domain.Search) string {
	if v, ok := search.Criteria["source"].(string); ok && v != "" {
		return v
	}
	return DefaultSource
}
