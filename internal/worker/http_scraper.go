package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/queue"
	"github.com/shaiso/Pricewatch/internal/telemetry"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 200
)

// HTTPScraper — Scraper, который передаёт criteria внешнему
// scraping-сервису.
//
// Запрос:
//
//	POST {BaseURL}/scrape
//	{"searchId": "...", "criteria": {...}}
//
// Ответ 2xx:
//
//	{"listings": [{"external_id": "...", "title": "...", "url": "...", "price": 10.5}]}
//
// Классификация ответа:
//   - 404, 410 — источник больше не существует (permanent)
//   - 400, 422 — criteria отвергнуты сервисом (permanent)
//   - 429, 5xx, сетевые ошибки — retriable
type HTTPScraper struct {
	// BaseURL — адрес scraping-сервиса (SCRAPER_URL).
	BaseURL string

	// Client — HTTP-клиент (default: &http.Client{}).
	Client *http.Client

	// Timeout — таймаут одного запроса (default: 60s).
	Timeout time.Duration
}

type scrapeRequest struct {
	SearchID string         `json:"searchId"`
	Criteria map[string]any `json:"criteria"`
}

type scrapeResponse struct {
	Listings []domain.Listing `json:"listings"`
}

// Scrape выполняет запрос к scraping-сервису.
func (s *HTTPScraper) Scrape(ctx context.Context, search *domain.Search) ([]domain.Listing, error) {
	if s.BaseURL == "" {
		return nil, fmt.Errorf("%w: scraper url is not configured", ErrScrapeFailed)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(scrapeRequest{SearchID: search.ID, Criteria: search.Criteria})
	if err != nil {
		return nil, queue.Permanent(fmt.Errorf("%w: marshal criteria: %v", ErrScrapeFailed, err))
	}

	url := strings.TrimRight(s.BaseURL, "/") + "/scrape"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrScrapeFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = &http.Client{}
	}
	logger := telemetry.FromContext(ctx)
	logger.Debug("calling scraper", "url", url, "search_id", search.ID)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, queue.Retryable(fmt.Errorf("%w: %v", ErrScrapeFailed, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, queue.Retryable(fmt.Errorf("%w: read response: %v", ErrScrapeFailed, err))
	}

	logger.Debug("scraper responded", "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var out scrapeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, queue.Retryable(fmt.Errorf("%w: decode response: %v", ErrScrapeFailed, err))
	}
	return out.Listings, nil
}

// classifyStatus превращает не-2xx ответ в ошибку нужного класса.
// Класс определяется только кодом: тело ответа попадает в текст ошибки,
// поэтому остальные коды явно помечаются Retryable.
func classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("%w: HTTP %d: %s", ErrScrapeFailed, status, truncate(string(body), maxErrorBody))
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return queue.Permanent(fmt.Errorf("search source no longer exists: %w", err))
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return queue.Permanent(err)
	default:
		return queue.Retryable(err)
	}
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
