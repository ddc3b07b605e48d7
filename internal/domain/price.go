package domain

import "time"

// Listing — сырая запись объявления, которую возвращает scraper.
type Listing struct {
	ExternalID string  `json:"external_id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency,omitempty"`
}

// PriceRecord — сохранённая цена объявления на момент запуска поиска.
type PriceRecord struct {
	SearchID   string    `json:"search_id"`
	UserID     string    `json:"user_id"`
	ExternalID string    `json:"external_id"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	Price      float64   `json:"price"`
	Currency   string    `json:"currency,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// NewPriceRecords конвертирует listings в price records одного запуска.
func NewPriceRecords(s *Search, listings []Listing, observedAt time.Time) []PriceRecord {
	records := make([]PriceRecord, 0, len(listings))
	for _, l := range listings {
		records = append(records, PriceRecord{
			SearchID:   s.ID,
			UserID:     s.UserID,
			ExternalID: l.ExternalID,
			Title:      l.Title,
			URL:        l.URL,
			Price:      l.Price,
			Currency:   l.Currency,
			ObservedAt: observedAt.UTC(),
		})
	}
	return records
}

// PriceSummary — агрегаты по ценам одного запуска.
type PriceSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}
