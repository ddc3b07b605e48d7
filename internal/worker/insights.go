package worker

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shaiso/Pricewatch/internal/domain"
)

// Insights — итоги одного запуска поиска для уведомления.
type Insights struct {
	SearchID string

	// Current — агрегаты текущего запуска.
	Current domain.PriceSummary

	// Previous — агрегаты предыдущего запуска (nil для первого).
	Previous *domain.PriceSummary

	// Drops — объявления, подешевевшие с прошлого запуска.
	Drops []PriceDrop

	// New — количество объявлений, которых не было в прошлом запуске.
	New int
}

// PriceDrop — снижение цены одного объявления.
type PriceDrop struct {
	ExternalID string
	Title      string
	URL        string
	OldPrice   float64
	NewPrice   float64
}

// Percent возвращает снижение в процентах от старой цены.
func (d PriceDrop) Percent() float64 {
	if d.OldPrice == 0 {
		return 0
	}
	return (d.OldPrice - d.NewPrice) / d.OldPrice * 100
}

// HasChanges сообщает, есть ли о чём уведомлять.
func (i Insights) HasChanges() bool {
	return len(i.Drops) > 0 || i.New > 0
}

// normalizeListings отбрасывает записи без external_id или с
// неположительной ценой. Дубликаты external_id схлопываются в самую
// низкую цену. Порядок — по возрастанию цены.
func normalizeListings(listings []domain.Listing) []domain.Listing {
	byID := make(map[string]domain.Listing, len(listings))
	for _, l := range listings {
		l.ExternalID = strings.TrimSpace(l.ExternalID)
		if l.ExternalID == "" || l.Price <= 0 || math.IsNaN(l.Price) || math.IsInf(l.Price, 0) {
			continue
		}
		if prev, ok := byID[l.ExternalID]; ok && prev.Price <= l.Price {
			continue
		}
		byID[l.ExternalID] = l
	}

	out := make([]domain.Listing, 0, len(byID))
	for _, l := range byID {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}

// Summarize считает count/min/max/avg по ценам.
func Summarize(records []domain.PriceRecord) domain.PriceSummary {
	if len(records) == 0 {
		return domain.PriceSummary{}
	}

	s := domain.PriceSummary{
		Count: len(records),
		Min:   records[0].Price,
		Max:   records[0].Price,
	}
	var sum float64
	for _, r := range records {
		s.Min = math.Min(s.Min, r.Price)
		s.Max = math.Max(s.Max, r.Price)
		sum += r.Price
	}
	s.Avg = math.Round(sum/float64(len(records))*100) / 100
	return s
}

// latestRun возвращает записи с наибольшим ObservedAt.
func latestRun(records []domain.PriceRecord) []domain.PriceRecord {
	var latest time.Time
	for _, r := range records {
		if r.ObservedAt.After(latest) {
			latest = r.ObservedAt
		}
	}
	var out []domain.PriceRecord
	for _, r := range records {
		if r.ObservedAt.Equal(latest) {
			out = append(out, r)
		}
	}
	return out
}

// BuildInsights сравнивает текущий запуск с предыдущим.
func BuildInsights(searchID string, current, previous []domain.PriceRecord) Insights {
	ins := Insights{
		SearchID: searchID,
		Current:  Summarize(current),
	}

	prevRun := latestRun(previous)
	if len(prevRun) == 0 {
		ins.New = len(current)
		return ins
	}
	prevSummary := Summarize(prevRun)
	ins.Previous = &prevSummary

	prevPrice := make(map[string]float64, len(prevRun))
	for _, r := range prevRun {
		prevPrice[r.ExternalID] = r.Price
	}
	for _, r := range current {
		old, ok := prevPrice[r.ExternalID]
		switch {
		case !ok:
			ins.New++
		case r.Price < old:
			ins.Drops = append(ins.Drops, PriceDrop{
				ExternalID: r.ExternalID,
				Title:      r.Title,
				URL:        r.URL,
				OldPrice:   old,
				NewPrice:   r.Price,
			})
		}
	}
	sort.Slice(ins.Drops, func(i, j int) bool {
		return ins.Drops[i].Percent() > ins.Drops[j].Percent()
	})
	return ins
}
