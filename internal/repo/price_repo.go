package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Pricewatch/internal/domain"
)

// PriceRepo — репозиторий для price records.
type PriceRepo struct {
	pool *pgxpool.Pool
}

// NewPriceRepo создаёт новый PriceRepo.
func NewPriceRepo(pool *pgxpool.Pool) *PriceRepo {
	return &PriceRepo{pool: pool}
}

var priceColumns = []string{
	"search_id", "user_id", "external_id", "title", "url", "price", "currency", "observed_at",
}

// SaveBatch сохраняет записи одним COPY.
// Возвращает количество вставленных строк.
func (r *PriceRepo) SaveBatch(ctx context.Context, records []domain.PriceRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"price_records"},
		priceColumns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			rec := records[i]
			return []any{
				rec.SearchID,
				rec.UserID,
				rec.ExternalID,
				nullString(rec.Title),
				nullString(rec.URL),
				rec.Price,
				nullString(rec.Currency),
				rec.ObservedAt,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy price records: %w", err)
	}
	return n, nil
}

// ListLatest возвращает последние записи поиска.
func (r *PriceRepo) ListLatest(ctx context.Context, searchID string, limit int) ([]domain.PriceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT search_id, user_id, external_id, COALESCE(title, ''), COALESCE(url, ''),
		       price, COALESCE(currency, ''), observed_at
		FROM price_records
		WHERE search_id = $1
		ORDER BY observed_at DESC
		LIMIT $2
	`, searchID, limit)
	if err != nil {
		return nil, fmt.Errorf("list price records: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[domain.PriceRecord])
	if err != nil {
		return nil, fmt.Errorf("collect price records: %w", err)
	}
	return records, nil
}
