package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Pricewatch/internal/domain"
)

// SearchRepo — репозиторий для работы с searches.
type SearchRepo struct {
	pool *pgxpool.Pool
}

// NewSearchRepo создаёт новый SearchRepo.
func NewSearchRepo(pool *pgxpool.Pool) *SearchRepo {
	return &SearchRepo{pool: pool}
}

const searchColumns = `
	id, user_id, name, criteria, active, schedule_enabled,
	next_run, interval_hours, cron_expr, timezone,
	last_run_at, created_at, updated_at
`

// GetByID возвращает search по ID.
func (r *SearchRepo) GetByID(ctx context.Context, id string) (*domain.Search, error) {
	query := `SELECT ` + searchColumns + ` FROM searches WHERE id = $1`
	return scanSearch(r.pool.QueryRow(ctx, query, id))
}

// Get возвращает search по ID в пределах владельца.
func (r *SearchRepo) Get(ctx context.Context, id, userID string) (*domain.Search, error) {
	query := `SELECT ` + searchColumns + ` FROM searches WHERE id = $1 AND user_id = $2`
	return scanSearch(r.pool.QueryRow(ctx, query, id, userID))
}

// FindDue возвращает поиски, готовые к запуску, начиная с самых просроченных.
func (r *SearchRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.Search, error) {
	query := `SELECT ` + searchColumns + `
		FROM searches
		WHERE active = true
		  AND schedule_enabled = true
		  AND next_run <= $1
		ORDER BY next_run ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find due searches: %w", err)
	}
	defer rows.Close()

	var searches []domain.Search
	for rows.Next() {
		s, err := scanSearch(rows)
		if err != nil {
			return nil, err
		}
		searches = append(searches, *s)
	}
	return searches, rows.Err()
}

// Update частично обновляет search. Поля patch со значением nil не меняются.
func (r *SearchRepo) Update(ctx context.Context, id, userID string, patch domain.SearchPatch) (*domain.Search, error) {
	query := `
		UPDATE searches
		SET next_run    = COALESCE($3, next_run),
		    last_run_at = COALESCE($4, last_run_at),
		    updated_at  = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING ` + searchColumns

	s, err := scanSearch(r.pool.QueryRow(ctx, query, id, userID, patch.NextRun, patch.LastRunAt))
	if err != nil {
		return nil, fmt.Errorf("update search %s: %w", id, err)
	}
	return s, nil
}

// Ping проверяет доступность БД.
func (r *SearchRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanSearch(row pgx.Row) (*domain.Search, error) {
	var s domain.Search
	var name, cronExpr, timezone *string
	var criteriaJSON []byte

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&name,
		&criteriaJSON,
		&s.Active,
		&s.Schedule.Enabled,
		&s.Schedule.NextRun,
		&s.Schedule.IntervalHours,
		&cronExpr,
		&timezone,
		&s.LastRunAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan search: %w", err)
	}

	if name != nil {
		s.Name = *name
	}
	if cronExpr != nil {
		s.Schedule.CronExpr = *cronExpr
	}
	if timezone != nil {
		s.Schedule.Timezone = *timezone
	}
	if criteriaJSON != nil {
		if err := json.Unmarshal(criteriaJSON, &s.Criteria); err != nil {
			return nil, fmt.Errorf("unmarshal criteria: %w", err)
		}
	}

	return &s, nil
}
