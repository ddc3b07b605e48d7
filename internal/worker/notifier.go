package worker

import (
	"context"
	"log/slog"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/telemetry"
)

// Notifier — исходящее уведомление пользователя об итогах запуска.
// Доставка (email и т.п.) живёт во внешнем сервисе.
type Notifier interface {
	Notify(ctx context.Context, search *domain.Search, insights Insights) error
}

// LogNotifier пишет уведомления в лог. Используется, пока внешний
// сервис уведомлений не подключён.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify логирует итоги запуска.
func (n *LogNotifier) Notify(_ context.Context, search *domain.Search, insights Insights) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = telemetry.WithSearchID(logger, search.ID).With("user_id", search.UserID)

	args := []any{
		"listings", insights.Current.Count,
		"min_price", insights.Current.Min,
		"avg_price", insights.Current.Avg,
		"new_listings", insights.New,
		"price_drops", len(insights.Drops),
	}
	if len(insights.Drops) > 0 {
		top := insights.Drops[0]
		args = append(args,
			"top_drop_id", top.ExternalID,
			"top_drop_old", top.OldPrice,
			"top_drop_new", top.NewPrice,
		)
	}
	logger.Info("search notification", args...)
	return nil
}
