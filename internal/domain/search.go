package domain

import (
	"time"
)

// Search — сохранённый поиск пользователя, который периодически
// перезапускается по расписанию.
//
// Scheduler проверяет schedule.next_run и публикует job, когда время подошло.
// Сама логика скрейпинга живёт во внешнем движке — здесь только метаданные.
type Search struct {
	// ID — уникальный идентификатор поиска.
	ID string `json:"id"`

	// UserID — владелец поиска. Используется как ключ группировки
	// (partition key) в хранилище.
	UserID string `json:"user_id"`

	// Name — имя поиска для удобства.
	Name string `json:"name,omitempty"`

	// Criteria — критерии поиска, передаются в scraper как есть.
	// Примеры: {"query": "iphone 15", "max_price": 900}
	Criteria map[string]any `json:"criteria,omitempty"`

	// Active — флаг активности поиска.
	// Неактивные поиски не планируются и не обрабатываются.
	Active bool `json:"active"`

	// Schedule — расписание автоматического запуска.
	Schedule SearchSchedule `json:"schedule"`

	// LastRunAt — время последнего планирования.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// CreatedAt — время создания поиска.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchSchedule — расписание поиска.
type SearchSchedule struct {
	// Enabled — если false, scheduler игнорирует поиск.
	Enabled bool `json:"enabled"`

	// NextRun — время следующего запуска.
	// Scheduler публикует job, когда now >= NextRun.
	NextRun time.Time `json:"next_run"`

	// IntervalHours — интервал между запусками в часах.
	// Допускаются дробные значения (0.5 = 30 минут).
	IntervalHours float64 `json:"interval_hours"`

	// CronExpr — необязательное cron-выражение (5 полей).
	// Если задано, имеет приоритет над IntervalHours.
	CronExpr string `json:"cron_expr,omitempty"`

	// Timezone — часовой пояс для CronExpr (IANA). Пусто = UTC.
	Timezone string `json:"timezone,omitempty"`
}

// IsCron проверяет, задано ли расписание cron-выражением.
func (s SearchSchedule) IsCron() bool {
	return s.CronExpr != ""
}

// Interval возвращает интервал расписания как time.Duration.
func (s SearchSchedule) Interval() time.Duration {
	return time.Duration(s.IntervalHours * float64(time.Hour))
}

// IsDue проверяет, пора ли запускать поиск.
//
// Поиск due, только если он активен, расписание включено и next_run <= now.
func (s *Search) IsDue(now time.Time) bool {
	if !s.Active || !s.Schedule.Enabled {
		return false
	}
	return !s.Schedule.NextRun.After(now)
}

// SearchPatch — частичное обновление поиска.
// Nil-поля не изменяются.
type SearchPatch struct {
	NextRun   *time.Time
	LastRunAt *time.Time
}

// ScheduledPatch возвращает patch, который выставляет next_run
// и записывает last_run_at = момент планирования.
func (s *Search) ScheduledPatch(at, next time.Time) SearchPatch {
	next = next.UTC()
	last := at.UTC()
	return SearchPatch{
		NextRun:   &next,
		LastRunAt: &last,
	}
}
