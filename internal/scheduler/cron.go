package scheduler

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Pricewatch/internal/domain"
)

// ErrInvalidSchedule — у поиска нет корректного расписания.
var ErrInvalidSchedule = errors.New("invalid schedule")

// cronParser — парсер cron-выражений (5 полей, без секунд).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun вычисляет следующее время запуска поиска от момента from.
//
// Для cron-расписания — первое срабатывание строго после from в часовом
// поясе расписания. Для интервального — from + IntervalHours.
// Результат всегда в UTC.
func NextRun(sched domain.SearchSchedule, from time.Time) (time.Time, error) {
	if sched.IsCron() {
		loc, err := time.LoadLocation(sched.Timezone)
		if err != nil {
			// Fallback на UTC, как и при пустом timezone
			loc = time.UTC
		}
		return nextCron(sched.CronExpr, from.In(loc))
	}

	if sched.IntervalHours <= 0 {
		return time.Time{}, fmt.Errorf("%w: interval_hours must be positive, got %v",
			ErrInvalidSchedule, sched.IntervalHours)
	}
	return from.Add(sched.Interval()).UTC(), nil
}

func nextCron(expr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse cron expression %q: %v", ErrInvalidSchedule, expr, err)
	}
	return schedule.Next(from).UTC(), nil
}
