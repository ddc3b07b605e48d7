// Package scheduler реализует планировщик сохранённых поисков.
//
// Scheduler работает на всех экземплярах worker'а, но планирует только
// тот, кто держит распределённую блокировку (lock.Lock). Остальные
// экземпляры на каждом тике получают false от Acquire и ничего не делают.
//
// Структура:
//   - scheduler.go — Scheduler (Start, Tick, Stop, Status), circuit breaker
//   - cron.go      — вычисление next_run (интервал в часах или cron-выражение)
//
// Тик:
//
//	Acquire ──false──► пропуск
//	   │true
//	   ▼
//	FindDue(BatchSize, по next_run) ──пусто──► сброс ошибок, Renew
//	   │
//	   ▼
//	PublishBatch(jobs) → параллельный Update(next_run, last_run_at) → сброс ошибок, Renew
//
// Состояния: Stopped → Starting → Running → Stopped. Ошибки тиков
// считаются подряд; на MaxConsecutiveErrors scheduler переходит в Stopped,
// останавливает ticker и отпускает блокировку. Процесс при этом
// продолжает потреблять очередь.
//
// Если публикация прошла, а часть обновлений next_run нет, эти поиски
// будут опубликованы повторно на следующем тике (at-least-once).
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Store:        searchRepo,
//	    Publisher:    queue.NewPublisher(transport),
//	    Leader:       leaderLock,
//	    PollInterval: 5 * time.Minute,
//	    Logger:       logger,
//	})
//	if err := sched.Start(ctx); err != nil {
//	    return err // фатально только при старте
//	}
//	defer sched.Stop(shutdownCtx)
package scheduler
