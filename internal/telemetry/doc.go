// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики
//
// Процессы pricewatch используют единый формат логирования
// (LOG_LEVEL, LOG_FORMAT) и экспортируют метрики на /metrics endpoint.
//
// Метрики:
//
//	pricewatch_lock_held{lock}                    — 1, если экземпляр лидер
//	pricewatch_lock_operations_total{op,result}   — acquire/renew/release
//	pricewatch_scheduler_ticks_total{result}      — skipped/ok/error
//	pricewatch_scheduler_jobs_published_total     — опубликованные jobs
//	pricewatch_scheduler_consecutive_errors       — счётчик circuit breaker
//	pricewatch_queue_messages_total{outcome}      — complete/abandon/stale
//	pricewatch_job_duration_seconds               — длительность handler
//	pricewatch_http_requests_total{method,status} — HTTP API
package telemetry
