// Package api содержит HTTP API worker'а.
//
// Структура:
//   - handler.go        — Handler с DI (scheduler, поиски, publisher, logger)
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (recovery, metrics, logging)
//   - response.go       — унифицированные JSON-ответы и обработка ошибок
//   - dto.go            — Data Transfer Objects
//   - health_handler.go — /healthz, /readyz
//   - status_handler.go — статус scheduler
//   - search_handler.go — ручной запуск поиска
//
// Маршруты:
//
//	GET  /healthz                     liveness
//	GET  /readyz                      readiness (db, queue, lock)
//	GET  /metrics                     Prometheus
//	GET  /api/v1/scheduler/status     {isRunning, lastTickTime, consecutiveErrors, ...}
//	POST /api/v1/searches/{id}/run    manual job, 202 + messageId
package api
