// Package cli реализует инструмент командной строки Pricewatch.
//
// # Обзор
//
// CLI — клиентская утилита для HTTP API worker'а. Не импортирует
// внутренние пакеты системы: типы ответов продублированы в client.go.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Разбирает DataResponse и ErrorResponse,
// ошибки API возвращаются как *APIError.
//
//	client := cli.NewClient("http://localhost:8082")
//	status, err := client.SchedulerStatus(ctx)
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: pricewatch status --json | jq .
//
// ## Commands
//
//   - status — состояние scheduler и блокировки лидера
//   - search run ID — ручной запуск поиска
//
// Команды создаются фабричными функциями (NewStatusCmd, NewSearchCmd),
// принимающими clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
