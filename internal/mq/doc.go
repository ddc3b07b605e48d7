// Package mq — RabbitMQ транспорт очереди jobs.
//
// Структура:
//   - connection.go — соединение с reconnect, ошибки соединения в Errors()
//   - topology.go   — объявление exchanges, queues, bindings
//   - transport.go  — queue.Transport: публикация и потребление с ручным ack
//
// Топология:
//
//	pricewatch.jobs (direct)
//	└── jobs.search [routing: search]   quorum, x-delivery-limit = 5
//	        Consumer: pricewatch-worker
//	        DLQ: dlq.jobs
//
//	pricewatch.dlq (direct)
//	└── dlq.jobs [routing: jobs]        ручной разбор
//
// Ключ группировки передаётся в заголовке x-group-key. RabbitMQ не
// сериализует сообщения по группам: одна группа может обрабатываться
// параллельно несколькими consumer'ами.
package mq
