package queue

import (
	"context"
)

// Outgoing — сообщение для отправки.
type Outgoing struct {
	// ID — уникальный идентификатор сообщения (назначает Publisher).
	ID string

	// Body — тело сообщения (JSON job).
	Body []byte

	// GroupKey — ключ группировки. Сообщения с одним ключом
	// обрабатываются последовательно, если транспорт это поддерживает.
	GroupKey string
}

// Envelope — метаданные доставленного сообщения.
type Envelope struct {
	ID            string
	Body          []byte
	GroupKey      string
	DeliveryCount int
}

// Delivery — сообщение, доставленное в режиме peek-lock.
//
// Пока сообщение не завершено (Complete) или не возвращено (Abandon),
// оно невидимо для других consumer'ов. ExtendLock продлевает невидимость.
type Delivery interface {
	Envelope() Envelope
	Complete(ctx context.Context) error
	Abandon(ctx context.Context) error
	ExtendLock(ctx context.Context) error
}

// Transport — брокер сообщений с peek-lock доставкой.
//
// Реализации: mq.Transport (RabbitMQ), sqs.Transport (AWS SQS),
// MemoryTransport (в памяти процесса).
type Transport interface {
	// Send отправляет пачку сообщений.
	Send(ctx context.Context, msgs []Outgoing) error

	// Receive запускает получение сообщений. Оба канала закрываются,
	// когда ctx отменён или транспорт закрыт. В канал ошибок попадают
	// ошибки транспорта, не связанные с конкретным сообщением.
	Receive(ctx context.Context) (<-chan Delivery, <-chan error)

	// Close закрывает соединения транспорта.
	Close() error
}

// Pinger — транспорт, умеющий проверять доступность брокера.
type Pinger interface {
	Ping(ctx context.Context) error
}

// WithoutClose возвращает транспорт, у которого Close ничего не делает.
// Нужен, когда один транспорт делят Publisher и Consumer с разными
// временами жизни.
func WithoutClose(t Transport) Transport {
	return nopCloser{t}
}

type nopCloser struct {
	Transport
}

func (nopCloser) Close() error { return nil }

func (n nopCloser) Ping(ctx context.Context) error {
	if p, ok := n.Transport.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
