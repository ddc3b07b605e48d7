package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Pricewatch/internal/queue"
)

// HeaderGroupKey — заголовок с ключом группировки (searchId).
const HeaderGroupKey = "x-group-key"

// headerDeliveryCount выставляет quorum очередь при повторных доставках.
const headerDeliveryCount = "x-delivery-count"

// TransportConfig — конфигурация RabbitMQ транспорта.
type TransportConfig struct {
	// Prefetch — количество неподтверждённых сообщений на consumer (default: 1).
	Prefetch int

	Logger *slog.Logger
}

// Transport — queue.Transport поверх RabbitMQ.
//
// Peek-lock моделируется ручным ack: неподтверждённое сообщение не видно
// другим consumer'ам, пока канал жив.
//
//	Complete   → basic.ack
//	Abandon    → basic.nack(requeue=true)
//	ExtendLock → no-op: брокер держит сообщение до ack или закрытия канала
type Transport struct {
	conn     *Connection
	prefetch int
	logger   *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewTransport создаёт Transport поверх соединения.
func NewTransport(conn *Connection, cfg TransportConfig) *Transport {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{conn: conn, prefetch: prefetch, logger: logger}
}

// Send публикует сообщения в pricewatch.jobs.
func (t *Transport) Send(ctx context.Context, msgs []queue.Outgoing) error {
	return t.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, m := range msgs {
			if err := ch.PublishWithContext(ctx,
				string(ExchangeJobs),     // exchange
				string(RoutingKeySearch), // routing key
				false,                    // mandatory
				false,                    // immediate
				publishing(m, time.Now()),
			); err != nil {
				return fmt.Errorf("publish message %s: %w", m.ID, err)
			}
			t.logger.Debug("published message", "message_id", m.ID, "group_key", m.GroupKey)
		}
		return nil
	})
}

// Receive запускает потребление jobs.search с переподключением.
// Разрывы соединения и ошибки consume попадают в канал ошибок.
func (t *Transport) Receive(ctx context.Context) (<-chan queue.Delivery, <-chan error) {
	out := make(chan queue.Delivery)
	errs := make(chan error)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t.consume(ctx, out, errs)
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-t.conn.Errors():
				select {
				case errs <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
		close(errs)
	}()

	return out, errs
}

func (t *Transport) consume(ctx context.Context, out chan<- queue.Delivery, errs chan<- error) {
	for {
		if ctx.Err() != nil {
			return
		}

		deliveries, err := t.setupConsume()
		if err != nil {
			t.logger.Error("failed to setup consume", "queue", QueueJobs, "error", err)
			select {
			case errs <- err:
			case <-ctx.Done():
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-t.conn.ReconnectNotify():
				continue
			}
		}

		t.logger.Info("consumer started", "queue", QueueJobs)

		if !t.forward(ctx, deliveries, out) {
			return
		}

		t.logger.Warn("deliveries channel closed, waiting for reconnect", "queue", QueueJobs)
		select {
		case <-ctx.Done():
			return
		case <-t.conn.ReconnectNotify():
		}
	}
}

// forward передаёт доставки в out. Возвращает false при отмене ctx.
func (t *Transport) forward(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- queue.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case raw, ok := <-deliveries:
			if !ok {
				return true
			}
			select {
			case out <- &delivery{raw: raw}:
			case <-ctx.Done():
				// Неподтверждённое сообщение вернётся в очередь при закрытии канала.
				return false
			}
		}
	}
}

func (t *Transport) setupConsume() (<-chan amqp.Delivery, error) {
	ch := t.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}

	if err := ch.Qos(t.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(QueueJobs), // queue
		"",                // consumer tag (auto-generated)
		false,             // auto-ack (ack вручную)
		false,             // exclusive
		false,             // no-local
		false,             // no-wait
		nil,               // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	return deliveries, nil
}

// Ping проверяет, что соединение с брокером установлено.
func (t *Transport) Ping(context.Context) error {
	if !t.conn.IsConnected() {
		return errors.New("rabbitmq: not connected")
	}
	return nil
}

// Close закрывает соединение.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func publishing(m queue.Outgoing, now time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Timestamp:    now,
		Headers:      amqp.Table{HeaderGroupKey: m.GroupKey},
		Body:         m.Body,
	}
}

// delivery — queue.Delivery поверх amqp.Delivery.
type delivery struct {
	raw amqp.Delivery
}

func (d *delivery) Envelope() queue.Envelope {
	groupKey, _ := d.raw.Headers[HeaderGroupKey].(string)
	return queue.Envelope{
		ID:            d.raw.MessageId,
		Body:          d.raw.Body,
		GroupKey:      groupKey,
		DeliveryCount: deliveryCount(d.raw),
	}
}

func (d *delivery) Complete(context.Context) error {
	if err := d.raw.Ack(false); err != nil {
		return wrapAckError("ack", err)
	}
	return nil
}

func (d *delivery) Abandon(context.Context) error {
	if err := d.raw.Nack(false, true); err != nil {
		return wrapAckError("nack", err)
	}
	return nil
}

func (d *delivery) ExtendLock(context.Context) error {
	return nil
}

// deliveryCount возвращает номер доставки (1 — первая).
func deliveryCount(raw amqp.Delivery) int {
	switch v := raw.Headers[headerDeliveryCount].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if raw.Redelivered {
		return 2
	}
	return 1
}

func wrapAckError(op string, err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return fmt.Errorf("%s: %w", op, queue.ErrLockLost)
	}
	return fmt.Errorf("%s: %w", op, err)
}
