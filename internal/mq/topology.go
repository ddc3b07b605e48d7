package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges.
const (
	ExchangeJobs Exchange = "pricewatch.jobs"
	ExchangeDLQ  Exchange = "pricewatch.dlq"
)

// Queues.
const (
	QueueJobs    Queue = "jobs.search"
	QueueDLQJobs Queue = "dlq.jobs"
)

// Routing keys.
const (
	RoutingKeySearch  RoutingKey = "search"
	RoutingKeyDLQJobs RoutingKey = "jobs"
)

// DefaultMaxDeliveries — x-delivery-limit очереди jobs по умолчанию.
const DefaultMaxDeliveries = 5

// SetupTopology объявляет exchanges, queues и bindings.
//
// jobs.search — quorum очередь: брокер считает доставки сам и после
// maxDeliveries неудачных попыток отправляет сообщение в pricewatch.dlq.
func SetupTopology(ctx context.Context, conn *Connection, maxDeliveries int) error {
	if maxDeliveries <= 0 {
		maxDeliveries = DefaultMaxDeliveries
	}

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch, maxDeliveries); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

func declareExchanges(ch *amqp.Channel) error {
	for _, name := range []Exchange{ExchangeJobs, ExchangeDLQ} {
		err := ch.ExchangeDeclare(
			string(name), // name
			"direct",     // type
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// jobsQueueArgs — аргументы очереди jobs.search.
func jobsQueueArgs(maxDeliveries int) amqp.Table {
	return amqp.Table{
		"x-queue-type":              "quorum",
		"x-delivery-limit":          int32(maxDeliveries),
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQJobs),
	}
}

func declareQueues(ch *amqp.Channel, maxDeliveries int) error {
	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueJobs, jobsQueueArgs(maxDeliveries)},
		{QueueDLQJobs, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueJobs, RoutingKeySearch, ExchangeJobs},
		{QueueDLQJobs, RoutingKeyDLQJobs, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}
