package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Pricewatch/internal/queue"
)

var _ queue.Transport = (*Transport)(nil)

// fakeAcknowledger записывает ack/nack.
type fakeAcknowledger struct {
	acked    int
	nacked   int
	requeued bool
	err      error
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.acked++
	return a.err
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return a.err
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { return a.err }

func TestPublishing(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := publishing(queue.Outgoing{ID: "m-1", Body: []byte(`{}`), GroupKey: "search-1"}, now)

	if p.MessageId != "m-1" {
		t.Errorf("expected message id m-1, got %s", p.MessageId)
	}
	if p.DeliveryMode != amqp.Persistent {
		t.Error("expected persistent delivery")
	}
	if p.Headers[HeaderGroupKey] != "search-1" {
		t.Errorf("expected group key header, got %v", p.Headers[HeaderGroupKey])
	}
	if p.ContentType != "application/json" {
		t.Errorf("unexpected content type %s", p.ContentType)
	}
}

func TestDelivery_Envelope(t *testing.T) {
	tests := []struct {
		name      string
		raw       amqp.Delivery
		wantCount int
	}{
		{
			name:      "first delivery",
			raw:       amqp.Delivery{MessageId: "m", Headers: amqp.Table{HeaderGroupKey: "g"}},
			wantCount: 1,
		},
		{
			name:      "quorum delivery count",
			raw:       amqp.Delivery{MessageId: "m", Headers: amqp.Table{HeaderGroupKey: "g", headerDeliveryCount: int64(3)}},
			wantCount: 4,
		},
		{
			name:      "redelivered flag only",
			raw:       amqp.Delivery{MessageId: "m", Redelivered: true},
			wantCount: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := (&delivery{raw: tt.raw}).Envelope()
			if env.ID != "m" {
				t.Errorf("expected id m, got %s", env.ID)
			}
			if env.DeliveryCount != tt.wantCount {
				t.Errorf("expected delivery count %d, got %d", tt.wantCount, env.DeliveryCount)
			}
		})
	}
}

func TestDelivery_CompleteAcks(t *testing.T) {
	ack := &fakeAcknowledger{}
	d := &delivery{raw: amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}}

	if err := d.Complete(context.Background()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if ack.acked != 1 || ack.nacked != 0 {
		t.Errorf("expected single ack, got acked=%d nacked=%d", ack.acked, ack.nacked)
	}
}

func TestDelivery_AbandonRequeues(t *testing.T) {
	ack := &fakeAcknowledger{}
	d := &delivery{raw: amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}}

	if err := d.Abandon(context.Background()); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	if ack.nacked != 1 || !ack.requeued {
		t.Errorf("expected nack with requeue, got nacked=%d requeue=%v", ack.nacked, ack.requeued)
	}
	if ack.acked != 0 {
		t.Error("abandon must not ack")
	}
}

func TestDelivery_ClosedChannelLosesLock(t *testing.T) {
	ack := &fakeAcknowledger{err: amqp.ErrClosed}
	d := &delivery{raw: amqp.Delivery{Acknowledger: ack, DeliveryTag: 1}}

	if err := d.Complete(context.Background()); !errors.Is(err, queue.ErrLockLost) {
		t.Errorf("expected ErrLockLost, got %v", err)
	}
	if err := d.ExtendLock(context.Background()); err != nil {
		t.Errorf("ExtendLock should be a no-op, got %v", err)
	}
}

func TestJobsQueueArgs(t *testing.T) {
	args := jobsQueueArgs(5)

	if args["x-queue-type"] != "quorum" {
		t.Errorf("expected quorum queue, got %v", args["x-queue-type"])
	}
	if args["x-delivery-limit"] != int32(5) {
		t.Errorf("expected delivery limit 5, got %v", args["x-delivery-limit"])
	}
	if args["x-dead-letter-exchange"] != string(ExchangeDLQ) {
		t.Errorf("expected DLX %s, got %v", ExchangeDLQ, args["x-dead-letter-exchange"])
	}
}
