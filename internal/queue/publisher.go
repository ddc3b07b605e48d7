package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Pricewatch/internal/domain"
)

// Publisher отправляет job-сообщения в транспорт.
//
// Каждому сообщению назначается уникальный ID, ключ группировки
// равен searchId.
type Publisher struct {
	transport Transport

	mu     sync.Mutex
	closed bool
}

// NewPublisher создаёт Publisher поверх транспорта.
func NewPublisher(t Transport) *Publisher {
	return &Publisher{transport: t}
}

// Publish отправляет одно сообщение и возвращает его ID.
func (p *Publisher) Publish(ctx context.Context, job domain.JobMessage) (string, error) {
	ids, err := p.PublishBatch(ctx, []domain.JobMessage{job})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// PublishBatch отправляет пачку сообщений одним вызовом транспорта.
// Возвращает ID сообщений в порядке jobs.
func (p *Publisher) PublishBatch(ctx context.Context, jobs []domain.JobMessage) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	msgs := make([]Outgoing, 0, len(jobs))
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("invalid job for search %q: %w", job.SearchID, err)
		}
		body, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("marshal job: %w", err)
		}

		id := uuid.NewString()
		msgs = append(msgs, Outgoing{
			ID:       id,
			Body:     body,
			GroupKey: job.GroupKey(),
		})
		ids = append(ids, id)
	}

	if err := p.transport.Send(ctx, msgs); err != nil {
		return nil, fmt.Errorf("send %d messages: %w", len(msgs), err)
	}
	return ids, nil
}

// Ping проверяет транспорт, если тот поддерживает Pinger.
func (p *Publisher) Ping(ctx context.Context) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if pinger, ok := p.transport.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// Close закрывает транспорт. Повторный вызов — no-op.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.transport.Close(); err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}
