package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Значения по умолчанию для MemoryTransport.
const (
	DefaultMaxDeliveries = 5

	defaultVisibilityTimeout = 60 * time.Second
	defaultPollInterval      = 100 * time.Millisecond
)

// MemoryConfig — конфигурация MemoryTransport.
type MemoryConfig struct {
	// VisibilityTimeout — время невидимости сообщения после доставки.
	VisibilityTimeout time.Duration

	// MaxDeliveries — после стольких неудачных доставок сообщение
	// уходит в dead-letter.
	MaxDeliveries int

	// PollInterval — как часто проверять истёкшие блокировки.
	PollInterval time.Duration

	Clock clockwork.Clock
}

// MemoryTransport — peek-lock очередь в памяти процесса.
//
// Поведение:
//   - доставленное сообщение невидимо VisibilityTimeout, потом доставляется снова
//   - сообщения одной группы доставляются строго по одному, в порядке отправки
//   - после MaxDeliveries неудачных доставок сообщение уходит в dead-letter
type MemoryTransport struct {
	visibility    time.Duration
	maxDeliveries int
	pollInterval  time.Duration
	clock         clockwork.Clock

	mu        sync.Mutex
	messages  []*memMessage
	dead      []Envelope
	completed int
	changed   chan struct{}
	closed    bool
	closedCh  chan struct{}
}

type memMessage struct {
	out            Outgoing
	deliveries     int
	attempt        int
	inflight       bool
	invisibleUntil time.Time
}

// NewMemoryTransport создаёт MemoryTransport.
func NewMemoryTransport(cfg MemoryConfig) *MemoryTransport {
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}
	maxDeliveries := cfg.MaxDeliveries
	if maxDeliveries <= 0 {
		maxDeliveries = DefaultMaxDeliveries
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	return &MemoryTransport{
		visibility:    visibility,
		maxDeliveries: maxDeliveries,
		pollInterval:  poll,
		clock:         clk,
		changed:       make(chan struct{}),
		closedCh:      make(chan struct{}),
	}
}

// Send добавляет сообщения в конец очереди.
func (t *MemoryTransport) Send(_ context.Context, msgs []Outgoing) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	for _, m := range msgs {
		out := m
		out.Body = append([]byte(nil), m.Body...)
		t.messages = append(t.messages, &memMessage{out: out})
	}
	t.signalLocked()
	return nil
}

// Receive запускает доставку сообщений. Можно вызывать несколько раз:
// получатели конкурируют за сообщения как независимые consumer'ы.
func (t *MemoryTransport) Receive(ctx context.Context) (<-chan Delivery, <-chan error) {
	out := make(chan Delivery)
	errs := make(chan error)

	go func() {
		defer close(out)
		defer close(errs)

		ticker := t.clock.NewTicker(t.pollInterval)
		defer ticker.Stop()

		for {
			t.mu.Lock()
			if t.closed {
				t.mu.Unlock()
				return
			}
			d := t.nextLocked(t.clock.Now())
			changed := t.changed
			t.mu.Unlock()

			if d != nil {
				select {
				case out <- d:
					continue
				case <-ctx.Done():
					return
				case <-t.closedCh:
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-t.closedCh:
				return
			case <-changed:
			case <-ticker.Chan():
			}
		}
	}()

	return out, errs
}

// Ping возвращает ErrClosed после Close.
func (t *MemoryTransport) Ping(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return nil
}

// Close останавливает доставку. Повторный вызов — no-op.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.closedCh)
	}
	return nil
}

// Pending возвращает количество сообщений в очереди (включая in-flight).
func (t *MemoryTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Completed возвращает количество завершённых сообщений.
func (t *MemoryTransport) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// DeadLetters возвращает сообщения, исчерпавшие MaxDeliveries.
func (t *MemoryTransport) DeadLetters() []Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Envelope(nil), t.dead...)
}

// nextLocked возвращает следующую доступную доставку или nil.
func (t *MemoryTransport) nextLocked(now time.Time) *memDelivery {
	t.expireLocked(now)

	busy := make(map[string]bool)
	for _, m := range t.messages {
		if m.inflight && m.out.GroupKey != "" {
			busy[m.out.GroupKey] = true
		}
	}

	for _, m := range t.messages {
		if m.inflight {
			continue
		}
		if g := m.out.GroupKey; g != "" {
			if busy[g] {
				continue
			}
			// Более поздние сообщения группы ждут этого.
			busy[g] = true
		}

		m.inflight = true
		m.deliveries++
		m.attempt++
		m.invisibleUntil = now.Add(t.visibility)
		return &memDelivery{t: t, m: m, attempt: m.attempt, env: t.envelope(m)}
	}
	return nil
}

// expireLocked возвращает в очередь сообщения с истёкшей невидимостью.
func (t *MemoryTransport) expireLocked(now time.Time) {
	var expired []*memMessage
	for _, m := range t.messages {
		if m.inflight && !now.Before(m.invisibleUntil) {
			expired = append(expired, m)
		}
	}
	for _, m := range expired {
		t.releaseLocked(m)
	}
}

// releaseLocked возвращает сообщение в очередь или в dead-letter.
func (t *MemoryTransport) releaseLocked(m *memMessage) {
	if m.deliveries >= t.maxDeliveries {
		t.dead = append(t.dead, t.envelope(m))
		t.removeLocked(m)
		return
	}
	m.inflight = false
	m.attempt++
}

// removeLocked удаляет сообщение; старые доставки теряют на него права.
func (t *MemoryTransport) removeLocked(m *memMessage) {
	m.inflight = false
	m.attempt++
	for i, existing := range t.messages {
		if existing == m {
			t.messages = append(t.messages[:i], t.messages[i+1:]...)
			return
		}
	}
}

func (t *MemoryTransport) signalLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

func (t *MemoryTransport) envelope(m *memMessage) Envelope {
	return Envelope{
		ID:            m.out.ID,
		Body:          m.out.Body,
		GroupKey:      m.out.GroupKey,
		DeliveryCount: m.deliveries,
	}
}

// memDelivery — доставка MemoryTransport. attempt защищает от
// завершения сообщения устаревшей доставкой.
type memDelivery struct {
	t       *MemoryTransport
	m       *memMessage
	attempt int
	env     Envelope
}

func (d *memDelivery) Envelope() Envelope { return d.env }

func (d *memDelivery) Complete(context.Context) error {
	return d.settle(func() {
		d.t.removeLocked(d.m)
		d.t.completed++
	})
}

func (d *memDelivery) Abandon(context.Context) error {
	return d.settle(func() {
		d.t.releaseLocked(d.m)
	})
}

func (d *memDelivery) ExtendLock(context.Context) error {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	if !d.ownedLocked() {
		return ErrLockLost
	}
	d.m.invisibleUntil = d.t.clock.Now().Add(d.t.visibility)
	return nil
}

func (d *memDelivery) settle(fn func()) error {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	if !d.ownedLocked() {
		return ErrLockLost
	}
	fn()
	d.t.signalLocked()
	return nil
}

func (d *memDelivery) ownedLocked() bool {
	if !d.m.inflight || d.m.attempt != d.attempt {
		return false
	}
	// Сообщение ещё не возвращено в очередь, но невидимость истекла.
	return d.t.clock.Now().Before(d.m.invisibleUntil)
}
