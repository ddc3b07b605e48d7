package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/semaphore"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/telemetry"
)

// Значения по умолчанию.
const (
	defaultConcurrency       = 1
	defaultLockRenewInterval = 30 * time.Second
	defaultMaxLockRenewal    = 5 * time.Minute
)

// Handler обрабатывает одно job-сообщение.
// Ошибка классифицируется Classifier: complete (drop) или abandon (retry).
type Handler func(ctx context.Context, job domain.JobMessage) error

// ErrorHandler получает ошибки транспорта, не связанные с сообщениями.
type ErrorHandler func(err error)

// Classifier возвращает true для non-retryable ошибок.
type Classifier func(err error) bool

// Outcome — итог обработки доставки.
type Outcome string

const (
	// OutcomeComplete — сообщение удалено из очереди.
	OutcomeComplete Outcome = "complete"

	// OutcomeAbandon — сообщение возвращено для повторной доставки.
	OutcomeAbandon Outcome = "abandon"

	// OutcomeStale — доставка устарела до начала обработки (невидимость
	// истекла, пока сообщение ждало свободного handler'а). Сообщение не
	// обрабатывается и не подтверждается: его получит следующая доставка.
	OutcomeStale Outcome = "stale"
)

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Transport Transport

	// Classify — классификатор ошибок (default: IsNonRetryable).
	Classify Classifier

	// Concurrency — максимум параллельных handler'ов (default: 1).
	Concurrency int

	// LockRenewInterval — период продления невидимости сообщения,
	// пока работает handler (default: 30s). Отрицательное значение
	// отключает продление.
	LockRenewInterval time.Duration

	// MaxLockRenewal — потолок суммарного продления (default: 5m).
	MaxLockRenewal time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Consumer — потребитель job-сообщений с явным исходом complete/abandon.
//
// Consumer также публикует сообщения (встроенный Publisher) через тот же
// транспорт.
type Consumer struct {
	*Publisher

	transport         Transport
	classify          Classifier
	concurrency       int
	lockRenewInterval time.Duration
	maxLockRenewal    time.Duration
	clock             clockwork.Clock
	logger            *slog.Logger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	done       chan struct{}
	closed     bool

	inflight sync.WaitGroup
}

// NewConsumer создаёт Consumer.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	classify := cfg.Classify
	if classify == nil {
		classify = IsNonRetryable
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	renew := cfg.LockRenewInterval
	if renew == 0 {
		renew = defaultLockRenewInterval
	}

	maxRenewal := cfg.MaxLockRenewal
	if maxRenewal <= 0 {
		maxRenewal = defaultMaxLockRenewal
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		Publisher:         NewPublisher(cfg.Transport),
		transport:         cfg.Transport,
		classify:          classify,
		concurrency:       concurrency,
		lockRenewInterval: renew,
		maxLockRenewal:    maxRenewal,
		clock:             clk,
		logger:            logger,
	}
}

// Subscribe запускает цикл получения сообщений и блокируется до отмены ctx
// или Close. Не более Concurrency handler'ов работают одновременно;
// при остановке Subscribe дожидается текущих handler'ов.
//
// Ошибки транспорта передаются в onError (если nil — логируются).
func (c *Consumer) Subscribe(ctx context.Context, handler Handler, onError ErrorHandler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cancelFunc != nil {
		c.mu.Unlock()
		return ErrAlreadySubscribed
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	defer close(done)
	defer cancel()

	if onError == nil {
		onError = func(err error) {
			c.logger.Error("queue transport error", "error", err)
		}
	}

	deliveries, errs := c.transport.Receive(ctx)

	var errWG sync.WaitGroup
	errWG.Add(1)
	go func() {
		defer errWG.Done()
		for err := range errs {
			onError(err)
		}
	}()

	c.logger.Info("consumer subscribed", "concurrency", c.concurrency)

	// Handler'ы не прерываются при остановке: их ограничивает внешний
	// таймаут shutdown.
	handlerCtx := context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(int64(c.concurrency))

	var loopErr error
loop:
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		select {
		case <-ctx.Done():
			sem.Release(1)
			break loop

		case d, ok := <-deliveries:
			if !ok {
				sem.Release(1)
				if ctx.Err() == nil {
					loopErr = fmt.Errorf("deliveries channel closed: %w", ErrClosed)
				}
				break loop
			}

			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				defer sem.Release(1)
				c.Handle(handlerCtx, d, handler)
			}()
		}
	}

	c.inflight.Wait()
	cancel()
	errWG.Wait()

	c.logger.Info("consumer stopped")
	return loopErr
}

// Handle обрабатывает одну доставку и возвращает итог.
//
//  1. Продлевает невидимость. ErrLockLost → OutcomeStale без обработки.
//  2. Декодирует тело. Некорректное тело — non-retryable.
//  3. Вызывает handler, продлевая невидимость сообщения.
//  4. Успех → Complete. Non-retryable ошибка → Complete (drop).
//     Остальные ошибки → Abandon (повторная доставка).
func (c *Consumer) Handle(ctx context.Context, d Delivery, handler Handler) Outcome {
	env := d.Envelope()
	logger := telemetry.WithMessageID(c.logger, env.ID).With("delivery_count", env.DeliveryCount)

	if err := d.ExtendLock(ctx); err != nil {
		if errors.Is(err, ErrLockLost) {
			logger.Warn("message lock lost before processing, skipping stale delivery")
			telemetry.QueueMessages.WithLabelValues(string(OutcomeStale)).Inc()
			return OutcomeStale
		}
		logger.Warn("failed to extend message lock", "error", err)
	}

	job, err := decodeJob(env.Body)
	if err == nil {
		logger = telemetry.WithSearchID(logger, job.SearchID)
		logger.Debug("processing job", "schedule_type", job.ScheduleType)

		start := time.Now()
		err = c.runWithLockRenewal(ctx, d, logger, func(ctx context.Context) error {
			return handler(telemetry.WithLogger(ctx, logger), job)
		})
		telemetry.JobDuration.Observe(time.Since(start).Seconds())
	}

	outcome := OutcomeComplete
	switch {
	case err == nil:
		logger.Info("job completed")
	case c.classify(err):
		logger.Warn("job failed permanently, dropping message", "error", err)
	default:
		outcome = OutcomeAbandon
		logger.Error("job failed, message will be redelivered", "error", err)
	}

	var settleErr error
	if outcome == OutcomeComplete {
		settleErr = d.Complete(ctx)
	} else {
		settleErr = d.Abandon(ctx)
	}
	if settleErr != nil {
		logger.Error("failed to settle message", "outcome", outcome, "error", settleErr)
	}

	telemetry.QueueMessages.WithLabelValues(string(outcome)).Inc()
	return outcome
}

// Close останавливает подписку, дожидается handler'ов и закрывает транспорт.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancelFunc
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.inflight.Wait()

	return c.Publisher.Close()
}

// runWithLockRenewal вызывает fn и периодически продлевает невидимость
// сообщения, пока fn работает, но не дольше maxLockRenewal.
func (c *Consumer) runWithLockRenewal(ctx context.Context, d Delivery, logger *slog.Logger, fn func(context.Context) error) error {
	if c.lockRenewInterval < 0 {
		return safeCall(ctx, fn)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	ticker := c.clock.NewTicker(c.lockRenewInterval)
	started := c.clock.Now()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				if c.clock.Now().Sub(started) >= c.maxLockRenewal {
					logger.Warn("message lock renewal ceiling reached", "max", c.maxLockRenewal)
					return
				}
				if err := d.ExtendLock(ctx); err != nil {
					logger.Warn("failed to extend message lock", "error", err)
				}
			}
		}
	}()

	err := safeCall(ctx, fn)
	close(stop)
	wg.Wait()
	return err
}

// safeCall превращает panic handler'а в retryable ошибку.
func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx)
}

func decodeJob(body []byte) (domain.JobMessage, error) {
	var job domain.JobMessage
	if err := json.Unmarshal(body, &job); err != nil {
		return job, Permanent(fmt.Errorf("malformed job message: %w", err))
	}
	if err := job.Validate(); err != nil {
		return job, Permanent(fmt.Errorf("invalid job message: %w", err))
	}
	return job, nil
}
