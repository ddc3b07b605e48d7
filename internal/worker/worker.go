package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/queue"
)

// Subscriber — подписка на очередь jobs (см. queue.Consumer).
type Subscriber interface {
	Subscribe(ctx context.Context, handler queue.Handler, onError queue.ErrorHandler) error
	Close() error
}

// Config — конфигурация Worker.
type Config struct {
	Consumer  Subscriber
	Processor *Processor

	// OnTransportError вызывается на ошибки транспорта
	// (опционально; по умолчанию только логирование).
	OnTransportError queue.ErrorHandler

	Logger *slog.Logger
}

// Worker потребляет job-сообщения и передаёт их Processor'у.
//
// Workers масштабируются горизонтально: все экземпляры потребляют
// из одной очереди, каждое сообщение обрабатывает один из них.
type Worker struct {
	consumer  Subscriber
	processor *Processor
	onError   queue.ErrorHandler
	logger    *slog.Logger

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	started    bool
	stopped    bool
	wg         sync.WaitGroup
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		consumer:  cfg.Consumer,
		processor: cfg.Processor,
		logger:    logger,
	}
	w.onError = cfg.OnTransportError
	if w.onError == nil {
		w.onError = w.logTransportError
	}
	return w
}

// Start запускает подписку в фоне.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrWorkerStopped
	}
	if w.started {
		return nil
	}
	w.started = true

	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		err := w.consumer.Subscribe(ctx, w.handleJob, w.onError)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, queue.ErrClosed) {
			w.logger.Error("job subscription stopped", "error", err)
		}
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает подписку и ждёт текущие jobs.
// Ожидание ограничено ctx; повторный вызов — no-op.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	cancel := w.cancelFunc
	w.mu.Unlock()

	w.logger.Info("stopping worker...")

	closed := make(chan error, 1)
	go func() {
		if cancel != nil {
			cancel()
		}
		err := w.consumer.Close()
		w.wg.Wait()
		closed <- err
	}()

	select {
	case err := <-closed:
		w.logger.Info("worker stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping — проверка готовности для /readyz: Worker запущен и не остановлен.
func (w *Worker) Ping(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.stopped:
		return ErrWorkerStopped
	case !w.started:
		return ErrWorkerNotStarted
	}
	return nil
}

// handleJob — queue.Handler: передаёт job Processor'у.
func (w *Worker) handleJob(ctx context.Context, job domain.JobMessage) error {
	return w.processor.Process(ctx, job)
}

func (w *Worker) logTransportError(err error) {
	w.logger.Error("queue transport error", "error", err)
}
