package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/repo"
	"github.com/shaiso/Pricewatch/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultName          = "scheduler-leader"
	DefaultDuration      = 90 * time.Second
	DefaultRenewInterval = 30 * time.Second

	defaultOperationTimeout = 10 * time.Second
)

// ErrInvalidConfig — некорректная конфигурация Lock.
var ErrInvalidConfig = errors.New("invalid lock config")

// Config — конфигурация Lock.
type Config struct {
	// Name — ключ записи блокировки (default: scheduler-leader).
	Name string

	// HolderID — идентификатор этого экземпляра. Обязателен.
	HolderID string

	// Duration — время жизни блокировки D (default: 90s).
	Duration time.Duration

	// RenewInterval — период фонового продления R (default: 30s).
	// Должен быть меньше Duration.
	RenewInterval time.Duration

	// DisableAutoRenew отключает фоновое продление после захвата.
	// Продлевать тогда нужно явными вызовами Renew.
	DisableAutoRenew bool

	// OperationTimeout — таймаут одной операции фонового продления.
	OperationTimeout time.Duration

	Store  Store
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Lock — распределённая блокировка (leader election) над одной записью.
//
// Корректность держится только на условной записи в Store: каждое
// изменение записи предъявляет последнюю известную версию. Локальное
// состояние (cached) используется для статуса и для следующего CAS,
// но не для решений, влияющих на другие экземпляры.
type Lock struct {
	name          string
	holderID      string
	duration      time.Duration
	renewInterval time.Duration
	autoRenew     bool
	opTimeout     time.Duration

	store  Store
	clock  clockwork.Clock
	logger *slog.Logger

	// opMu сериализует Acquire/Renew/Release этого экземпляра.
	opMu sync.Mutex

	// mu защищает cached и состояние фонового продления.
	mu        sync.Mutex
	cached    *domain.LockRecord
	renewStop chan struct{}
	renewDone chan struct{}
}

// New создаёт Lock.
func New(cfg Config) (*Lock, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.HolderID) == "" {
		return nil, fmt.Errorf("%w: holder id is required", ErrInvalidConfig)
	}

	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	duration := cfg.Duration
	if duration <= 0 {
		duration = DefaultDuration
	}
	renewInterval := cfg.RenewInterval
	if renewInterval <= 0 {
		renewInterval = DefaultRenewInterval
	}
	if renewInterval >= duration {
		return nil, fmt.Errorf("%w: renew interval %s must be less than duration %s",
			ErrInvalidConfig, renewInterval, duration)
	}

	opTimeout := cfg.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOperationTimeout
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Lock{
		name:          name,
		holderID:      cfg.HolderID,
		duration:      duration,
		renewInterval: renewInterval,
		autoRenew:     !cfg.DisableAutoRenew,
		opTimeout:     opTimeout,
		store:         cfg.Store,
		clock:         clk,
		logger:        telemetry.WithHolderID(logger, cfg.HolderID).With("lock", name),
	}, nil
}

// Name возвращает имя блокировки.
func (l *Lock) Name() string { return l.name }

// HolderID возвращает идентификатор этого экземпляра.
func (l *Lock) HolderID() string { return l.holderID }

// Duration возвращает время жизни блокировки.
func (l *Lock) Duration() time.Duration { return l.duration }

// Acquire пытается стать лидером.
//
// Алгоритм:
//  1. Прочитать запись.
//  2. Нет записи → условный create. Конфликт → false.
//  3. Запись жива и принадлежит нам → true (идемпотентно).
//  4. Запись жива и принадлежит другому → false.
//  5. Запись истекла → условный update по её версии. Mismatch → false.
//
// Ошибки хранилища не возвращаются: они означают "не захватили".
func (l *Lock) Acquire(ctx context.Context) bool {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	now := l.clock.Now()

	current, err := l.store.Read(ctx, l.name)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		created, err := l.store.Create(ctx, l.newRecord(now))
		if errors.Is(err, repo.ErrAlreadyExists) {
			l.logger.Debug("lock created concurrently by another instance")
			telemetry.ObserveLockOp("acquire", false)
			return false
		}
		if err != nil {
			l.logger.Warn("failed to create lock", "error", err)
			telemetry.ObserveLockOp("acquire", false)
			return false
		}
		l.becomeLeader(created, "created")
		return true

	case err != nil:
		l.logger.Warn("failed to read lock", "error", err)
		telemetry.ObserveLockOp("acquire", false)
		return false
	}

	if current.IsHeldBy(l.holderID, now) {
		l.setCached(current)
		l.startRenewal()
		return true
	}
	if !current.IsExpired(now) {
		if l.clearIfHeld() {
			l.logger.Warn("lock is held by another instance", "current_holder", current.HolderID)
		}
		return false
	}

	updated, err := l.store.Update(ctx, l.newRecord(now), current.Version)
	if errors.Is(err, repo.ErrVersionMismatch) {
		l.logger.Debug("lock takeover lost to another instance")
		telemetry.ObserveLockOp("acquire", false)
		return false
	}
	if err != nil {
		l.logger.Warn("failed to take over expired lock", "error", err)
		telemetry.ObserveLockOp("acquire", false)
		return false
	}
	l.becomeLeader(updated, "took over expired lock")
	return true
}

// Renew продлевает блокировку условным update по закэшированной версии.
//
// Mismatch означает, что другой экземпляр уже перехватил блокировку:
// локальное состояние сбрасывается, фоновое продление останавливается.
// Временная ошибка хранилища возвращает false, но состояние сохраняется.
func (l *Lock) Renew(ctx context.Context) bool {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	cached := l.Record()
	if cached == nil {
		return false
	}

	now := l.clock.Now()
	if cached.IsExpired(now) {
		l.logger.Warn("lock expired before renewal", "expired_at", cached.ExpiresAt)
		l.clearIfHeld()
		telemetry.ObserveLockOp("renew", false)
		return false
	}

	next := cached.Clone()
	next.ExpiresAt = now.Add(l.duration).UTC()
	next.RenewedAt = now.UTC()

	updated, err := l.store.Update(ctx, next, cached.Version)
	if errors.Is(err, repo.ErrVersionMismatch) {
		l.logger.Warn("lock lost: version changed by another instance")
		l.clearIfHeld()
		telemetry.ObserveLockOp("renew", false)
		return false
	}
	if err != nil {
		l.logger.Warn("failed to renew lock", "error", err)
		telemetry.ObserveLockOp("renew", false)
		return false
	}

	l.setCached(updated)
	telemetry.ObserveLockOp("renew", true)
	l.logger.Debug("lock renewed", "expires_at", updated.ExpiresAt)
	return true
}

// Release освобождает блокировку условным delete.
// Отсутствие записи или чужая версия не считаются ошибкой.
func (l *Lock) Release(ctx context.Context) {
	l.opMu.Lock()
	cached := l.Record()
	if cached != nil {
		err := l.store.Delete(ctx, l.name, cached.Version)
		switch {
		case err == nil:
			l.logger.Info("lock released")
			telemetry.ObserveLockOp("release", true)
		case errors.Is(err, repo.ErrNotFound), errors.Is(err, repo.ErrVersionMismatch):
			l.logger.Debug("lock already superseded on release", "error", err)
		default:
			l.logger.Warn("failed to release lock", "error", err)
			telemetry.ObserveLockOp("release", false)
		}
	}
	done := l.clear()
	l.opMu.Unlock()

	// Ждём выхода из цикла продления вне opMu: цикл может ждать opMu в Renew.
	if done != nil {
		<-done
	}
}

// IsHeld сообщает, считает ли экземпляр себя лидером: cached expiresAt > now.
// Только для статуса, не для решений о корректности.
func (l *Lock) IsHeld() bool {
	rec := l.Record()
	return rec != nil && rec.ExpiresAt.After(l.clock.Now())
}

// Record возвращает копию закэшированной записи или nil.
func (l *Lock) Record() *domain.LockRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cached.Clone()
}

// Ping проверяет доступность хранилища, если оно это поддерживает.
func (l *Lock) Ping(ctx context.Context) error {
	if p, ok := l.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (l *Lock) newRecord(now time.Time) *domain.LockRecord {
	now = now.UTC()
	return &domain.LockRecord{
		Name:       l.name,
		HolderID:   l.holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.duration),
		RenewedAt:  now,
	}
}

func (l *Lock) becomeLeader(rec *domain.LockRecord, how string) {
	l.setCached(rec)
	l.startRenewal()
	telemetry.ObserveLockOp("acquire", true)
	l.logger.Info("lock acquired", "how", how, "expires_at", rec.ExpiresAt)
}

func (l *Lock) setCached(rec *domain.LockRecord) {
	l.mu.Lock()
	l.cached = rec.Clone()
	l.mu.Unlock()
	telemetry.SetLeader(l.name, true)
}

// clearIfHeld сбрасывает локальное состояние. Возвращает true, если оно было.
func (l *Lock) clearIfHeld() bool {
	l.mu.Lock()
	held := l.cached != nil
	l.mu.Unlock()
	l.clear()
	return held
}

// clear сбрасывает cached и останавливает продление без ожидания.
// Возвращает канал завершения цикла продления (или nil).
func (l *Lock) clear() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cached = nil
	telemetry.SetLeader(l.name, false)

	if l.renewStop == nil {
		return nil
	}
	close(l.renewStop)
	done := l.renewDone
	l.renewStop, l.renewDone = nil, nil
	return done
}

// startRenewal запускает фоновое продление, если оно ещё не запущено.
// Тикер создаётся синхронно, до возврата из Acquire.
func (l *Lock) startRenewal() {
	if !l.autoRenew {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.renewStop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	l.renewStop, l.renewDone = stop, done

	ticker := l.clock.NewTicker(l.renewInterval)
	go l.renewLoop(ticker, stop, done)
}

func (l *Lock) renewLoop(ticker clockwork.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			select {
			case <-stop:
				return
			default:
			}
			ctx, cancel := context.WithTimeout(context.Background(), l.opTimeout)
			l.Renew(ctx)
			cancel()
		}
	}
}
