package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultPollInterval         = 5 * time.Minute
	DefaultBatchSize            = 50
	DefaultMaxConsecutiveErrors = 10

	releaseTimeout = 10 * time.Second
)

var (
	// ErrAlreadyStarted — Start вызван повторно.
	ErrAlreadyStarted = errors.New("scheduler already started")

	// ErrStopped — Start после Stop.
	ErrStopped = errors.New("scheduler stopped")

	// ErrStartFailed — проверка зависимостей при старте не прошла.
	ErrStartFailed = errors.New("scheduler start failed")
)

// SearchStore — хранилище поисков, нужное scheduler'у.
type SearchStore interface {
	FindDue(ctx context.Context, now time.Time, limit int) ([]domain.Search, error)
	Update(ctx context.Context, id, userID string, patch domain.SearchPatch) (*domain.Search, error)
}

// JobPublisher — отправка jobs в очередь.
type JobPublisher interface {
	PublishBatch(ctx context.Context, jobs []domain.JobMessage) ([]string, error)
	Close() error
}

// Leader — распределённая блокировка лидера (см. lock.Lock).
type Leader interface {
	Acquire(ctx context.Context) bool
	Renew(ctx context.Context) bool
	Release(ctx context.Context)
	IsHeld() bool
	HolderID() string
}

// Pinger — зависимость, доступность которой проверяется в Start.
type Pinger interface {
	Ping(ctx context.Context) error
}

// State — состояние scheduler.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config — конфигурация Scheduler.
type Config struct {
	Store     SearchStore
	Publisher JobPublisher
	Leader    Leader

	// Disabled отключает планирование. Start ничего не запускает,
	// потребление очереди при этом продолжается.
	Disabled bool

	// PollInterval — период тиков (default: 5m).
	PollInterval time.Duration

	// BatchSize — количество due поисков за один тик (default: 50).
	BatchSize int

	// MaxConsecutiveErrors — после стольких ошибок подряд scheduler
	// останавливается и отпускает блокировку (default: 10).
	MaxConsecutiveErrors int

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Scheduler — планировщик поисков, работающий только на лидере.
//
// Тик: захват блокировки → due поиски → публикация jobs одной пачкой →
// сдвиг next_run → продление блокировки. Если блокировку держит другой
// экземпляр, тик ничего не делает.
type Scheduler struct {
	store     SearchStore
	publisher JobPublisher
	leader    Leader

	disabled     bool
	pollInterval time.Duration
	batchSize    int
	maxErrors    int

	clock  clockwork.Clock
	logger *slog.Logger

	// tickMu сериализует тики (ticker и ручные вызовы Tick).
	tickMu sync.Mutex

	mu                sync.Mutex
	state             State
	closed            bool
	consecutiveErrors int
	lastTickTime      time.Time
	ticker            clockwork.Ticker
	cancel            context.CancelFunc
	loopDone          chan struct{}
}

// New создаёт новый Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Store == nil || cfg.Publisher == nil || cfg.Leader == nil {
		return nil, errors.New("scheduler: store, publisher and leader are required")
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	maxErrors := cfg.MaxConsecutiveErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxConsecutiveErrors
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:        cfg.Store,
		publisher:    cfg.Publisher,
		leader:       cfg.Leader,
		disabled:     cfg.Disabled,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxErrors:    maxErrors,
		clock:        clk,
		logger:       telemetry.WithHolderID(logger, cfg.Leader.HolderID()).With("component", "scheduler"),
	}, nil
}

// Start проверяет зависимости, выполняет первый тик и запускает
// периодические тики каждые PollInterval.
//
// Running выставляется, только если все проверки прошли. Ошибки самих
// тиков не возвращаются: они учитываются circuit breaker'ом.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.disabled {
		s.logger.Info("scheduler disabled, skipping start")
		return nil
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrStopped
	case s.state != StateStopped:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.verify(ctx); err != nil {
		s.setState(StateStopped)
		s.logger.Error("scheduler start failed", "error", err)
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ticker := s.clock.NewTicker(s.pollInterval)
	done := make(chan struct{})

	s.mu.Lock()
	if s.closed {
		// Stop пришёл во время проверки зависимостей
		s.mu.Unlock()
		cancel()
		ticker.Stop()
		return ErrStopped
	}
	s.state = StateRunning
	s.consecutiveErrors = 0
	s.ticker = ticker
	s.cancel = cancel
	s.loopDone = done
	s.mu.Unlock()
	telemetry.SchedulerConsecutiveErrors.Set(0)

	s.logger.Info("scheduler started",
		"poll_interval", s.pollInterval,
		"batch_size", s.batchSize,
		"max_consecutive_errors", s.maxErrors,
	)

	_ = s.Tick(loopCtx)

	go s.loop(loopCtx, ticker, done)
	return nil
}

func (s *Scheduler) verify(ctx context.Context) error {
	deps := []struct {
		name string
		dep  any
	}{
		{"search store", s.store},
		{"job publisher", s.publisher},
		{"leader lock", s.leader},
	}

	var errs []error
	for _, d := range deps {
		p, ok := d.dep.(Pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) loop(ctx context.Context, ticker clockwork.Ticker, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			_ = s.Tick(ctx)
		}
	}
}

// Tick выполняет один тик планировщика.
//
//  1. Захватывает блокировку; не удалось — тик пропускается.
//  2. Находит due поиски (BatchSize, по возрастанию next_run).
//  3. Публикует по одному job на поиск одной пачкой.
//  4. Параллельно сдвигает next_run/last_run_at у всех поисков.
//  5. Сбрасывает счётчик ошибок и продлевает блокировку.
//
// Ошибка шагов 2–5 увеличивает счётчик ошибок. На MaxConsecutiveErrors
// scheduler останавливается и отпускает блокировку.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	now := s.clock.Now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("scheduler stopped, skipping tick")
		return nil
	}
	s.lastTickTime = now
	s.mu.Unlock()

	if !s.leader.Acquire(ctx) {
		telemetry.SchedulerTicks.WithLabelValues("skipped").Inc()
		s.logger.Debug("scheduler lock not held, skipping tick")
		return nil
	}

	published, err := s.scheduleDue(ctx, now)
	if err != nil {
		return s.recordFailure(ctx, err)
	}

	s.recordSuccess()
	if !s.leader.Renew(ctx) {
		s.logger.Warn("failed to renew scheduler lock after tick")
	}

	if published > 0 {
		s.logger.Info("scheduler tick completed", "published", published)
	} else {
		s.logger.Debug("scheduler tick completed, nothing due")
	}
	return nil
}

type plannedSearch struct {
	search *domain.Search
	patch  domain.SearchPatch
}

// scheduleDue выполняет шаги 2–4 тика и возвращает число опубликованных jobs.
func (s *Scheduler) scheduleDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.FindDue(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("find due searches: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	s.logger.Debug("found due searches", "count", len(due))

	// Поиски с некорректным расписанием пропускаются, но тик
	// считается неуспешным.
	var invalid []error
	planned := make([]plannedSearch, 0, len(due))
	jobs := make([]domain.JobMessage, 0, len(due))
	for i := range due {
		search := &due[i]
		next, err := NextRun(search.Schedule, now)
		if err != nil {
			s.logger.Error("failed to compute next run",
				"search_id", search.ID,
				"error", err,
			)
			invalid = append(invalid, fmt.Errorf("search %s: %w", search.ID, err))
			continue
		}
		planned = append(planned, plannedSearch{
			search: search,
			patch:  search.ScheduledPatch(now, next),
		})
		jobs = append(jobs, domain.NewScheduledJob(search))
	}

	if len(jobs) == 0 {
		return 0, errors.Join(invalid...)
	}

	ids, err := s.publisher.PublishBatch(ctx, jobs)
	if err != nil {
		return 0, fmt.Errorf("publish %d jobs: %w", len(jobs), err)
	}
	telemetry.SchedulerPublished.Add(float64(len(ids)))

	// Если часть обновлений не прошла, эти поиски будут опубликованы
	// повторно на следующем тике (at-least-once).
	var g errgroup.Group
	for _, p := range planned {
		g.Go(func() error {
			if _, err := s.store.Update(ctx, p.search.ID, p.search.UserID, p.patch); err != nil {
				return fmt.Errorf("update next run of search %s: %w", p.search.ID, err)
			}
			s.logger.Debug("search scheduled",
				"search_id", p.search.ID,
				"next_run", *p.patch.NextRun,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(ids), err
	}

	return len(ids), errors.Join(invalid...)
}

func (s *Scheduler) recordSuccess() {
	s.mu.Lock()
	s.consecutiveErrors = 0
	s.mu.Unlock()

	telemetry.SchedulerConsecutiveErrors.Set(0)
	telemetry.SchedulerTicks.WithLabelValues("ok").Inc()
}

func (s *Scheduler) recordFailure(ctx context.Context, err error) error {
	s.mu.Lock()
	s.consecutiveErrors++
	n := s.consecutiveErrors
	s.mu.Unlock()

	telemetry.SchedulerConsecutiveErrors.Set(float64(n))
	telemetry.SchedulerTicks.WithLabelValues("error").Inc()

	s.logger.Error("scheduler tick failed",
		"consecutive_errors", n,
		"max_consecutive_errors", s.maxErrors,
		"error", err,
	)

	if n >= s.maxErrors {
		s.logger.Error("too many consecutive scheduler errors, stopping scheduler",
			"consecutive_errors", n,
		)
		s.halt(ctx)
	}
	return err
}

// halt останавливает тики и отпускает блокировку. Publisher не
// закрывается: это делает Stop. Не ждёт завершения loop, так как
// вызывается из тика.
func (s *Scheduler) halt(ctx context.Context) {
	s.stopLoop()
	s.releaseLeader(ctx)
}

// stopLoop отменяет контекст loop и останавливает ticker.
func (s *Scheduler) stopLoop() {
	s.mu.Lock()
	cancel, ticker := s.cancel, s.ticker
	s.cancel, s.ticker = nil, nil
	s.state = StateStopped
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ticker != nil {
		ticker.Stop()
	}
}

func (s *Scheduler) releaseLeader(ctx context.Context) {
	releaseCtx, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancelRelease()
	s.leader.Release(releaseCtx)
}

// Stop останавливает scheduler: тики, блокировку и publisher.
// Идемпотентен и безопасен после частичного старта.
//
// Блокировка отпускается только после завершения текущего тика:
// тик, уже вызвавший Acquire, иначе захватил бы её заново после Release.
// Ожидание тика ограничено ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	done := s.loopDone
	s.mu.Unlock()

	s.stopLoop()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("scheduler stop timed out waiting for tick")
		}
	}

	s.releaseLeader(ctx)

	if err := s.publisher.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}

	s.logger.Info("scheduler stopped")
	return nil
}

// State возвращает текущее состояние.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// LockStatus — состояние блокировки в Status.
type LockStatus struct {
	HolderID string `json:"holderId"`
	IsHeld   bool   `json:"isHeld"`
}

// Status — снимок состояния scheduler для API.
type Status struct {
	IsRunning            bool       `json:"isRunning"`
	State                string     `json:"state"`
	LastTickTime         *time.Time `json:"lastTickTime"`
	ConsecutiveErrors    int        `json:"consecutiveErrors"`
	MaxConsecutiveErrors int        `json:"maxConsecutiveErrors"`
	PollIntervalMinutes  float64    `json:"pollIntervalMinutes"`
	IsDisabled           bool       `json:"isDisabled"`
	Lock                 LockStatus `json:"lock"`
}

// Status возвращает снимок состояния.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	st := Status{
		IsRunning:            s.state == StateRunning,
		State:                s.state.String(),
		ConsecutiveErrors:    s.consecutiveErrors,
		MaxConsecutiveErrors: s.maxErrors,
		PollIntervalMinutes:  s.pollInterval.Minutes(),
		IsDisabled:           s.disabled,
	}
	if !s.lastTickTime.IsZero() {
		t := s.lastTickTime.UTC()
		st.LastTickTime = &t
	}
	s.mu.Unlock()

	st.Lock = LockStatus{
		HolderID: s.leader.HolderID(),
		IsHeld:   s.leader.IsHeld(),
	}
	return st
}
