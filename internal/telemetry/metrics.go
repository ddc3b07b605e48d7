package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики регистрируются в глобальном реестре и отдаются на /metrics.
var (
	// LeaderGauge — 1, если экземпляр держит блокировку с данным именем.
	LeaderGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pricewatch_lock_held",
		Help: "Whether this instance holds the named distributed lock (1 = leader)",
	}, []string{"lock"})

	// LockOperations — операции с блокировкой по результату.
	LockOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricewatch_lock_operations_total",
		Help: "Distributed lock operations by kind and result",
	}, []string{"op", "result"})

	// SchedulerTicks — тики scheduler по результату (skipped, ok, error).
	SchedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricewatch_scheduler_ticks_total",
		Help: "Scheduler ticks by result",
	}, []string{"result"})

	// SchedulerPublished — количество опубликованных scheduled jobs.
	SchedulerPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricewatch_scheduler_jobs_published_total",
		Help: "Scheduled jobs published by the scheduler",
	})

	// SchedulerConsecutiveErrors — текущий счётчик подряд идущих ошибок.
	SchedulerConsecutiveErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pricewatch_scheduler_consecutive_errors",
		Help: "Current consecutive error count of the scheduler",
	})

	// QueueMessages — обработанные сообщения по исходу (complete, abandon, stale).
	QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricewatch_queue_messages_total",
		Help: "Consumed job messages by outcome",
	}, []string{"outcome"})

	// JobDuration — длительность обработки job.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pricewatch_job_duration_seconds",
		Help:    "Job handler duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequests — HTTP запросы к API.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricewatch_http_requests_total",
		Help: "HTTP requests handled by the worker API",
	}, []string{"method", "status"})
)

// SetLeader выставляет LeaderGauge для блокировки.
func SetLeader(lock string, held bool) {
	v := 0.0
	if held {
		v = 1
	}
	LeaderGauge.WithLabelValues(lock).Set(v)
}

// ObserveLockOp увеличивает счётчик операций с блокировкой.
func ObserveLockOp(op string, ok bool) {
	result := "ok"
	if !ok {
		result = "fail"
	}
	LockOperations.WithLabelValues(op, result).Inc()
}
