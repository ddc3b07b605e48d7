package api

import (
	"time"

	"github.com/shaiso/Pricewatch/internal/domain"
)

// RunSearchResponse — ответ на ручной запуск поиска.
type RunSearchResponse struct {
	MessageID    string              `json:"messageId"`
	SearchID     string              `json:"searchId"`
	UserID       string              `json:"userId"`
	ScheduleType domain.ScheduleType `json:"scheduleType"`
	QueuedAt     time.Time           `json:"queuedAt"`
}

// HealthResponse — ответ /healthz и /readyz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
