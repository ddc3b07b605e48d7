package domain

import (
	"errors"
	"fmt"
)

// ScheduleType — источник job.
type ScheduleType string

const (
	// ScheduleTypeScheduled — job создан scheduler'ом по расписанию.
	ScheduleTypeScheduled ScheduleType = "scheduled"

	// ScheduleTypeManual — job создан вручную (через API/CLI).
	ScheduleTypeManual ScheduleType = "manual"
)

// IsValid проверяет, что тип известен.
func (t ScheduleType) IsValid() bool {
	switch t {
	case ScheduleTypeScheduled, ScheduleTypeManual:
		return true
	default:
		return false
	}
}

// JobMessage — тело сообщения в очереди jobs.
//
// Формат на проводе (JSON):
//
//	{"searchId": "...", "userId": "...", "scheduleType": "scheduled"}
type JobMessage struct {
	SearchID     string       `json:"searchId"`
	UserID       string       `json:"userId"`
	ScheduleType ScheduleType `json:"scheduleType"`
}

// GroupKey возвращает ключ группировки: сообщения одного поиска
// не обрабатываются параллельно, если транспорт это поддерживает.
func (m JobMessage) GroupKey() string {
	return m.SearchID
}

// Validate проверяет обязательные поля.
func (m JobMessage) Validate() error {
	var errs []error
	if m.SearchID == "" {
		errs = append(errs, errors.New("searchId is required"))
	}
	if m.UserID == "" {
		errs = append(errs, errors.New("userId is required"))
	}
	if !m.ScheduleType.IsValid() {
		errs = append(errs, fmt.Errorf("unknown scheduleType %q", m.ScheduleType))
	}
	return errors.Join(errs...)
}

// NewScheduledJob создаёт job для поиска, запланированного scheduler'ом.
func NewScheduledJob(s *Search) JobMessage {
	return JobMessage{
		SearchID:     s.ID,
		UserID:       s.UserID,
		ScheduleType: ScheduleTypeScheduled,
	}
}

// NewManualJob создаёт job для ручного запуска поиска.
func NewManualJob(s *Search) JobMessage {
	return JobMessage{
		SearchID:     s.ID,
		UserID:       s.UserID,
		ScheduleType: ScheduleTypeManual,
	}
}
