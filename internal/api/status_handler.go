package api

import "net/http"

// SchedulerStatus возвращает состояние scheduler и блокировки лидера.
// GET /api/v1/scheduler/status
func (h *Handler) SchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if h.scheduler == nil {
		Unavailable(w, "scheduler is not configured")
		return
	}
	Success(w, h.scheduler.Status())
}
