package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Pricewatch/internal/domain"
	"github.com/shaiso/Pricewatch/internal/telemetry"
)

// RunSearch публикует manual job для поиска вне расписания.
// POST /api/v1/searches/{id}/run
//
// Расписание поиска (next_run) не меняется.
func (h *Handler) RunSearch(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		BadRequest(w, "search id is required")
		return
	}

	search, err := h.searches.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "search not found") {
		return
	}
	if !search.Active {
		InvalidState(w, "search is inactive")
		return
	}

	job := domain.NewManualJob(search)
	messageID, err := h.publisher.Publish(r.Context(), job)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	telemetry.WithSearchID(h.logger, search.ID).Info("manual job published", "message_id", messageID)

	Accepted(w, RunSearchResponse{
		MessageID:    messageID,
		SearchID:     job.SearchID,
		UserID:       job.UserID,
		ScheduleType: job.ScheduleType,
		QueuedAt:     time.Now().UTC(),
	})
}
