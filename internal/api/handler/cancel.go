package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docuflow-io/docuflow/internal/api/response"
)

// Canceller forwards a cancellation to the pipeline that owns the job. The
// bool result reports ownership: false means the job is unknown to this
// pipeline (never started here, already finished, or evicted).
type Canceller interface {
	Cancel(ctx context.Context, jobID string) (bool, error)
}

type cancelResponse struct {
	JobID     string `json:"job_id"`
	Cancelled bool   `json:"cancelled"`
}

// NewCancelHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
// Cancellation is idempotent: an unknown or already-finished job is success,
// not an error. A pipeline that owns the job but fails to forward the cancel
// reports that failure to the caller.
func NewCancelHandler(cancellers ...Canceller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"jobID is required", nil)
			return
		}

		for _, c := range cancellers {
			owned, err := c.Cancel(r.Context(), jobID)
			if !owned {
				continue
			}
			if err != nil {
				slog.Error("cancel forward failed", "job_id", jobID, "error", err)
				response.Error(w, http.StatusBadGateway, "CANCEL_FAILED",
					"Could not cancel the job", nil)
				return
			}
			response.JSON(w, cancelResponse{JobID: jobID, Cancelled: true})
			return
		}

		response.JSON(w, cancelResponse{JobID: jobID, Cancelled: false})
	}
}
