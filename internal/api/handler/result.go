package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/docuflow-io/docuflow/internal/api/response"
)

// ResultStore hands out stored result payloads; reads are destructive.
type ResultStore interface {
	Take(ctx context.Context, jobID string) (json.RawMessage, bool, error)
}

// Evictor removes a job's registry entry once its result has been retrieved.
type Evictor interface {
	Evict(jobID string)
}

// NewResultHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/result. The payload is retrievable exactly once:
// a second request for the same job gets not-found.
func NewResultHandler(store ResultStore, evictor Evictor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"jobID is required", nil)
			return
		}

		payload, found, err := store.Take(r.Context(), jobID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to retrieve result", nil)
			return
		}
		if !found {
			response.Error(w, http.StatusNotFound, "NOT_FOUND",
				"No result for this job", nil)
			return
		}

		evictor.Evict(jobID)
		response.JSON(w, payload)
	}
}
