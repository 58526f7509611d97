package handler

import (
	"io"
	"net/http"

	"github.com/docuflow-io/docuflow/internal/api/response"
	"github.com/docuflow-io/docuflow/internal/estimate"
	"github.com/docuflow-io/docuflow/pkg/models"
)

// Estimator projects the processing duration for a document.
type Estimator interface {
	Estimate(doc models.Document) (*estimate.Breakdown, error)
}

// NewEstimateHandler returns an http.HandlerFunc for POST /api/v1/estimate.
// Side-effect free; the same document always yields the same breakdown.
func NewEstimateHandler(est Estimator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Expected a multipart form with a document file", nil)
			return
		}

		file, header, err := r.FormFile("document")
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"document file is required", nil)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Could not read uploaded document", nil)
			return
		}

		breakdown, err := est.Estimate(models.Document{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_DOCUMENT",
				"Could not inspect document", nil)
			return
		}

		response.JSON(w, breakdown)
	}
}
