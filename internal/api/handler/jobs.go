package handler

import (
	"io"
	"net/http"

	"github.com/docuflow-io/docuflow/internal/api/response"
	"github.com/docuflow-io/docuflow/internal/progress"
	"github.com/docuflow-io/docuflow/pkg/models"
)

const maxUploadBytes = 25 << 20

// Pipeline names accepted by the start-job discriminator.
const (
	PipelineOpenAI = "openai"
	PipelineRemote = "remote"
)

// Pipeline starts processing for a job. Implementations return immediately;
// the job runs detached and reports through the progress registry.
type Pipeline interface {
	Start(jobID string, doc models.Document)
}

type startJobResponse struct {
	JobID       string `json:"job_id"`
	ProgressURL string `json:"progress_url"`
}

// NewStartJobHandler returns an http.HandlerFunc for POST /api/v1/jobs. The
// request is a multipart form: a "document" file plus a "pipeline" value
// choosing the direct AI path or the hosted pipeline.
func NewStartJobHandler(direct, remote Pipeline) http.HandlerFunc {
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
		if len(data) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"document is empty", nil)
			return
		}

		var pipeline Pipeline
		switch name := r.FormValue("pipeline"); name {
		case PipelineOpenAI, "":
			pipeline = direct
		case PipelineRemote:
			pipeline = remote
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"pipeline must be one of openai, remote", nil)
			return
		}

		jobID := progress.NewJobID()
		pipeline.Start(jobID, models.Document{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})

		response.Accepted(w, startJobResponse{
			JobID:       jobID,
			ProgressURL: "/api/v1/jobs/" + jobID + "/stream",
		})
	}
}
