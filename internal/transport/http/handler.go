package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"conversion-job-service/internal/entity"
	"conversion-job-service/internal/service"
)

// Controller is the part of service.Controller the HTTP layer needs.
type Controller interface {
	Validate(req entity.JobRequest) entity.ValidationResult
	Submit(ctx context.Context, req entity.JobRequest) (uuid.UUID, error)
	Status(id uuid.UUID) (entity.Job, error)
	List() []entity.Job
	Cancel(id uuid.UUID) (entity.Job, error)
	Events(id uuid.UUID, seq int64) ([]service.Event, error)
}

type Handler struct {
	jobs Controller
}

func NewHandler(jobs Controller) *Handler {
	return &Handler{jobs: jobs}
}

type createJobDTO struct {
	SourceURL      string `json:"source_url"`
	AudioPath      string `json:"audio_path"`
	DestinationDir string `json:"destination_dir"`
}

func (d createJobDTO) request() entity.JobRequest {
	return entity.JobRequest{
		SourceURL:      d.SourceURL,
		AudioPath:      d.AudioPath,
		DestinationDir: d.DestinationDir,
	}
}

type createJobResp struct {
	ID string `json:"id"`
}

type resultResp struct {
	OutputPath string `json:"output_path"`
	ItemCount  int    `json:"item_count"`
	ElapsedMS  int64  `json:"elapsed_ms"`
}

type jobResp struct {
	ID              string           `json:"id"`
	State           entity.JobState  `json:"state"`
	Stage           string           `json:"stage,omitempty"`
	Progress        float64          `json:"progress"`
	SourceURL       string           `json:"source_url"`
	AudioPath       string           `json:"audio_path"`
	DestinationDir  string           `json:"destination_dir"`
	CancelRequested bool             `json:"cancel_requested"`
	Result          *resultResp      `json:"result,omitempty"`
	Error           *entity.JobError `json:"error,omitempty"`
	CreatedAt       string           `json:"created_at"`
	StartedAt       string           `json:"started_at,omitempty"`
	FinishedAt      string           `json:"finished_at,omitempty"`
}

func toJobResp(j entity.Job) jobResp {
	resp := jobResp{
		ID:              j.ID.String(),
		State:           j.State,
		Stage:           j.Stage,
		Progress:        j.Progress,
		SourceURL:       j.Request.SourceURL,
		AudioPath:       j.Request.AudioPath,
		DestinationDir:  j.Request.DestinationDir,
		CancelRequested: j.CancelRequested,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt.Format(time.RFC3339),
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.FinishedAt != nil {
		resp.FinishedAt = j.FinishedAt.Format(time.RFC3339)
	}
	if j.Result != nil {
		resp.Result = &resultResp{
			OutputPath: j.Result.OutputPath,
			ItemCount:  j.Result.ItemCount,
			ElapsedMS:  j.Result.Elapsed.Milliseconds(),
		}
	}
	return resp
}

// ValidateJob godoc
// @Summary Validate a job request
// @Description Checks the source, audio file and destination without creating a job.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "job request"
// @Success 200 {object} entity.ValidationResult
// @Failure 400 {object} apiError
// @Router /validate [post]
func (h *Handler) ValidateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	writeJSON(w, http.StatusOK, h.jobs.Validate(dto.request()))
}

// CreateJob godoc
// @Summary Start a conversion job
// @Description Validates the request and schedules the job in the background.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "job request"
// @Success 202 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 422 {object} entity.ValidationResult
// @Failure 503 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	id, err := h.jobs.Submit(r.Context(), dto.request())
	if err != nil {
		var verr *service.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusUnprocessableEntity, verr.Result)
		case errors.Is(err, service.ErrClosed):
			writeErr(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeFailure(w, http.StatusInternalServerError, err)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, createJobResp{ID: id.String()})
}

// ListJobs godoc
// @Summary List jobs
// @Tags jobs
// @Produce json
// @Success 200 {array} jobResp
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobs.List()
	out := make([]jobResp, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResp(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobs.Status(id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j))
}

// CancelJob godoc
// @Summary Request job cancellation
// @Description Ready jobs are cancelled at once, running jobs stop at the next stage boundary.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/cancel [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobs.Cancel(id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResp(j))
}

// GetJobResult godoc
// @Summary Get job result
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} resultResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/result [get]
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.jobs.Status(id)
	if err != nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	if j.State != entity.StateCompleted || j.Result == nil {
		writeErr(w, http.StatusConflict, "job not completed")
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j).Result)
}

// GetJobEvents godoc
// @Summary Get job events
// @Description Returns events newer than the given sequence number.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param since query int false "last seen sequence number"
// @Success 200 {array} service.Event
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/events [get]
func (h *Handler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			writeErr(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = v
	}

	events, err := h.jobs.Events(id, since)
	if err != nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
