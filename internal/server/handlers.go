package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/pickerexport/internal/job"
	"github.com/maauso/pickerexport/internal/media"
)

// maxBodyBytes bounds request bodies; sources are referenced by path.
const maxBodyBytes = 1 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *job.Service
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateSession handles POST /sessions requests.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess := h.service.StartSession(r.Context(), req.TotalImages, req.TotalVideos, nil)
	writeJSON(w, http.StatusCreated, toSessionResponse(sess.Status()))
}

// GetSession handles GET /sessions/{id} requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess.Status()))
}

// EndSession handles DELETE /sessions/{id} requests. With ?cleanup=true the
// session's exported files are removed as well.
func (h *Handlers) EndSession(w http.ResponseWriter, r *http.Request) {
	cleanup := false
	if v := r.URL.Query().Get("cleanup"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "cleanup must be a boolean", "VALIDATION_ERROR")
			return
		}
		cleanup = parsed
	}

	if err := h.service.EndSession(r.Context(), r.PathValue("id"), cleanup); err != nil {
		h.writeServiceError(w, err, "failed to end session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitVideo handles POST /sessions/{id}/videos requests.
func (h *Handlers) SubmitVideo(w http.ResponseWriter, r *http.Request) {
	var req SubmitVideoRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := job.VideoInput{
		SourcePath: req.SourcePath,
		Start:      time.Duration(req.StartMs) * time.Millisecond,
		End:        time.Duration(req.EndMs) * time.Millisecond,
		FinalPass:  req.FinalPass,
		PushToS3:   req.PushToS3,
	}
	if req.CoverMs != nil {
		cover := time.Duration(*req.CoverMs) * time.Millisecond
		in.Cover = &cover
	}

	created, err := h.service.SubmitVideo(r.Context(), r.PathValue("id"), in)
	if err != nil {
		h.writeServiceError(w, err, "failed to submit video")
		return
	}

	h.logger.Info("video export accepted",
		slog.String("job_id", created.ID),
		slog.String("session_id", created.SessionID),
	)
	writeJSON(w, http.StatusAccepted, toJobResponse(created))
}

// SubmitImages handles POST /sessions/{id}/images requests.
func (h *Handlers) SubmitImages(w http.ResponseWriter, r *http.Request) {
	var req SubmitImagesRequest
	if !h.decode(w, r, &req) {
		return
	}

	inputs := make([]job.ImageInput, len(req.Images))
	for i, img := range req.Images {
		inputs[i] = job.ImageInput{
			SourcePath: img.SourcePath,
			Crop:       media.Rect{X: img.X, Y: img.Y, Width: img.Width, Height: img.Height},
			FitWidth:   img.FitWidth,
			FitHeight:  img.FitHeight,
			PushToS3:   img.PushToS3,
		}
	}

	created, err := h.service.SubmitImages(r.Context(), r.PathValue("id"), inputs)
	if err != nil {
		h.writeServiceError(w, err, "failed to submit images")
		return
	}
	writeJSON(w, http.StatusAccepted, toJobList(created))
}

// ListSessionJobs handles GET /sessions/{id}/jobs requests. Jobs of ended
// sessions stay listable while the job store keeps them.
func (h *Handlers) ListSessionJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, toJobList(jobs))
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	found, err := h.service.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// CancelJob handles POST /jobs/{id}/cancel requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := h.service.CancelJob(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err, "failed to cancel job")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, "failed to get job")
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(found))
}

// decode reads and validates a JSON body. It writes the error response and
// returns false when the body is unusable.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeServiceError maps domain errors onto HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, job.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrNotCancellable):
		writeError(w, http.StatusConflict, "job has no running export", "NOT_CANCELLABLE")
	case errors.Is(err, job.ErrEmptySource), errors.Is(err, job.ErrNoImages):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, msg, "INTERNAL_ERROR")
	}
}

func toSessionResponse(st job.SessionStatus) SessionResponse {
	return SessionResponse{
		ID:       st.ID,
		Progress: st.Progress,
		Images: CategoryResponse{
			Total:     st.Counters.TotalImages,
			Completed: st.Counters.CompletedImages,
			Done:      st.Images.Done,
			Success:   st.Images.Success,
		},
		Videos: CategoryResponse{
			Total:     st.Counters.TotalVideos,
			Completed: st.Counters.CompletedVideos,
			Done:      st.Videos.Done,
			Success:   st.Videos.Success,
		},
		CreatedAt: st.CreatedAt,
	}
}

func toJobResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		SessionID:  j.SessionID,
		Kind:       string(j.Kind),
		Status:     string(j.Status),
		Progress:   j.Progress,
		Error:      j.Error,
		SourcePath: j.SourcePath,
		OutputPath: j.OutputPath,
		CoverPath:  j.CoverPath,
		Fallback:   j.Fallback,
		OutputURL:  j.OutputURL,
		CreatedAt:  j.CreatedAt,
		UpdatedAt:  j.UpdatedAt,
	}
}

func toJobList(jobs []*job.Job) JobListResponse {
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
