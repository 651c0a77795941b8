package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"content-pipeline-engine/internal/config"
	"content-pipeline-engine/internal/control"
	"content-pipeline-engine/internal/models"
	"content-pipeline-engine/internal/ratelimit"
	"content-pipeline-engine/internal/store"
	"content-pipeline-engine/internal/telemetry"
)

// Server wires the control-plane HTTP surface consumed by the dashboard.
type Server struct {
	cfg      config.Config
	control  *control.Service
	limiter  *ratelimit.TokenBucket
	validate *validator.Validate
}

// New constructs the API server. limiter may be nil to disable enqueue rate
// limiting.
func New(cfg config.Config, ctrl *control.Service, limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:      cfg,
		control:  ctrl,
		limiter:  limiter,
		validate: validator.New(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/content/add", s.handleEnqueue)
	r.Get("/queue/status/{tenantID}", s.handleQueueStatus)
	r.Get("/content/{id}/workflow", s.handleWorkflow)

	r.Post("/content/queue/{id}/pause", s.transitionHandler(func(r *http.Request, id int64) error {
		return s.control.Pause(r.Context(), id)
	}))
	r.Post("/content/queue/{id}/resume", s.transitionHandler(func(r *http.Request, id int64) error {
		return s.control.Resume(r.Context(), id)
	}))
	r.Post("/content/queue/{id}/cancel", s.transitionHandler(func(r *http.Request, id int64) error {
		return s.control.Cancel(r.Context(), id)
	}))
	r.Post("/content/queue/{id}/retry", s.handleRetry)
	r.Delete("/content/queue/{id}", s.transitionHandler(func(r *http.Request, id int64) error {
		return s.control.Delete(r.Context(), id)
	}))
	r.Put("/calendar/reschedule/{id}", s.handleReschedule)
	r.Post("/posts/{id}/publish", s.transitionHandler(func(r *http.Request, id int64) error {
		return s.control.Approve(r.Context(), id)
	}))

	r.Post("/content/batch/pause", s.batchHandler(models.TransitionPause))
	r.Post("/content/batch/resume", s.batchHandler(models.TransitionResume))
	r.Post("/content/batch/retry", s.batchHandler(models.TransitionRetry))
	r.Post("/content/batch/delete", s.batchHandler(models.TransitionDelete))

	return r
}

type enqueueRequest struct {
	TenantID     string     `json:"tenant_id" validate:"required"`
	Title        string     `json:"title" validate:"required,min=3,max=300"`
	ScheduledFor *time.Time `json:"scheduled_for"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.limiter != nil {
		dec, err := s.limiter.Allow(r.Context(), req.TenantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !dec.Allowed {
			telemetry.RateLimitRejects.Inc()
			if secs := int(dec.RetryAfter.Round(time.Second).Seconds()); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	scheduledFor := time.Now()
	if req.ScheduledFor != nil {
		scheduledFor = *req.ScheduledFor
	}

	item, err := s.control.Enqueue(r.Context(), req.TenantID, req.Title, scheduledFor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	telemetry.ItemsEnqueued.Inc()
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	items, err := s.control.QueueForTenant(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []models.ContentItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	view, err := s.control.Workflow(r.Context(), id)
	if err != nil {
		s.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type retryRequest struct {
	FromStep *int `json:"from_step" validate:"omitempty,gte=0"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	var req retryRequest
	if r.Body != nil {
		// An absent or empty body means "re-run the failed step in place".
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := s.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := s.control.Retry(r.Context(), id, req.FromStep); err != nil {
		s.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rescheduleRequest struct {
	ScheduledFor time.Time `json:"scheduled_for" validate:"required"`
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.control.Reschedule(r.Context(), id, req.ScheduledFor); err != nil {
		s.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type batchRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

// batchHandler applies the operation per id; partial success is expected and
// every outcome is reported.
func (s *Server) batchHandler(op models.Transition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := s.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		results := s.control.Batch(r.Context(), op, req.IDs)
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

func (s *Server) transitionHandler(do func(r *http.Request, id int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := itemID(w, r)
		if !ok {
			return
		}
		if err := do(r, id); err != nil {
			s.writeTransitionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) writeTransitionError(w http.ResponseWriter, err error) {
	var invalid *control.InvalidTransitionError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "item not found")
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, invalid.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
