// Package api exposes the HTTP interface for the ETL service. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/areas and /v1/areas/{area_id}/export for registering areas and
//     requesting exports.
//   - GET /v1/areas/{area_id}/timeseries for the computed brightness series.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/energyprogress/nightlight-etl/internal/config"
	"github.com/energyprogress/nightlight-etl/internal/metrics"
	"github.com/energyprogress/nightlight-etl/internal/nightlight"
)

const dateLayout = "2006-01-02"

// AreaRepository is the area surface the API needs beyond the scheduler's
// read-only view.
type AreaRepository interface {
	Create(ctx context.Context, area nightlight.Area) error
	Get(ctx context.Context, areaID string) (nightlight.Area, error)
	List(ctx context.Context) ([]nightlight.Area, error)
}

// Server wires HTTP handlers to the stores.
type Server struct {
	router     chi.Router
	areas      AreaRepository
	jobs       nightlight.JobStore
	timeseries nightlight.TimeseriesStore
	idGen      nightlight.IDGenerator
	clock      nightlight.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	areas AreaRepository,
	jobs nightlight.JobStore,
	timeseries nightlight.TimeseriesStore,
	idGen nightlight.IDGenerator,
	clock nightlight.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		areas:      areas,
		jobs:       jobs,
		timeseries: timeseries,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/areas", func(r chi.Router) {
			r.Post("/", s.createArea)
			r.Get("/", s.listAreas)
			r.Route("/{area_id}", func(r chi.Router) {
				r.Get("/", s.getArea)
				r.Post("/export", s.requestExport)
				r.Get("/timeseries", s.listTimeseries)
			})
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/{job_id}", s.getJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Readiness leans on the job store: if listing works, the database path
	// the scheduler depends on is up.
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if _, err := s.jobs.ListPending(ctx, 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createAreaRequest struct {
	Name     string             `json:"name"`
	Geometry []nightlight.Point `json:"geometry"`
	Metadata map[string]string  `json:"metadata"`
}

func (s *Server) createArea(w http.ResponseWriter, r *http.Request) {
	var req createAreaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "area name is required")
		return
	}
	if len(req.Geometry) < 3 {
		writeError(w, http.StatusBadRequest, "geometry needs at least 3 vertices")
		return
	}
	id, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate area id")
		return
	}
	area := nightlight.Area{
		ID:        id,
		Name:      req.Name,
		Geometry:  nightlight.Polygon(req.Geometry),
		Metadata:  req.Metadata,
		CreatedAt: s.clock.Now(),
	}
	if err := s.areas.Create(r.Context(), area); err != nil {
		s.logger.Error("create area failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create area")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"area": area})
}

func (s *Server) listAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := s.areas.List(r.Context())
	if err != nil {
		s.logger.Error("list areas failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list areas")
		return
	}
	if areas == nil {
		areas = []nightlight.Area{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"areas": areas})
}

func (s *Server) getArea(w http.ResponseWriter, r *http.Request) {
	areaID := chi.URLParam(r, "area_id")
	area, err := s.areas.Get(r.Context(), areaID)
	if err != nil {
		if errors.Is(err, nightlight.ErrNotFound) {
			writeError(w, http.StatusNotFound, "area not found")
			return
		}
		s.logger.Error("get area failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load area")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"area": area})
}

type exportRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Source    string `json:"source"`
}

// requestExport enqueues an earth_engine_export job covering the requested
// date range. The scheduler picks it up on its next poll cycle.
func (s *Server) requestExport(w http.ResponseWriter, r *http.Request) {
	areaID := chi.URLParam(r, "area_id")
	if _, err := s.areas.Get(r.Context(), areaID); err != nil {
		if errors.Is(err, nightlight.ErrNotFound) {
			writeError(w, http.StatusNotFound, "area not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load area")
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := toExportParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate job id")
		return
	}
	now := s.clock.Now()
	job := nightlight.Job{
		ID:        jobID,
		AreaID:    areaID,
		Type:      nightlight.JobTypeExport,
		Status:    nightlight.JobStatusPending,
		Metadata:  nightlight.JobMetadata{Export: &params},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(r.Context(), job); err != nil {
		s.logger.Error("create export job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, nightlight.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) listTimeseries(w http.ResponseWriter, r *http.Request) {
	areaID := chi.URLParam(r, "area_id")
	from, err := parseDateParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseDateParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.timeseries.List(r.Context(), areaID, from, to)
	if err != nil {
		s.logger.Error("list timeseries failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list timeseries")
		return
	}
	if entries == nil {
		entries = []nightlight.TimeseriesEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeseries": entries})
}

func toExportParams(req exportRequest) (nightlight.ExportParams, error) {
	if req.StartDate == "" {
		return nightlight.ExportParams{}, errors.New("start_date is required")
	}
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return nightlight.ExportParams{}, fmt.Errorf("invalid start_date %q", req.StartDate)
	}
	params := nightlight.ExportParams{StartDate: start, Source: req.Source}
	if req.EndDate != "" {
		end, err := time.Parse(dateLayout, req.EndDate)
		if err != nil {
			return nightlight.ExportParams{}, fmt.Errorf("invalid end_date %q", req.EndDate)
		}
		if end.Before(start) {
			return nightlight.ExportParams{}, errors.New("end_date precedes start_date")
		}
		params.EndDate = end
	}
	return params, nil
}

func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q", name, raw)
	}
	return t, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
