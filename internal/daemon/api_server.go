package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"vidmill/internal/api"
	"vidmill/internal/config"
	"vidmill/internal/logging"
	"vidmill/internal/queue"
	"vidmill/internal/services"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	jobSvc  *api.JobService
	limiter *rate.Limiter

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:    bind,
		logger:  logging.NewComponentLogger(logger, "api"),
		daemon:  d,
		jobSvc:  api.NewJobService(d.store),
		limiter: rate.NewLimiter(rate.Limit(cfg.Retention.SubmitRatePerSec), cfg.Retention.SubmitBurst),
	}

	r := chi.NewRouter()
	r.Get("/healthz", srv.handleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", srv.handleStatus)
		r.Post("/jobs", srv.handleSubmit)
		r.Get("/jobs", srv.handleListJobs)
		r.Get("/jobs/{jobID}", srv.handleGetJob)
		r.Post("/jobs/{jobID}/cancel", srv.handleCancel)
	})

	srv.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.daemon.Running() && s.daemon.dispatcher.Healthy() {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())

	disp := api.DispatcherStatus{
		Running:   status.Dispatcher.Running,
		LastError: status.Dispatcher.LastError,
		LastJobID: status.Dispatcher.LastJobID,
	}
	if !status.Dispatcher.LastSweep.IsZero() {
		disp.LastSweep = status.Dispatcher.LastSweep.UTC().Format(time.RFC3339)
	}
	for _, lane := range status.Dispatcher.Lanes {
		disp.Lanes = append(disp.Lanes, api.LaneStatus{Class: string(lane.Class), Workers: lane.Workers})
	}
	for _, health := range status.Dispatcher.StageHealth {
		disp.StageHealth = append(disp.StageHealth, api.StageHealth{
			Name:   health.Name,
			Ready:  health.Ready,
			Detail: health.Detail,
		})
	}

	depths := make(map[string]int, len(status.Dispatcher.StageDepths))
	for ordinal, count := range status.Dispatcher.StageDepths {
		depths[fmt.Sprintf("%d", ordinal)] = count
	}

	s.writeJSON(w, http.StatusOK, api.StatusResponse{
		Running:     status.Running,
		PID:         status.PID,
		JobStats:    api.MergeJobStats(status.Dispatcher.QueueStats),
		StageDepths: depths,
		Dispatcher:  disp,
		FreeSpaceMB: status.FreeSpaceMB,
		JobDBPath:   status.JobDBPath,
	})
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		s.writeError(w, http.StatusTooManyRequests, "submission rate limit exceeded")
		return
	}

	var req api.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.SourcePath) == "" {
		s.writeError(w, http.StatusBadRequest, "sourcePath is required")
		return
	}

	job, err := s.daemon.SubmitJob(r.Context(), req.SourcePath, req.Submitter, req.Priority)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.FromJob(job))
}

func (s *apiServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var states []queue.State
	for _, value := range r.URL.Query()["state"] {
		state, ok := queue.ParseState(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state %q", value))
			return
		}
		states = append(states, state)
	}

	jobs, err := s.jobSvc.List(r.Context(), states...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	detail, err := s.jobSvc.Describe(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if detail == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	job, err := s.daemon.store.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrAlreadyTerminal):
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job is already %s", job.State))
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	case job == nil:
		s.writeError(w, http.StatusNotFound, "job not found")
	default:
		s.writeJSON(w, http.StatusOK, api.FromJob(job))
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode api response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
