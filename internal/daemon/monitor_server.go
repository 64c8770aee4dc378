package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vidmill/internal/config"
	"vidmill/internal/logging"
)

// monitorServer exposes the read-only status surface on a second bind so
// dashboards can watch the pipeline without reaching the mutating API.
type monitorServer struct {
	bind   string
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

func newMonitorServer(cfg *config.Config, apiSrv *apiServer, logger *slog.Logger) *monitorServer {
	if cfg == nil || apiSrv == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.MonitorBind)
	if bind == "" || bind == strings.TrimSpace(cfg.Paths.APIBind) {
		return nil
	}

	r := chi.NewRouter()
	r.Get("/healthz", apiSrv.handleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", apiSrv.handleStatus)
		r.Get("/jobs", apiSrv.handleListJobs)
		r.Get("/jobs/{jobID}", apiSrv.handleGetJob)
	})

	return &monitorServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "monitor"),
		server: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

func (m *monitorServer) start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	listener, err := net.Listen("tcp", m.bind)
	if err != nil {
		return fmt.Errorf("monitor listen: %w", err)
	}
	m.listener = listener

	go func() {
		if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("monitor server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.server.Shutdown(shutdownCtx)
	}()

	m.logger.Info("monitor server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (m *monitorServer) stop() {
	if m == nil {
		return
	}
	if m.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.server.Shutdown(shutdownCtx)
	}
	if m.listener != nil {
		_ = m.listener.Close()
		m.listener = nil
	}
}

func (m *monitorServer) addr() string {
	if m == nil || m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}
