// Package server is the control surface: the REST API over projects,
// sessions, forks, and agents, plus the WebSocket endpoints relaying
// terminal frames and pushing state changes. It owns no domain logic; every
// handler is a thin translation between HTTP and the managers underneath.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/enruana/claude-orka/internal/agents"
	"github.com/enruana/claude-orka/internal/config"
	"github.com/enruana/claude-orka/internal/orchestrator"
	"github.com/enruana/claude-orka/internal/state"
	"github.com/enruana/claude-orka/internal/supervisor"
)

// shutdownGrace bounds how long in-flight requests may finish.
const shutdownGrace = 5 * time.Second

// Server wires the HTTP surface to the managers.
type Server struct {
	cfg        *config.Manager
	states     *state.Manager
	orch       *orchestrator.Manager
	agents     *agents.Registry
	supervisor *supervisor.Manager
	logger     *zap.Logger
}

// New creates the control surface.
func New(cfg *config.Manager, states *state.Manager, orch *orchestrator.Manager,
	registry *agents.Registry, sup *supervisor.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		states:     states,
		orch:       orch,
		agents:     registry,
		supervisor: sup,
		logger:     logger,
	}
}

// Router builds the route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleAddProject)
		r.Delete("/projects/{enc}", s.handleRemoveProject)
		r.Post("/projects/{enc}/uploads", s.handleUpload)

		r.Get("/sessions", s.handleListSessions)
		r.Post("/sessions", s.handleCreateSession)
		r.Post("/sessions/{id}/resume", s.handleResumeSession)
		r.Post("/sessions/{id}/close", s.handleCloseSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Post("/sessions/{id}/forks", s.handleCreateFork)
		r.Post("/sessions/{id}/forks/{forkID}/export", s.handleExportFork)
		r.Post("/sessions/{id}/forks/{forkID}/merge", s.handleMergeFork)
		r.Post("/sessions/{id}/forks/{forkID}/close", s.handleCloseFork)
		r.Post("/sessions/{id}/select-branch", s.handleSelectBranch)
		r.Get("/sessions/{id}/active-branch", s.handleActiveBranch)

		r.Get("/agents", s.handleListAgents)
		r.Post("/agents", s.handleAddAgent)
		r.Delete("/agents/{agentID}", s.handleRemoveAgent)
		r.Post("/agents/{agentID}/start", s.handleStartAgent)
		r.Post("/agents/{agentID}/stop", s.handleStopAgent)
		r.Get("/agents/{agentID}/log", s.handleAgentLog)
	})

	r.Get("/ws/terminal/{id}", s.handleTerminalWS)
	r.Get("/ws/state", s.handleStateWS)

	return r
}

// Serve runs the control surface until ctx is canceled, then drains.
func (s *Server) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("control surface listening", zap.String("addr", srv.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// encodeProject base64-encodes a project path for URL use.
func encodeProject(path string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(path))
}

// decodeProject reverses encodeProject, tolerating padded and standard
// alphabets from older clients.
func decodeProject(enc string) (string, error) {
	for _, e := range []*base64.Encoding{
		base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding,
	} {
		if b, err := e.DecodeString(enc); err == nil {
			return string(b), nil
		}
	}
	return "", fmt.Errorf("invalid project encoding: %q", enc)
}

// projectFromQuery resolves the ?project= parameter.
func projectFromQuery(r *http.Request) (string, error) {
	enc := r.URL.Query().Get("project")
	if enc == "" {
		return "", errors.New("missing project parameter")
	}
	return decodeProject(enc)
}

type errorEnvelope struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// statusFor maps core errors to HTTP semantics: unknown resources are 404,
// violated invariants 409, failing externals 502, cancellations an empty
// 200.
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return http.StatusOK
	case errors.Is(err, state.ErrSessionNotFound),
		errors.Is(err, state.ErrForkNotFound),
		errors.Is(err, agents.ErrAgentNotFound),
		errors.Is(err, config.ErrProjectNotFound),
		errors.Is(err, orchestrator.ErrBranchNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrActiveChildExists),
		errors.Is(err, orchestrator.ErrNoExport),
		errors.Is(err, orchestrator.ErrSessionNotActive),
		errors.Is(err, config.ErrProjectExists),
		errors.Is(err, agents.ErrAgentExists),
		errors.Is(err, supervisor.ErrAgentRunning),
		errors.Is(err, supervisor.ErrAgentNotRunning):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrUnavailable),
		errors.Is(err, orchestrator.ErrLaunch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusOK {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.writeJSON(w, status, errorEnvelope{
		Error:  http.StatusText(status),
		Detail: err.Error(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			s.logger.Warn("encoding response", zap.Error(err))
		}
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("parsing request body: %w", err)
	}
	return nil
}
